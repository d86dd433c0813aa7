package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var handoffCmd = &cobra.Command{
	Use:   "handoff",
	Short: "Manage agent handoffs",
}

var handoffReason string

var handoffStartCmd = &cobra.Command{
	Use:   "start <agent-id>",
	Short: "Instruct an agent to dump context and hand off to a successor",
	Long: `Instructs the agent to write a handoff document and exit. The daemon
observes the exit, verifies the document, and spawns the successor.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, closeAll, err := newManager()
		if err != nil {
			return fatal(err)
		}
		defer closeAll()

		artifact, err := mgr.StartHandoff(cmd.Context(), args[0], handoffReason)
		if err != nil {
			return fatal(err)
		}
		fmt.Printf("handoff started for %s\n", args[0])
		fmt.Printf("artifact: %s\n", artifact)
		fmt.Println("the successor will be spawned when the worker exits")
		return nil
	},
}

func init() {
	handoffStartCmd.Flags().StringVar(&handoffReason, "reason", "manual", "reason recorded on the handoff")
	handoffCmd.AddCommand(handoffStartCmd)
}

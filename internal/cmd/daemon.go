package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/samotage/claude-headspace-sub001/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the background service",
}

var daemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fatal(err)
		}
		d, err := daemon.New(cfg)
		if err != nil {
			return fatal(err)
		}
		if err := d.Run(); err != nil {
			return fatal(err)
		}
		return nil
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fatal(err)
		}
		running, pid, err := daemon.IsRunning(cfg)
		if err != nil {
			return fatal(err)
		}
		if !running {
			fmt.Println(deadStyle.Render("daemon is not running"))
			return nil
		}
		fmt.Println(liveStyle.Render(fmt.Sprintf("daemon is running (pid %d)", pid)))

		state, err := daemon.LoadState(cfg.DataDir)
		if err != nil {
			return fatal(err)
		}
		if !state.StartedAt.IsZero() {
			fmt.Printf("started: %s\n", state.StartedAt.Local().Format(time.DateTime))
		}
		if !state.LastHeartbeat.IsZero() {
			fmt.Printf("last heartbeat: %s (%d total)\n",
				state.LastHeartbeat.Local().Format(time.DateTime), state.HeartbeatCount)
		}
		return nil
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fatal(err)
		}
		if err := daemon.StopDaemon(cfg); err != nil {
			return fatal(err)
		}
		fmt.Println("daemon stopped")
		return nil
	},
}

func init() {
	daemonCmd.AddCommand(daemonRunCmd, daemonStatusCmd, daemonStopCmd)
}

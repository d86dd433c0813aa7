// Package cmd provides the CLI commands for the headspace tool.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/samotage/claude-headspace-sub001/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "headspace",
	Short: "Headspace - AI coding-agent fleet orchestrator",
	Long: `Headspace manages a fleet of AI coding-agent workers, each running
inside a tmux session. It tracks their conversational lifecycle, drives
their terminals, and supervises their health, death, and succession.`,
	SilenceUsage: true,
}

// Execute runs the root command and returns an exit code for main.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <data-dir>/headspace.toml)")
	rootCmd.AddCommand(agentCmd, handoffCmd, daemonCmd, doctorCmd, turnCmd)
}

// loadConfig loads the TOML config for a command invocation.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// fatal prints an error the way every subcommand reports failure.
func fatal(err error) error {
	fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
	return err
}

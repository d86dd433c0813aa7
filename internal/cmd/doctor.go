package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/samotage/claude-headspace-sub001/internal/daemon"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that headspace's dependencies are in place",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fatal(err)
		}

		failed := false
		check := func(name string, ok bool, detail string) {
			mark := liveStyle.Render("ok")
			if !ok {
				mark = errorStyle.Render("FAIL")
				failed = true
			}
			fmt.Printf("%-24s %s  %s\n", name, mark, detail)
		}

		path, err := exec.LookPath("tmux")
		check("tmux", err == nil, path)

		path, err = exec.LookPath(cfg.WorkerCommand)
		check("worker launcher", err == nil, fmt.Sprintf("%s (%s)", path, cfg.WorkerCommand))

		info, err := os.Stat(cfg.DataDir)
		check("data dir", err == nil && info.IsDir(), cfg.DataDir)

		running, pid, err := daemon.IsRunning(cfg)
		switch {
		case err != nil:
			check("daemon", false, err.Error())
		case running:
			check("daemon", true, fmt.Sprintf("running (pid %d)", pid))
		default:
			fmt.Printf("%-24s %s  %s\n", "daemon", warnStyle.Render("off"), "not running")
		}

		if failed {
			return fmt.Errorf("some checks failed")
		}
		return nil
	},
}

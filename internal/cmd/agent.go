package cmd

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/samotage/claude-headspace-sub001/internal/config"
	"github.com/samotage/claude-headspace-sub001/internal/events"
	"github.com/samotage/claude-headspace-sub001/internal/fleet"
	"github.com/samotage/claude-headspace-sub001/internal/store"
	"github.com/samotage/claude-headspace-sub001/internal/tmux"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage fleet agents",
}

var agentSpawnPersona string

var agentSpawnCmd = &cobra.Command{
	Use:   "spawn [workspace]",
	Short: "Spawn a new worker in a detached tmux session",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		workspace := "."
		if len(args) == 1 {
			workspace = args[0]
		}
		abs, err := filepath.Abs(workspace)
		if err != nil {
			return fatal(err)
		}
		mgr, closeAll, err := newManager()
		if err != nil {
			return fatal(err)
		}
		defer closeAll()

		agent, err := mgr.Create(cmd.Context(), abs, agentSpawnPersona, "")
		if err != nil {
			return fatal(err)
		}
		fmt.Printf("spawned agent %s\n", agent.ID)
		fmt.Printf("session: %s\n", agent.SessionName)
		return nil
	},
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, db, closeAll, err := open()
		if err != nil {
			return fatal(err)
		}
		defer closeAll()

		agents, err := db.ListAgents(cmd.Context())
		if err != nil {
			return fatal(err)
		}
		printAgents(os.Stdout, agents)
		return nil
	},
}

var agentShutdownCmd = &cobra.Command{
	Use:   "shutdown <agent-id>",
	Short: "Ask a worker to exit gracefully",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, closeAll, err := newManager()
		if err != nil {
			return fatal(err)
		}
		defer closeAll()

		if err := mgr.Shutdown(cmd.Context(), args[0]); err != nil {
			return fatal(err)
		}
		fmt.Printf("shutdown requested for %s\n", args[0])
		return nil
	},
}

var agentKillCmd = &cobra.Command{
	Use:   "kill <agent-id>",
	Short: "Force-terminate a worker's process group",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, closeAll, err := newManager()
		if err != nil {
			return fatal(err)
		}
		defer closeAll()

		if err := mgr.ForceTerminate(cmd.Context(), args[0]); err != nil {
			return fatal(err)
		}
		fmt.Printf("terminated %s\n", args[0])
		return nil
	},
}

var agentReviveCmd = &cobra.Command{
	Use:   "revive <agent-id>",
	Short: "Spawn a successor for a dead agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, closeAll, err := newManager()
		if err != nil {
			return fatal(err)
		}
		defer closeAll()

		successor, err := mgr.Revive(cmd.Context(), args[0])
		if err != nil {
			return fatal(err)
		}
		fmt.Printf("revived %s as %s\n", args[0], successor.ID)
		fmt.Printf("session: %s\n", successor.SessionName)
		return nil
	},
}

func init() {
	agentSpawnCmd.Flags().StringVar(&agentSpawnPersona, "persona", "", "persona for the new agent")
	agentCmd.AddCommand(agentSpawnCmd, agentListCmd, agentShutdownCmd, agentKillCmd, agentReviveCmd)
}

// open loads config and the database.
func open() (*config.Config, *store.DB, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, db, func() { _ = db.Close() }, nil
}

// newManager wires a fleet manager for a one-shot CLI invocation.
func newManager() (*fleet.Manager, func(), error) {
	cfg, db, closeDB, err := open()
	if err != nil {
		return nil, nil, err
	}
	bridge := tmux.New()
	bridge.CommandTimeout = cfg.Bridge.CommandTimeout.Std()
	bridge.EnterDelay = cfg.Bridge.EnterDelay.Std()
	bridge.KeyDelay = cfg.Bridge.KeyDelay.Std()

	logger := log.New(io.Discard, "", 0)
	if f, err := os.OpenFile(cfg.Daemon.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600); err == nil {
		logger = log.New(f, "", log.LstdFlags)
	}
	return fleet.NewManager(cfg, db, bridge, events.NewBus(), logger), closeDB, nil
}

func printAgents(w io.Writer, agents []*store.Agent) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, headerStyle.Render("ID\tSESSION\tPERSONA\tSTATE\tCONTEXT\tLAST SEEN"))
	for _, a := range agents {
		state := liveStyle.Render("live")
		if !a.Live() {
			state = deadStyle.Render("ended")
		}
		contextPct := "-"
		if a.ContextPercent != nil {
			contextPct = fmt.Sprintf("%d%%", *a.ContextPercent)
			if *a.ContextPercent <= 15 {
				contextPct = warnStyle.Render(contextPct)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			a.ID[:8], a.SessionName, orDash(a.Persona), state, contextPct,
			a.LastSeenAt.Local().Format(time.DateTime))
	}
	tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

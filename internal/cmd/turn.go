package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/samotage/claude-headspace-sub001/internal/convo"
	"github.com/samotage/claude-headspace-sub001/internal/events"
	"github.com/samotage/claude-headspace-sub001/internal/infer"
	"github.com/samotage/claude-headspace-sub001/internal/ratelimit"
)

var (
	turnActor string
	turnForce bool
)

// turnCmd is the ingestion point worker hook scripts call to report
// conversational events.
var turnCmd = &cobra.Command{
	Use:   "turn <agent-id> <text>",
	Short: "Apply one conversational turn to an agent's command lifecycle",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID := args[0]
		text := strings.Join(args[1:], " ")

		var actor convo.Actor
		switch turnActor {
		case "user":
			actor = convo.ActorUser
		case "agent":
			actor = convo.ActorAgent
		default:
			return fatal(fmt.Errorf("unknown actor %q (want user or agent)", turnActor))
		}

		cfg, db, closeAll, err := open()
		if err != nil {
			return fatal(err)
		}
		defer closeAll()
		ctx := cmd.Context()

		var summaries []convo.SummaryRequest
		machine := convo.NewMachine(db, events.NewBus(),
			convo.WithSummarizer(func(req convo.SummaryRequest) {
				summaries = append(summaries, req)
			}))

		var result *convo.Result
		if turnForce {
			result, err = machine.CompleteAnswer(ctx, agentID, text)
		} else {
			result, err = machine.ProcessTurn(ctx, agentID, actor, text)
		}
		var te *convo.TransitionError
		if errors.As(err, &te) {
			return fatal(fmt.Errorf("rejected: %s", te.Error()))
		}
		if err != nil {
			return fatal(err)
		}

		if err := db.TouchAgent(ctx, agentID, time.Now()); err != nil {
			fmt.Printf("warning: updating last-seen: %v\n", err)
		}
		fmt.Printf("%s -> %s\n", result.From, result.To)

		// Summarization is asynchronous work the transition only
		// requested; run it best-effort after the commit.
		if len(summaries) > 0 {
			client := infer.NewClient(
				infer.NewCLIBackend(cfg.WorkerCommand, 0),
				ratelimit.NewLimiter(cfg.RateLimit.CallsPerMinute, cfg.RateLimit.TokensPerMinute),
				ratelimit.NewCache(cfg.RateLimit.CacheTTL.Std()),
				infer.Options{
					Model:      cfg.Infer.Model,
					MaxRetries: cfg.Infer.MaxRetries,
					BackoffMin: cfg.Infer.BackoffMin.Std(),
					BackoffMax: cfg.Infer.BackoffMax.Std(),
				})
			for _, req := range summaries {
				summarize(ctx, client, req)
			}
		}
		return nil
	},
}

func summarize(ctx context.Context, client *infer.Client, req convo.SummaryRequest) {
	var prompt string
	switch req.Kind {
	case convo.SummaryAwaitingInput:
		prompt = fmt.Sprintf(
			"An agent working on the task below is blocked on a question. "+
				"Summarize the question in one sentence for a notification.\n\nTask: %s\nQuestion: %s",
			req.Instruction, req.Text)
	case convo.SummaryCompletion:
		prompt = fmt.Sprintf(
			"Summarize this completed coding task in one sentence.\n\nTask: %s\nResult: %s",
			req.Instruction, req.Text)
	}
	text, err := client.Infer(ctx, prompt)
	if err != nil {
		fmt.Printf("warning: summarization (%s): %v\n", req.Kind, err)
		return
	}
	fmt.Printf("%s: %s\n", req.Kind, text)
}

func init() {
	turnCmd.Flags().StringVar(&turnActor, "actor", "user", "who produced the turn: user or agent")
	turnCmd.Flags().BoolVar(&turnForce, "force-answer", false, "force-apply as an answer (operator override)")
}

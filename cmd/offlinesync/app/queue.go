package app

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/offlinesync/internal/sync/queue"
	"github.com/kimhsiao/offlinesync/internal/uuid"
)

// actionView is the printed form of a queued action.
type actionView struct {
	ID            string          `json:"id"`
	Kind          string          `json:"type"`
	Payload       json.RawMessage `json:"payload"`
	EnqueuedAt    time.Time       `json:"enqueuedAt"`
	RetryCount    int             `json:"retryCount"`
	NextAttemptAt *time.Time      `json:"nextAttemptAt,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
}

func viewActions(actions []queue.Action) []actionView {
	out := make([]actionView, len(actions))
	for i, a := range actions {
		out[i] = actionView{
			ID:         a.ID,
			Kind:       a.Kind,
			Payload:    a.Payload,
			EnqueuedAt: a.EnqueuedAt,
			RetryCount: a.RetryCount,
			LastError:  a.LastError,
		}
		if !a.NextAttemptAt.IsZero() {
			t := a.NextAttemptAt
			out[i].NextAttemptAt = &t
		}
	}
	return out
}

func printActions(w io.Writer, actions []queue.Action, asJSON bool) error {
	if asJSON {
		return printJSON(w, viewActions(actions))
	}
	if len(actions) == 0 {
		_, err := fmt.Fprintln(w, "no actions")
		return err
	}
	for _, a := range actions {
		line := fmt.Sprintf("%s\t%s\tretries=%d\t%s", a.ID, a.Kind, a.RetryCount, string(a.Payload))
		if a.LastError != "" {
			line += "\terror=" + a.LastError
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func (c *cli) newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and edit the pending action queue",
	}

	add := &cobra.Command{
		Use:   "add <kind> [payload-json]",
		Short: "Enqueue an action",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := json.RawMessage("null")
			if len(args) == 2 {
				if !json.Valid([]byte(args[1])) {
					return fmt.Errorf("payload is not valid JSON")
				}
				payload = json.RawMessage(args[1])
			}

			e, err := c.open(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			id, err := e.queue.Enqueue(cmd.Context(), args[0], payload)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List pending actions in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := c.open(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			asJSON, _ := cmd.Flags().GetBool(flagJSON)
			return printActions(cmd.OutOrStdout(), e.queue.List(cmd.Context()), asJSON)
		},
	}
	list.Flags().Bool(flagJSON, false, "Print JSON")

	remove := &cobra.Command{
		Use:   "remove <id>...",
		Short: "Remove actions by id",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := c.open(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			for _, id := range args {
				if err := uuid.Validate(id); err != nil {
					return err
				}
			}
			for _, id := range args {
				if err := e.queue.Remove(cmd.Context(), id); err != nil {
					return err
				}
			}
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every pending action",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := c.open(nil)
			if err != nil {
				return err
			}
			defer e.Close()
			return e.queue.Clear(cmd.Context())
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print queue statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := c.open(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			s := e.queue.Stats(cmd.Context())
			if asJSON, _ := cmd.Flags().GetBool(flagJSON); asJSON {
				return printJSON(cmd.OutOrStdout(), map[string]int{
					"pending":      s.Pending,
					"ready":        s.Ready,
					"deadLettered": s.DeadLettered,
				})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "pending=%d ready=%d dead_lettered=%d\n",
				s.Pending, s.Ready, s.DeadLettered)
			return err
		},
	}
	stats.Flags().Bool(flagJSON, false, "Print JSON")

	deadLetters := &cobra.Command{
		Use:   "dead-letters",
		Short: "List actions that exhausted the retry policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := c.open(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			if discard, _ := cmd.Flags().GetBool("clear"); discard {
				return e.queue.ClearDeadLetters(cmd.Context())
			}
			asJSON, _ := cmd.Flags().GetBool(flagJSON)
			return printActions(cmd.OutOrStdout(), e.queue.DeadLetters(cmd.Context()), asJSON)
		},
	}
	deadLetters.Flags().Bool(flagJSON, false, "Print JSON")
	deadLetters.Flags().Bool("clear", false, "Discard the dead letters instead of listing them")

	retryDead := &cobra.Command{
		Use:   "retry-dead",
		Short: "Move dead letters back to the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := c.open(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := e.queue.RetryDeadLetters(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "requeued %d\n", n)
			return err
		},
	}

	cmd.AddCommand(add, list, remove, clearCmd, stats, deadLetters, retryDead)
	return cmd
}

// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rigup-org/rigup/internal/events"
	"github.com/rigup-org/rigup/internal/paths"
	"github.com/rigup-org/rigup/internal/runlog"

	"github.com/spf13/cobra"
)

func NewHistoryCmd() *cobra.Command {
	var (
		limit     int
		asJSON    bool
		eventsRun string
	)
	c := &cobra.Command{
		Use:   "history",
		Short: "List recorded provisioning runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyDataDirFlag(cmd)
			ctx := cmd.Context()

			db, err := runlog.Open(ctx, runlog.Options{DataDir: paths.DataDir()})
			if err != nil {
				return fmt.Errorf("opening run journal: %w", err)
			}
			defer db.Close()

			if eventsRun != "" {
				em := events.NewEmitter(os.Stdout, asJSON)
				n, err := replayRunEvents(ctx, runlog.NewJournal(db, 0), eventsRun, em)
				if err != nil {
					return err
				}
				if n == 0 {
					fmt.Printf("(no recorded events for run %s)\n", eventsRun)
				}
				return nil
			}

			runs, err := db.ListRuns(ctx, limit)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}

			if len(runs) == 0 {
				fmt.Println("(no recorded runs)")
				return nil
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tSTATUS\tSTARTED\tDURATION\tOK\tSKIP\tFAIL")
			for _, r := range runs {
				duration := "-"
				if r.FinishedAt != nil {
					duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\n",
					r.ID, r.Status, r.StartedAt.Format(time.RFC3339), duration,
					r.Succeeded, r.Skipped, r.Failed)
			}
			return tw.Flush()
		},
	}
	c.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")
	c.Flags().BoolVar(&asJSON, "json", false, "Output runs (or replayed events) as JSON")
	c.Flags().StringVar(&eventsRun, "events", "", "Replay the recorded event stream for a run id")
	c.Flags().String("data-dir", "", "Override the rigup data directory")
	return c
}

// replayRunEvents streams a run's persisted journal entries back through an
// emitter, keeping the recorded sequence and timestamps. The sink stores
// unit/channel/message inside the payload; they are lifted back into the
// event envelope here so text rendering matches the live stream.
func replayRunEvents(ctx context.Context, j *runlog.Journal, runID string, em *events.Emitter) (int, error) {
	var n int
	err := j.ForEach(ctx, runID, 0, func(entry runlog.JournalEntry) error {
		ev := events.RunEvent{
			Sequence:  entry.Seq,
			Timestamp: entry.Timestamp,
			Type:      entry.EventType,
			RunID:     runID,
		}
		if err := json.Unmarshal(entry.Payload, &ev.Data); err != nil {
			return fmt.Errorf("decode journal entry seq=%d: %w", entry.Seq, err)
		}
		if unit, ok := ev.Data["unit"].(string); ok {
			ev.Unit = unit
			delete(ev.Data, "unit")
		}
		if channel, ok := ev.Data["channel"].(string); ok {
			ev.Channel = channel
			delete(ev.Data, "channel")
		}
		if message, ok := ev.Data["message"].(string); ok {
			ev.Message = message
			delete(ev.Data, "message")
		}
		em.Replay(ev)
		n++
		return nil
	})
	return n, err
}

// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rigup-org/rigup/internal/engine"
	"github.com/rigup-org/rigup/internal/events"
	"github.com/rigup-org/rigup/internal/logging"
	"github.com/rigup-org/rigup/internal/manifest"
	"github.com/rigup-org/rigup/internal/paths"
	"github.com/rigup-org/rigup/internal/report"
	"github.com/rigup-org/rigup/internal/retryexec"
	"github.com/rigup-org/rigup/internal/runlog"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func NewApplyCmd() *cobra.Command {
	var (
		only        []string
		dryRun      bool
		interactive bool
		eventsMode  string
		reportFmt   string
		reportFile  string
		noJournal   bool
		concurrency int
		autoUpdate  bool
	)
	c := &cobra.Command{
		Use:   "apply",
		Short: "Install or update every unit declared in the manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyDataDirFlag(cmd)
			manifestPath, verbose, quiet := commonOptions(cmd.Flags())
			log := logging.New(os.Stderr, verbose, quiet)

			m, err := manifest.Load(manifestPath)
			if err != nil {
				return err
			}
			if autoUpdate {
				m.AutoUpdate = true
			}

			var sinks []events.Sink
			switch eventsMode {
			case "":
			case "ndjson":
				sinks = append(sinks, events.NewEmitter(os.Stdout, true))
			case "text":
				sinks = append(sinks, events.NewEmitter(os.Stdout, false))
			default:
				return fmt.Errorf("unknown events mode: %s (use ndjson or text)", eventsMode)
			}

			ctx := cmd.Context()
			var db *runlog.DB
			if !noJournal {
				db, err = runlog.Open(ctx, runlog.Options{DataDir: paths.DataDir()})
				if err != nil {
					log.Warn().Err(err).Msg("run journal unavailable, continuing without it")
					db = nil
				} else {
					defer db.Close()
					if sink := runlog.NewSink(runlog.NewJournal(db, 0), log); sink != nil {
						sinks = append(sinks, sink)
					}
				}
			}

			var prompter retryexec.Prompter
			if interactive {
				if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
					prompter = &retryexec.StdioPrompter{In: os.Stdin, Out: os.Stderr}
				} else {
					log.Warn().Msg("stdin is not a terminal, interactive retries disabled")
					interactive = false
				}
			}

			runner := engine.New(engine.Config{
				Manifest:     m,
				ManifestPath: manifestPath,
				Only:         only,
				DryRun:       dryRun,
				Interactive:  interactive,
				Concurrency:  concurrency,
				Prompter:     prompter,
				Log:          log,
				Events:       events.NewCompositeSink(sinks...),
				Stdout:       os.Stdout,
				Stderr:       os.Stderr,
			})

			if err := db.RecordStart(ctx, runner.RunID(), manifestPath, time.Now().UTC()); err != nil {
				log.Warn().Err(err).Msg("could not record run start")
			}
			rep := runner.Run(ctx)
			skipped, succeeded, failed := rep.Counts()
			if err := db.RecordFinish(ctx, runner.RunID(), rep.RunStatus(), skipped, succeeded, failed, time.Now().UTC()); err != nil {
				log.Warn().Err(err).Msg("could not record run finish")
			}

			if err := writeReport(reportFmt, reportFile, runner.RunID(), rep); err != nil {
				return err
			}
			if !noJournal {
				archiveRunReport(log, runner.RunID(), rep)
			}

			log.Info().
				Str("run", runner.RunID()).
				Int("skipped", skipped).
				Int("succeeded", succeeded).
				Int("failed", failed).
				Msg("run finished")

			if failedEntries := rep.Failed(); len(failedEntries) > 0 {
				names := make([]string, 0, len(failedEntries))
				for _, e := range failedEntries {
					names = append(names, e.Name)
				}
				return fmt.Errorf("provisioning failed: %s", strings.Join(names, ", "))
			}
			return nil
		},
	}
	addCommonFlags(c)
	c.Flags().StringSliceVarP(&only, "only", "u", nil, "Run only the named units")
	c.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would be done without executing")
	c.Flags().BoolVarP(&interactive, "interactive", "i", false, "Ask whether to keep retrying after the attempt bound")
	c.Flags().StringVar(&eventsMode, "events", "", "Stream run events to stdout (ndjson|text)")
	c.Flags().StringVar(&reportFmt, "report", "", "Report format (json|yaml)")
	c.Flags().StringVar(&reportFile, "report-file", "", "Write the run report to a file")
	c.Flags().BoolVar(&noJournal, "no-journal", false, "Do not persist this run to the local journal")
	c.Flags().IntVar(&concurrency, "concurrency", 0, "Parallel download workers (overrides the manifest)")
	c.Flags().BoolVar(&autoUpdate, "auto-update", false, "Run update actions for units that are already installed")
	return c
}

// archiveRunReport persists the run report as a JSON artifact under the
// run's data directory so it survives after the terminal scrolls away.
// Archival is best-effort and never fails the run.
func archiveRunReport(log zerolog.Logger, runID string, rep *report.Report) {
	if _, err := paths.EnsureDataPath("runs", runID); err != nil {
		log.Warn().Err(err).Msg("could not create run artifact dir")
		return
	}
	path := filepath.Join(paths.RunDir(runID), "report.json")
	if err := writeReport("json", path, runID, rep); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("could not archive run report")
		return
	}
	log.Debug().Str("path", path).Msg("run report archived")
}

type runReport struct {
	RunID     string         `json:"run_id" yaml:"run_id"`
	Status    string         `json:"status" yaml:"status"`
	Skipped   int            `json:"skipped" yaml:"skipped"`
	Succeeded int            `json:"succeeded" yaml:"succeeded"`
	Failed    int            `json:"failed" yaml:"failed"`
	Entries   []report.Entry `json:"entries" yaml:"entries"`
}

func writeReport(format, file, runID string, rep *report.Report) error {
	if format == "" && file == "" {
		return nil
	}
	if format == "" {
		format = "json"
	}

	skipped, succeeded, failed := rep.Counts()
	payload := runReport{
		RunID:     runID,
		Status:    rep.RunStatus(),
		Skipped:   skipped,
		Succeeded: succeeded,
		Failed:    failed,
		Entries:   rep.Entries(),
	}

	var out io.Writer = os.Stdout
	if file != "" {
		f, err := os.Create(file)
		if err != nil {
			return fmt.Errorf("creating report file: %w", err)
		}
		defer f.Close()
		out = f
	}

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(payload)
	case "yaml":
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(payload)
	default:
		return fmt.Errorf("unknown report format: %s (use json or yaml)", format)
	}
}

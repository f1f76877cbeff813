// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/rigup-org/rigup/internal/engine"
	"github.com/rigup-org/rigup/internal/logging"
	"github.com/rigup-org/rigup/internal/manifest"

	"github.com/spf13/cobra"
)

// NewFetchCmd downloads artifacts without touching install units. With no
// arguments every download unit runs; otherwise only the named ones.
func NewFetchCmd() *cobra.Command {
	var concurrency int
	c := &cobra.Command{
		Use:   "fetch [unit...]",
		Short: "Download artifacts for download units only",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyDataDirFlag(cmd)
			manifestPath, verbose, quiet := commonOptions(cmd.Flags())
			log := logging.New(os.Stderr, verbose, quiet)

			m, err := manifest.Load(manifestPath)
			if err != nil {
				return err
			}

			downloadable := make(map[string]bool, len(m.Units))
			var only []string
			for i := range m.Units {
				u := &m.Units[i]
				if u.Download == nil {
					continue
				}
				downloadable[u.Name] = true
				if len(args) == 0 {
					only = append(only, u.Name)
				}
			}
			for _, name := range args {
				if !downloadable[name] {
					return fmt.Errorf("not a download unit: %s", name)
				}
				only = append(only, name)
			}
			if len(only) == 0 {
				log.Info().Msg("no download units in manifest")
				return nil
			}

			runner := engine.New(engine.Config{
				Manifest:     m,
				ManifestPath: manifestPath,
				Only:         only,
				Concurrency:  concurrency,
				Log:          log,
				Stdout:       os.Stdout,
				Stderr:       os.Stderr,
			})
			rep := runner.Run(cmd.Context())
			if failed := rep.Failed(); len(failed) > 0 {
				names := make([]string, 0, len(failed))
				for _, e := range failed {
					names = append(names, e.Name)
				}
				return fmt.Errorf("fetch failed: %s", strings.Join(names, ", "))
			}
			return nil
		},
	}
	addCommonFlags(c)
	c.Flags().IntVar(&concurrency, "concurrency", 0, "Parallel download workers (overrides the manifest)")
	return c
}

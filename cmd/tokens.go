// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rigup-org/rigup/internal/creds"
	"github.com/rigup-org/rigup/internal/logging"
	"github.com/rigup-org/rigup/internal/manifest"

	"github.com/spf13/cobra"
)

// NewTokensCmd shows which credential rules have a token in the current
// environment. With --check each token is also probed against the
// registry, which needs network access.
func NewTokensCmd() *cobra.Command {
	var check bool
	c := &cobra.Command{
		Use:   "tokens",
		Short: "Show credential rules and token availability",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifestPath, verbose, quiet := commonOptions(cmd.Flags())
			log := logging.New(os.Stderr, verbose, quiet)

			m, err := manifest.Load(manifestPath)
			if err != nil {
				return err
			}
			if len(m.Credentials) == 0 {
				fmt.Println("(no credential rules in manifest)")
				return nil
			}

			resolver := creds.NewResolver(m.Credentials)
			prober := creds.NewProber(log)

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			if check {
				fmt.Fprintln(tw, "HOST\tENV\tTOKEN\tVALID")
			} else {
				fmt.Fprintln(tw, "HOST\tENV\tTOKEN")
			}
			for _, rule := range m.Credentials {
				token := resolver.Token(rule)
				set := "unset"
				if token != "" {
					set = "set"
				}
				if !check {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", rule.Host, rule.Env, set)
					continue
				}
				valid := "-"
				if rule.ProbeURL == "" {
					valid = "(no probe)"
				} else if token != "" {
					if prober.HasValidToken(cmd.Context(), rule.ProbeURL, token) {
						valid = "yes"
					} else {
						valid = "no"
					}
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rule.Host, rule.Env, set, valid)
			}
			return tw.Flush()
		},
	}
	addCommonFlags(c)
	c.Flags().BoolVar(&check, "check", false, "Probe each token against its registry")
	return c
}

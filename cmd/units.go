// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rigup-org/rigup/internal/manifest"
	"github.com/rigup-org/rigup/internal/types"

	"github.com/spf13/cobra"
)

func NewUnitsCmd() *cobra.Command {
	var asJSON bool
	c := &cobra.Command{
		Use:   "units",
		Short: "List the units declared in the manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifestPath, _, _ := commonOptions(cmd.Flags())
			m, err := manifest.Load(manifestPath)
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(m.Units)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tCHECK\tRETRIES\tSTATE")
			for i := range m.Units {
				u := &m.Units[i]
				state := "enabled"
				if u.Disabled {
					state = "disabled"
				}
				policy := m.PolicyFor(u)
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", u.Name, u.Kind(), describeCheck(u.Check), policy.MaxAttempts, state)
			}
			return tw.Flush()
		},
	}
	addCommonFlags(c)
	c.Flags().BoolVar(&asJSON, "json", false, "Output units as JSON")
	return c
}

func describeCheck(check *types.PresenceCheck) string {
	switch {
	case check == nil:
		return "(none)"
	case check.Path != "":
		return "path:" + check.Path
	default:
		return "cmd:" + strings.Join(check.Command, " ")
	}
}

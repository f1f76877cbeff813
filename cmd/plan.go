// SPDX-License-Identifier: AGPL-3.0-or-later
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rigup-org/rigup/internal/gate"
	"github.com/rigup-org/rigup/internal/manifest"
	"github.com/rigup-org/rigup/internal/types"

	"github.com/spf13/cobra"
)

type planRow struct {
	Unit   string `json:"unit"`
	Kind   string `json:"kind"`
	Action string `json:"action"`
	Reason string `json:"reason,omitempty"`
}

func NewPlanCmd() *cobra.Command {
	var asJSON bool
	c := &cobra.Command{
		Use:   "plan",
		Short: "Preview what apply would do (no execution)",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifestPath, _, _ := commonOptions(cmd.Flags())
			m, err := manifest.Load(manifestPath)
			if err != nil {
				return err
			}

			rows := make([]planRow, 0, len(m.Units))
			for i := range m.Units {
				rows = append(rows, planUnit(cmd.Context(), m, &m.Units[i]))
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "UNIT\tKIND\tACTION\tREASON")
			for _, r := range rows {
				reason := r.Reason
				if reason == "" {
					reason = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Unit, r.Kind, r.Action, reason)
			}
			return tw.Flush()
		},
	}
	addCommonFlags(c)
	c.Flags().BoolVar(&asJSON, "json", false, "Output the plan as JSON")
	return c
}

func planUnit(ctx context.Context, m *types.Manifest, u *types.Unit) planRow {
	row := planRow{Unit: u.Name, Kind: u.Kind()}

	if u.Disabled {
		row.Action = "skip"
		row.Reason = "disabled"
		return row
	}

	satisfied := gate.Satisfied(ctx, m.Workspace, u.Check)
	switch {
	case satisfied && m.AutoUpdate && u.Update != nil:
		row.Action = "update"
		row.Reason = "installed, auto-update enabled"
	case satisfied:
		row.Action = "skip"
		row.Reason = "already installed"
	case u.Download != nil:
		row.Action = "download"
	default:
		row.Action = "install"
	}
	return row
}

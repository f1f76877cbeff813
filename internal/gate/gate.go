// SPDX-License-Identifier: AGPL-3.0-or-later

// Package gate evaluates unit presence checks before any install action runs.
package gate

import (
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/rigup-org/rigup/internal/paths"
	"github.com/rigup-org/rigup/internal/types"
)

// Satisfied reports whether the unit's presence check already holds. A nil
// check means the unit always runs. A check that itself errors (missing
// command, unreadable path) counts as "not present" rather than failing
// the run.
func Satisfied(ctx context.Context, workspace string, check *types.PresenceCheck) bool {
	if check == nil {
		return false
	}
	if check.Path != "" {
		_, err := os.Stat(paths.Resolve(workspace, check.Path))
		return err == nil
	}
	if len(check.Command) > 0 {
		cmd := exec.CommandContext(ctx, check.Command[0], check.Command[1:]...)
		cmd.Dir = workspace
		cmd.Stdout = io.Discard
		cmd.Stderr = io.Discard
		return cmd.Run() == nil
	}
	return false
}

// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retryexec runs install actions under a bounded retry policy with
// optional interactive escalation.
package retryexec

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Policy bounds automatic attempts for one action.
type Policy struct {
	MaxAttempts int
	Backoff     time.Duration
	Interactive bool
}

// Prompter asks the operator whether to keep retrying once the automatic
// bound is reached. A nil Prompter means the context is non-interactive.
type Prompter interface {
	RetryAgain(desc string, attempts int) bool
}

// StdioPrompter reads a y/N answer from In.
type StdioPrompter struct {
	In  io.Reader
	Out io.Writer
}

func (p *StdioPrompter) RetryAgain(desc string, attempts int) bool {
	fmt.Fprintf(p.Out, "%s failed %d time(s). Keep retrying? [y/N] ", desc, attempts)
	reader := bufio.NewReader(p.In)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// Executor applies a retry policy to actions. Sleep is injectable so tests
// run without waiting.
type Executor struct {
	Policy   Policy
	Prompter Prompter
	Sleep    func(time.Duration)
	Log      zerolog.Logger
}

// New returns an executor with real sleeping.
func New(policy Policy, prompter Prompter, log zerolog.Logger) *Executor {
	return &Executor{Policy: policy, Prompter: prompter, Sleep: time.Sleep, Log: log}
}

// Execute runs fn until it succeeds, the attempt bound is reached, or the
// context is cancelled. It returns the total number of attempts made and
// the final error (nil on success). The attempt window resets when an
// interactive operator answers affirmatively; non-interactive runs abandon
// exactly at the bound.
func (e *Executor) Execute(ctx context.Context, desc string, fn func(context.Context) error) (int, error) {
	max := e.Policy.MaxAttempts
	if max <= 0 {
		max = 1
	}
	sleep := e.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	total := 0
	window := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		total++
		window++

		err := fn(ctx)
		if err == nil {
			if total > 1 {
				e.Log.Info().Str("action", desc).Int("attempts", total).Msg("recovered after retry")
			}
			return total, nil
		}

		e.Log.Warn().Str("action", desc).Int("attempt", window).Int("max", max).Err(err).Msg("attempt failed")

		if window < max {
			sleep(e.Policy.Backoff)
			continue
		}

		if e.Policy.Interactive && e.Prompter != nil && e.Prompter.RetryAgain(desc, total) {
			e.Log.Info().Str("action", desc).Msg("operator requested further retries")
			window = 0
			continue
		}

		e.Log.Error().Str("action", desc).Int("attempts", total).Err(err).Msg("giving up")
		return total, fmt.Errorf("%s: %w", desc, err)
	}
}

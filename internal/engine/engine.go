// SPDX-License-Identifier: AGPL-3.0-or-later

// Package engine drives the unit registry through the idempotency gate,
// the retry executor and the download orchestrator, accumulating a run
// report.
package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/rigup-org/rigup/internal/creds"
	"github.com/rigup-org/rigup/internal/events"
	"github.com/rigup-org/rigup/internal/fetch"
	"github.com/rigup-org/rigup/internal/gate"
	"github.com/rigup-org/rigup/internal/paths"
	"github.com/rigup-org/rigup/internal/report"
	"github.com/rigup-org/rigup/internal/retryexec"
	"github.com/rigup-org/rigup/internal/types"
	"github.com/rs/zerolog"
)

// Config carries everything a run needs. Values are resolved once by the
// caller; the engine never consults the environment itself.
type Config struct {
	Manifest     *types.Manifest
	ManifestPath string
	RunID        string
	Only         []string
	DryRun       bool
	Interactive  bool
	Concurrency  int

	Client   *http.Client
	Prompter retryexec.Prompter
	Sleep    func(time.Duration)
	Log      zerolog.Logger
	Events   events.Sink
	Stdout   io.Writer
	Stderr   io.Writer
}

// Runner executes one provisioning run.
type Runner struct {
	cfg      Config
	resolver *creds.Resolver
	prober   *creds.Prober
	redactor func(string) string
}

// New builds a runner. The credential environment is snapshotted here.
func New(cfg Config) *Runner {
	if cfg.RunID == "" {
		cfg.RunID = events.GenerateRunID()
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = cfg.Manifest.Concurrency
	}
	resolver := creds.NewResolver(cfg.Manifest.Credentials)
	return &Runner{
		cfg:      cfg,
		resolver: resolver,
		prober:   &creds.Prober{Client: cfg.Client, Log: cfg.Log},
		redactor: events.NewLineRedactor(resolver.Secrets()),
	}
}

// NewWithResolver is New with an injected resolver and prober, for tests.
func NewWithResolver(cfg Config, resolver *creds.Resolver, prober *creds.Prober) *Runner {
	r := New(cfg)
	r.resolver = resolver
	if prober != nil {
		r.prober = prober
	}
	r.redactor = events.NewLineRedactor(resolver.Secrets())
	return r
}

// RunID returns the identifier for this run.
func (r *Runner) RunID() string { return r.cfg.RunID }

// Run processes every unit in declaration order. One unit's failure never
// prevents later units from being attempted; the report carries the
// aggregate outcome.
func (r *Runner) Run(ctx context.Context) *report.Report {
	m := r.cfg.Manifest
	rep := report.New()
	log := r.cfg.Log

	if r.cfg.Events != nil {
		r.cfg.Events.EmitRunStart(r.cfg.RunID, r.cfg.ManifestPath)
	}

	if err := os.MkdirAll(m.Workspace, 0o755); err != nil {
		log.Error().Err(err).Str("workspace", m.Workspace).Msg("cannot create workspace")
		for i := range m.Units {
			rep.Add(report.Entry{
				Name:   m.Units[i].Name,
				Kind:   "unit",
				Status: report.StatusFailed,
				Error:  fmt.Sprintf("workspace unavailable: %v", err),
			})
		}
		r.finish(rep)
		return rep
	}

	only := make(map[string]struct{}, len(r.cfg.Only))
	for _, name := range r.cfg.Only {
		only[name] = struct{}{}
	}

	for i := range m.Units {
		u := &m.Units[i]
		if len(only) > 0 {
			if _, wanted := only[u.Name]; !wanted {
				log.Debug().Str("unit", u.Name).Msg("not selected, ignoring")
				continue
			}
		}
		r.runUnit(ctx, u, rep)
	}

	r.finish(rep)
	return rep
}

func (r *Runner) finish(rep *report.Report) {
	if r.cfg.Events != nil {
		r.cfg.Events.EmitRunFinish(r.cfg.RunID, rep.RunStatus(), nil)
	}
}

func (r *Runner) runUnit(ctx context.Context, u *types.Unit, rep *report.Report) {
	m := r.cfg.Manifest
	log := r.cfg.Log

	if u.Disabled {
		log.Info().Str("unit", u.Name).Msg("disabled, skipping")
		r.skip(u.Name, "disabled", rep)
		return
	}

	satisfied := gate.Satisfied(ctx, m.Workspace, u.Check)
	updating := satisfied && m.AutoUpdate && u.Update != nil

	if satisfied && !updating {
		log.Info().Str("unit", u.Name).Msg("already installed, skipping")
		r.skip(u.Name, "already installed", rep)
		return
	}

	if r.cfg.DryRun {
		verb := "install"
		if updating {
			verb = "update"
		}
		log.Info().Str("unit", u.Name).Msgf("dry-run: would %s", verb)
		r.skip(u.Name, "dry-run", rep)
		return
	}

	if r.cfg.Events != nil {
		r.cfg.Events.EmitUnitStart(r.cfg.RunID, u.Name)
	}

	policy := m.PolicyFor(u)
	execPolicy := retryexec.Policy{
		MaxAttempts: policy.MaxAttempts,
		Backoff:     time.Duration(policy.BackoffSeconds) * time.Second,
		Interactive: policy.Interactive && r.cfg.Interactive && r.cfg.Prompter != nil,
	}

	start := time.Now()
	var (
		attempts int
		err      error
		status   report.Status
		kind     = "unit"
	)

	switch {
	case updating:
		kind = "update"
		attempts, err = r.runCommandAction(ctx, u.Name, "update "+u.Name, u.Update, execPolicy)
		status = statusFromErr(err)
	case u.Run != nil:
		attempts, err = r.runCommandAction(ctx, u.Name, "install "+u.Name, u.Run, execPolicy)
		status = statusFromErr(err)
	case u.Download != nil:
		status, attempts, err = r.runDownload(ctx, u, execPolicy, rep)
	default:
		err = fmt.Errorf("unit %s has no action", u.Name)
		status = report.StatusFailed
	}

	entry := report.Entry{
		Name:     u.Name,
		Kind:     kind,
		Status:   status,
		Attempts: attempts,
		Duration: time.Since(start),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	rep.Add(entry)
	if r.cfg.Events != nil {
		r.cfg.Events.EmitUnitFinish(r.cfg.RunID, u.Name, string(status), attempts, err)
	}
}

func (r *Runner) skip(name, reason string, rep *report.Report) {
	rep.Add(report.Entry{Name: name, Kind: "unit", Status: report.StatusSkipped, Detail: reason})
	if r.cfg.Events != nil {
		r.cfg.Events.EmitUnitSkip(r.cfg.RunID, name, reason)
	}
}

func statusFromErr(err error) report.Status {
	if err != nil {
		return report.StatusFailed
	}
	return report.StatusSucceeded
}

func (r *Runner) runCommandAction(ctx context.Context, unit, desc string, action *types.CommandAction, policy retryexec.Policy) (int, error) {
	executor := &retryexec.Executor{
		Policy:   policy,
		Prompter: r.cfg.Prompter,
		Sleep:    r.cfg.Sleep,
		Log:      r.cfg.Log,
	}
	return executor.Execute(ctx, desc, func(ctx context.Context) error {
		return r.runCommand(ctx, unit, action)
	})
}

// runCommand invokes an external collaborator tool. Only the exit status
// is observed; output is teed to the console and the event stream with
// secrets redacted.
func (r *Runner) runCommand(ctx context.Context, unit string, action *types.CommandAction) error {
	cmd := exec.CommandContext(ctx, action.Command[0], action.Command[1:]...)
	cmd.Dir = paths.Resolve(r.cfg.Manifest.Workspace, action.Dir)

	env := append(os.Environ(), "RIGUP_WORKSPACE="+r.cfg.Manifest.Workspace)
	for k, v := range action.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	stdout := events.NewLineWriter(r.cfg.Events, r.cfg.RunID, unit, "stdout", r.cfg.Stdout, r.redactor)
	stderr := events.NewLineWriter(r.cfg.Events, r.cfg.RunID, unit, "stderr", r.cfg.Stderr, r.redactor)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	stdout.Flush()
	stderr.Flush()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("%s: exit status %d", action.Command[0], exitErr.ExitCode())
		}
		return fmt.Errorf("%s: %w", action.Command[0], err)
	}
	return nil
}

func (r *Runner) runDownload(ctx context.Context, u *types.Unit, policy retryexec.Policy, rep *report.Report) (report.Status, int, error) {
	d := u.Download
	specs := r.selectFiles(ctx, u.Name, d)
	destDir := paths.Resolve(r.cfg.Manifest.Workspace, d.Dest)

	// Prompting from concurrent transfer workers would interleave reads
	// on stdin, so file transfers always retry non-interactively.
	filePolicy := policy
	filePolicy.Interactive = false

	orch := fetch.New(fetch.Options{
		Client:      r.cfg.Client,
		Resolver:    r.resolver,
		Concurrency: r.cfg.Concurrency,
		Retry:       filePolicy,
		Sleep:       r.cfg.Sleep,
		Log:         r.cfg.Log,
		Events:      r.cfg.Events,
		RunID:       r.cfg.RunID,
		Unit:        u.Name,
	})
	entries := orch.FetchAll(ctx, destDir, specs)

	var (
		failed    int
		succeeded int
		attempts  int
		lastErr   error
	)
	for _, e := range entries {
		e.Name = u.Name + "/" + e.Name
		rep.Add(e)
		attempts += e.Attempts
		switch e.Status {
		case report.StatusFailed:
			failed++
			lastErr = fmt.Errorf("%s: %s", e.Name, e.Error)
		case report.StatusSucceeded:
			succeeded++
		}
	}

	switch {
	case failed > 0:
		return report.StatusFailed, attempts, fmt.Errorf("%d of %d transfers failed: %w", failed, len(entries), lastErr)
	case succeeded > 0:
		return report.StatusSucceeded, attempts, nil
	default:
		return report.StatusSkipped, attempts, nil
	}
}

// selectFiles expands a download set, picking the licensed or fallback
// side of a gated group based on the token probe.
func (r *Runner) selectFiles(ctx context.Context, unit string, d *types.DownloadSet) []types.FileSpec {
	specs := append([]types.FileSpec{}, d.Files...)
	if d.Gated == nil {
		return specs
	}

	log := r.cfg.Log
	rule, ok := r.resolver.RuleFor(d.Gated.Probe)
	valid := false
	if ok {
		valid = r.prober.HasValidToken(ctx, rule.ProbeURL, r.resolver.Token(rule))
	}
	if valid {
		log.Info().Str("unit", unit).Str("host", rule.Host).Msg("token valid, fetching licensed set")
		return append(specs, d.Gated.Files...)
	}
	log.Info().Str("unit", unit).Str("host", d.Gated.Probe).Msg("no valid token, fetching fallback set")
	return append(specs, d.Gated.Fallback...)
}

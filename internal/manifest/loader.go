// SPDX-License-Identifier: AGPL-3.0-or-later

// Package manifest loads and validates the rigup provisioning manifest.
package manifest

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/rigup-org/rigup/internal/paths"
	"github.com/rigup-org/rigup/internal/types"
	"gopkg.in/yaml.v3"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffSecs = 5
	defaultConcurrency = 3

	envAutoUpdate = "RIGUP_AUTO_UPDATE"
)

// Load reads the manifest at path, applies defaults and environment
// precedence, and validates it. Environment variables are consulted once
// here; the rest of the program works off the returned value.
func Load(path string) (*types.Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	var m types.Manifest
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	applyDefaults(&m)
	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

func applyDefaults(m *types.Manifest) {
	// Workspace precedence: env > manifest value > platform default.
	if env := paths.WorkspaceEnv(); env != "" {
		m.Workspace = env
	}
	if strings.TrimSpace(m.Workspace) == "" {
		m.Workspace = paths.DefaultWorkspace()
	}
	m.Workspace = strings.TrimSpace(m.Workspace)

	if env := os.Getenv(envAutoUpdate); env != "" {
		if v, err := strconv.ParseBool(env); err == nil {
			m.AutoUpdate = v
		}
	}

	if m.Concurrency <= 0 {
		m.Concurrency = defaultConcurrency
	}
	if m.Retry.MaxAttempts <= 0 {
		m.Retry.MaxAttempts = defaultMaxAttempts
	}
	if m.Retry.BackoffSeconds <= 0 {
		m.Retry.BackoffSeconds = defaultBackoffSecs
	}

	for i := range m.Units {
		m.Units[i].Name = strings.TrimSpace(m.Units[i].Name)
	}
	for i := range m.Credentials {
		m.Credentials[i].Host = strings.TrimSpace(strings.ToLower(m.Credentials[i].Host))
		m.Credentials[i].Env = strings.TrimSpace(m.Credentials[i].Env)
	}
}

// Validate checks structural invariants: unique unit names, exactly one
// action per unit, well-formed absolute URLs, complete credential rules.
func Validate(m *types.Manifest) error {
	if len(m.Units) == 0 {
		return fmt.Errorf("manifest defines no units")
	}

	seen := make(map[string]struct{}, len(m.Units))
	for i := range m.Units {
		u := &m.Units[i]
		if u.Name == "" {
			return fmt.Errorf("unit %d: name required", i)
		}
		if _, dup := seen[u.Name]; dup {
			return fmt.Errorf("unit %q: duplicate name", u.Name)
		}
		seen[u.Name] = struct{}{}

		if (u.Run == nil) == (u.Download == nil) {
			return fmt.Errorf("unit %q: exactly one of run or download required", u.Name)
		}
		if u.Run != nil && len(u.Run.Command) == 0 {
			return fmt.Errorf("unit %q: run.command required", u.Name)
		}
		if u.Update != nil && len(u.Update.Command) == 0 {
			return fmt.Errorf("unit %q: update.command required", u.Name)
		}
		if u.Check != nil {
			if (u.Check.Path == "") == (len(u.Check.Command) == 0) {
				return fmt.Errorf("unit %q: check needs exactly one of path or command", u.Name)
			}
		}
		if u.Download != nil {
			if err := validateDownload(u.Name, u.Download, m); err != nil {
				return err
			}
		}
	}

	for i := range m.Credentials {
		r := &m.Credentials[i]
		if r.Host == "" || r.Env == "" {
			return fmt.Errorf("credential rule %d: host and env required", i)
		}
		if r.ProbeURL != "" {
			if err := checkURL(r.ProbeURL); err != nil {
				return fmt.Errorf("credential rule %q: probe_url: %w", r.Host, err)
			}
		}
	}

	return nil
}

func validateDownload(unit string, d *types.DownloadSet, m *types.Manifest) error {
	if strings.TrimSpace(d.Dest) == "" {
		return fmt.Errorf("unit %q: download.dest required", unit)
	}
	if len(d.Files) == 0 && d.Gated == nil {
		return fmt.Errorf("unit %q: download has no files", unit)
	}
	for _, f := range d.Files {
		if err := checkURL(f.URL); err != nil {
			return fmt.Errorf("unit %q: %w", unit, err)
		}
	}
	if d.Gated != nil {
		if d.Gated.Probe == "" {
			return fmt.Errorf("unit %q: gated.probe required", unit)
		}
		rule, ok := ruleForHost(m, d.Gated.Probe)
		if !ok {
			return fmt.Errorf("unit %q: gated.probe %q matches no credential rule", unit, d.Gated.Probe)
		}
		if rule.ProbeURL == "" {
			return fmt.Errorf("unit %q: credential rule %q has no probe_url", unit, rule.Host)
		}
		if len(d.Gated.Files) == 0 {
			return fmt.Errorf("unit %q: gated.files required", unit)
		}
		for _, f := range append(append([]types.FileSpec{}, d.Gated.Files...), d.Gated.Fallback...) {
			if err := checkURL(f.URL); err != nil {
				return fmt.Errorf("unit %q: %w", unit, err)
			}
		}
	}
	return nil
}

func ruleForHost(m *types.Manifest, host string) (types.CredentialRule, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	for _, r := range m.Credentials {
		if r.Host == host {
			return r, true
		}
	}
	return types.CredentialRule{}, false
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q: host required", raw)
	}
	return nil
}

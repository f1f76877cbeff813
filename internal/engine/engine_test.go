package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rigup-org/rigup/internal/logging"
	"github.com/rigup-org/rigup/internal/report"
	"github.com/rigup-org/rigup/internal/types"
)

func testConfig(t *testing.T, m *types.Manifest) Config {
	t.Helper()
	if m.Workspace == "" {
		m.Workspace = t.TempDir()
	}
	if m.Retry.MaxAttempts == 0 {
		m.Retry.MaxAttempts = 3
	}
	return Config{
		Manifest: m,
		RunID:    "test-run",
		Sleep:    func(time.Duration) {},
		Log:      logging.Nop(),
	}
}

func entryFor(t *testing.T, entries []report.Entry, name string) report.Entry {
	t.Helper()
	for _, e := range entries {
		if e.Name == name {
			return e
		}
	}
	t.Fatalf("no entry named %q in %+v", name, entries)
	return report.Entry{}
}

func TestRunThreeUnitsWithTransientFailure(t *testing.T) {
	ws := t.TempDir()
	m := &types.Manifest{
		Workspace: ws,
		Retry:     types.RetryPolicy{MaxAttempts: 3},
		Units: []types.Unit{
			{Name: "one", Run: &types.CommandAction{Command: []string{"sh", "-c", "touch one.done"}}},
			{Name: "two", Run: &types.CommandAction{
				Command: []string{"sh", "-c", `n=$(cat cnt 2>/dev/null || echo 0); n=$((n+1)); echo $n > cnt; [ "$n" -ge 3 ]`},
			}},
			{Name: "three", Run: &types.CommandAction{Command: []string{"sh", "-c", "touch three.done"}}},
		},
	}

	rep := New(testConfig(t, m)).Run(context.Background())
	entries := rep.Entries()
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d: %+v", len(entries), entries)
	}
	for _, name := range []string{"one", "two", "three"} {
		if e := entryFor(t, entries, name); e.Status != report.StatusSucceeded {
			t.Fatalf("expected %s succeeded, got %+v", name, e)
		}
	}
	if e := entryFor(t, entries, "two"); e.Attempts != 3 {
		t.Fatalf("expected unit two to take 3 attempts, got %d", e.Attempts)
	}
	if rep.RunStatus() != "completed" {
		t.Fatalf("expected completed run, got %q", rep.RunStatus())
	}
}

func TestRunSatisfiedUnitNeverInvokesAction(t *testing.T) {
	ws := t.TempDir()
	if err := os.MkdirAll(filepath.Join(ws, "ComfyUI"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	m := &types.Manifest{
		Workspace: ws,
		Units: []types.Unit{{
			Name:  "comfyui",
			Check: &types.PresenceCheck{Path: "ComfyUI"},
			Run:   &types.CommandAction{Command: []string{"sh", "-c", "touch invoked.marker"}},
		}},
	}

	rep := New(testConfig(t, m)).Run(context.Background())
	if e := entryFor(t, rep.Entries(), "comfyui"); e.Status != report.StatusSkipped {
		t.Fatalf("expected skipped, got %+v", e)
	}
	if _, err := os.Stat(filepath.Join(ws, "invoked.marker")); !os.IsNotExist(err) {
		t.Fatalf("install action ran despite satisfied presence check")
	}
}

func TestRunFailureDoesNotStopLaterUnits(t *testing.T) {
	ws := t.TempDir()
	m := &types.Manifest{
		Workspace: ws,
		Retry:     types.RetryPolicy{MaxAttempts: 2},
		Units: []types.Unit{
			{Name: "broken", Run: &types.CommandAction{Command: []string{"sh", "-c", "exit 1"}}},
			{Name: "after", Run: &types.CommandAction{Command: []string{"sh", "-c", "touch after.done"}}},
		},
	}

	rep := New(testConfig(t, m)).Run(context.Background())
	broken := entryFor(t, rep.Entries(), "broken")
	if broken.Status != report.StatusFailed || broken.Attempts != 2 {
		t.Fatalf("expected broken failed after 2 attempts, got %+v", broken)
	}
	if e := entryFor(t, rep.Entries(), "after"); e.Status != report.StatusSucceeded {
		t.Fatalf("expected later unit to still run, got %+v", e)
	}
	if _, err := os.Stat(filepath.Join(ws, "after.done")); err != nil {
		t.Fatalf("expected after.done to exist: %v", err)
	}
	if rep.RunStatus() != "failed" {
		t.Fatalf("expected failed run status")
	}
}

func TestRunAutoUpdateRunsUpdateAction(t *testing.T) {
	ws := t.TempDir()
	if err := os.MkdirAll(filepath.Join(ws, "SillyTavern"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	m := &types.Manifest{
		Workspace:  ws,
		AutoUpdate: true,
		Units: []types.Unit{{
			Name:   "sillytavern",
			Check:  &types.PresenceCheck{Path: "SillyTavern"},
			Run:    &types.CommandAction{Command: []string{"sh", "-c", "touch installed.marker"}},
			Update: &types.CommandAction{Command: []string{"sh", "-c", "touch updated.marker"}},
		}},
	}

	rep := New(testConfig(t, m)).Run(context.Background())
	e := entryFor(t, rep.Entries(), "sillytavern")
	if e.Status != report.StatusSucceeded || e.Kind != "update" {
		t.Fatalf("expected succeeded update entry, got %+v", e)
	}
	if _, err := os.Stat(filepath.Join(ws, "updated.marker")); err != nil {
		t.Fatalf("expected update action to run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ws, "installed.marker")); !os.IsNotExist(err) {
		t.Fatalf("install action must not run for a satisfied unit")
	}
}

func TestRunDryRunSkipsEverything(t *testing.T) {
	ws := t.TempDir()
	m := &types.Manifest{
		Workspace: ws,
		Units: []types.Unit{
			{Name: "tool", Run: &types.CommandAction{Command: []string{"sh", "-c", "touch tool.marker"}}},
		},
	}
	cfg := testConfig(t, m)
	cfg.DryRun = true

	rep := New(cfg).Run(context.Background())
	if e := entryFor(t, rep.Entries(), "tool"); e.Status != report.StatusSkipped || e.Detail != "dry-run" {
		t.Fatalf("expected dry-run skip, got %+v", e)
	}
	if _, err := os.Stat(filepath.Join(ws, "tool.marker")); !os.IsNotExist(err) {
		t.Fatalf("dry run must not execute actions")
	}
}

func TestRunOnlyFilterSelectsUnits(t *testing.T) {
	ws := t.TempDir()
	m := &types.Manifest{
		Workspace: ws,
		Units: []types.Unit{
			{Name: "wanted", Run: &types.CommandAction{Command: []string{"sh", "-c", "touch wanted.done"}}},
			{Name: "ignored", Run: &types.CommandAction{Command: []string{"sh", "-c", "touch ignored.done"}}},
		},
	}
	cfg := testConfig(t, m)
	cfg.Only = []string{"wanted"}

	rep := New(cfg).Run(context.Background())
	if len(rep.Entries()) != 1 {
		t.Fatalf("expected 1 entry, got %+v", rep.Entries())
	}
	if _, err := os.Stat(filepath.Join(ws, "ignored.done")); !os.IsNotExist(err) {
		t.Fatalf("unselected unit must not run")
	}
}

func gatedManifest(ws, host string, srvURL string) *types.Manifest {
	return &types.Manifest{
		Workspace: ws,
		Retry:     types.RetryPolicy{MaxAttempts: 1},
		Credentials: []types.CredentialRule{
			{Host: host, Env: "REG_TOKEN", ProbeURL: srvURL + "/whoami"},
		},
		Units: []types.Unit{{
			Name: "weights",
			Download: &types.DownloadSet{
				Dest: "models",
				Gated: &types.GatedFiles{
					Probe:    host,
					Files:    []types.FileSpec{{URL: srvURL + "/licensed.bin"}},
					Fallback: []types.FileSpec{{URL: srvURL + "/fallback.bin"}},
				},
			},
		}},
	}
}

func TestRunGatedSelection(t *testing.T) {
	var mu sync.Mutex
	var requested []string
	tokenValid := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/whoami" {
			if tokenValid {
				w.WriteHeader(http.StatusOK)
			} else {
				w.WriteHeader(http.StatusUnauthorized)
			}
			return
		}
		mu.Lock()
		requested = append(requested, r.URL.Path)
		mu.Unlock()
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	host := strings.TrimPrefix(srv.URL, "http://")
	hostname := host[:strings.LastIndex(host, ":")]

	t.Setenv("REG_TOKEN", "tok")

	// Valid token selects the licensed set.
	cfg := testConfig(t, gatedManifest(t.TempDir(), hostname, srv.URL))
	cfg.Client = srv.Client()
	rep := New(cfg).Run(context.Background())
	if rep.RunStatus() != "completed" {
		t.Fatalf("expected completed run, got %+v", rep.Entries())
	}
	mu.Lock()
	got := strings.Join(requested, ",")
	requested = nil
	mu.Unlock()
	if got != "/licensed.bin" {
		t.Fatalf("expected licensed.bin only, got %q", got)
	}

	// Invalid token selects the fallback set.
	tokenValid = false
	cfg = testConfig(t, gatedManifest(t.TempDir(), hostname, srv.URL))
	cfg.Client = srv.Client()
	rep = New(cfg).Run(context.Background())
	if rep.RunStatus() != "completed" {
		t.Fatalf("expected completed run, got %+v", rep.Entries())
	}
	mu.Lock()
	got = strings.Join(requested, ",")
	mu.Unlock()
	if got != "/fallback.bin" {
		t.Fatalf("expected fallback.bin only, got %q", got)
	}
}

func TestRunDownloadUnitRecordsFileEntries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("weights"))
	}))
	defer srv.Close()

	ws := t.TempDir()
	if err := os.MkdirAll(filepath.Join(ws, "models"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(ws, "models", "present.bin"), []byte("x"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	m := &types.Manifest{
		Workspace: ws,
		Retry:     types.RetryPolicy{MaxAttempts: 1},
		Units: []types.Unit{{
			Name: "models",
			Download: &types.DownloadSet{
				Dest: "models",
				Files: []types.FileSpec{
					{URL: srv.URL + "/present.bin"},
					{URL: srv.URL + "/new.bin"},
				},
			},
		}},
	}
	cfg := testConfig(t, m)
	cfg.Client = srv.Client()

	rep := New(cfg).Run(context.Background())
	if e := entryFor(t, rep.Entries(), "models/present.bin"); e.Status != report.StatusSkipped {
		t.Fatalf("expected present.bin skipped, got %+v", e)
	}
	if e := entryFor(t, rep.Entries(), "models/new.bin"); e.Status != report.StatusSucceeded {
		t.Fatalf("expected new.bin succeeded, got %+v", e)
	}
	if e := entryFor(t, rep.Entries(), "models"); e.Status != report.StatusSucceeded {
		t.Fatalf("expected unit entry succeeded, got %+v", e)
	}
}

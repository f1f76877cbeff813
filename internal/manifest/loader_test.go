package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleManifest = `
workspace: /srv/rig
concurrency: 2
retry:
  max_attempts: 4
credentials:
  - host: huggingface.co
    env: HF_TOKEN
    probe_url: https://huggingface.co/api/whoami-v2
  - host: civitai.com
    env: CIVITAI_TOKEN
units:
  - name: comfyui
    check:
      path: ComfyUI
    run:
      command: ["comfy", "install"]
  - name: checkpoints
    check:
      path: ComfyUI/models/checkpoints/base.safetensors
    download:
      dest: ComfyUI/models/checkpoints
      files:
        - url: https://huggingface.co/org/repo/resolve/main/base.safetensors
`

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rigup.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("RIGUP_WORKSPACE", "")
	m, err := Load(writeManifest(t, sampleManifest))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if m.Workspace != "/srv/rig" {
		t.Fatalf("expected workspace /srv/rig, got %q", m.Workspace)
	}
	if m.Retry.MaxAttempts != 4 {
		t.Fatalf("expected max_attempts=4, got %d", m.Retry.MaxAttempts)
	}
	if m.Retry.BackoffSeconds != defaultBackoffSecs {
		t.Fatalf("expected default backoff, got %d", m.Retry.BackoffSeconds)
	}
	if m.Concurrency != 2 {
		t.Fatalf("expected concurrency=2, got %d", m.Concurrency)
	}
	if got := m.Units[1].Kind(); got != "download" {
		t.Fatalf("expected download kind, got %q", got)
	}
}

func TestLoadWorkspaceEnvWins(t *testing.T) {
	t.Setenv("RIGUP_WORKSPACE", "/mnt/other")
	m, err := Load(writeManifest(t, sampleManifest))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if m.Workspace != "/mnt/other" {
		t.Fatalf("expected env workspace to win, got %q", m.Workspace)
	}
}

func TestLoadAutoUpdateEnv(t *testing.T) {
	t.Setenv("RIGUP_AUTO_UPDATE", "true")
	m, err := Load(writeManifest(t, sampleManifest))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if !m.AutoUpdate {
		t.Fatalf("expected auto_update=true from env")
	}
}

func TestValidateDuplicateNames(t *testing.T) {
	bad := `
units:
  - name: one
    run: {command: ["true"]}
  - name: one
    run: {command: ["true"]}
`
	if _, err := Load(writeManifest(t, bad)); err == nil {
		t.Fatalf("expected duplicate-name error, got nil")
	}
}

func TestValidateExactlyOneAction(t *testing.T) {
	bad := `
units:
  - name: both
    run: {command: ["true"]}
    download:
      dest: models
      files:
        - url: https://example.com/a.bin
`
	if _, err := Load(writeManifest(t, bad)); err == nil {
		t.Fatalf("expected one-action error, got nil")
	}

	neither := `
units:
  - name: neither
`
	if _, err := Load(writeManifest(t, neither)); err == nil {
		t.Fatalf("expected one-action error for empty unit, got nil")
	}
}

func TestValidateRejectsRelativeURL(t *testing.T) {
	bad := `
units:
  - name: files
    download:
      dest: models
      files:
        - url: ftp://example.com/a.bin
`
	if _, err := Load(writeManifest(t, bad)); err == nil {
		t.Fatalf("expected scheme error, got nil")
	}
}

func TestValidateGatedNeedsProbeRule(t *testing.T) {
	bad := `
units:
  - name: gated
    download:
      dest: models
      gated:
        probe: huggingface.co
        files:
          - url: https://huggingface.co/gated/a.bin
`
	if _, err := Load(writeManifest(t, bad)); err == nil {
		t.Fatalf("expected missing-probe-rule error, got nil")
	}
}

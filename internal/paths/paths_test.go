package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDataDirOverrideWins(t *testing.T) {
	dir := t.TempDir()
	SetDataDirOverride(dir)
	t.Cleanup(func() { SetDataDirOverride("") })

	t.Setenv("RIGUP_DATA_DIR", "/somewhere/else")
	if got := DataDir(); got != dir {
		t.Fatalf("expected override %q to win, got %q", dir, got)
	}
}

func TestRunDirUnderRunsDir(t *testing.T) {
	dir := t.TempDir()
	SetDataDirOverride(dir)
	t.Cleanup(func() { SetDataDirOverride("") })

	want := filepath.Join(dir, "runs", "r1")
	if got := RunDir("r1"); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got := RunsDir(); got != filepath.Join(dir, "runs") {
		t.Fatalf("unexpected runs dir %q", got)
	}
}

func TestEnsureDataPathCreatesDir(t *testing.T) {
	dir := t.TempDir()
	SetDataDirOverride(dir)
	t.Cleanup(func() { SetDataDirOverride("") })

	got, err := EnsureDataPath("runs", "r1")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	fi, err := os.Stat(got)
	if err != nil || !fi.IsDir() {
		t.Fatalf("expected created directory at %q, err %v", got, err)
	}
}

func TestResolve(t *testing.T) {
	if got := Resolve("/ws", "models"); got != filepath.Join("/ws", "models") {
		t.Fatalf("unexpected relative resolve: %q", got)
	}
	if got := Resolve("/ws", "/abs/path"); got != filepath.Clean("/abs/path") {
		t.Fatalf("unexpected absolute resolve: %q", got)
	}
	if got := Resolve("/ws", ""); got != "/ws" {
		t.Fatalf("unexpected empty resolve: %q", got)
	}
}

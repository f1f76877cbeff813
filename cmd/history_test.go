package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rigup-org/rigup/internal/events"
	"github.com/rigup-org/rigup/internal/logging"
	"github.com/rigup-org/rigup/internal/runlog"
)

func TestReplayRunEvents(t *testing.T) {
	ctx := context.Background()
	db, err := runlog.Open(ctx, runlog.Options{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open runlog: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	journal := runlog.NewJournal(db, 0)
	sink := runlog.NewSink(journal, logging.Nop())
	sink.EmitRunStart("r1", "rigup.yaml")
	sink.EmitUnitStart("r1", "comfyui")
	sink.EmitUnitLog("r1", "comfyui", "stdout", "cloning")
	sink.EmitUnitFinish("r1", "comfyui", "succeeded", 1, nil)

	var buf bytes.Buffer
	n, err := replayRunEvents(ctx, journal, "r1", events.NewEmitter(&buf, false))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 replayed events, got %d", n)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 output lines, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], events.TypeRunStart) {
		t.Fatalf("expected first line to be the run start, got %q", lines[0])
	}
	if !strings.Contains(lines[2], "unit=comfyui") || !strings.Contains(lines[2], "msg=cloning") {
		t.Fatalf("expected unit log line with lifted unit and message, got %q", lines[2])
	}
	if !strings.Contains(lines[3], "status:succeeded") {
		t.Fatalf("expected finish line with status, got %q", lines[3])
	}
}

func TestReplayRunEventsIsolatesRuns(t *testing.T) {
	ctx := context.Background()
	db, err := runlog.Open(ctx, runlog.Options{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("open runlog: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	journal := runlog.NewJournal(db, 0)
	sink := runlog.NewSink(journal, logging.Nop())
	sink.EmitRunStart("r1", "rigup.yaml")

	var buf bytes.Buffer
	n, err := replayRunEvents(ctx, journal, "other", events.NewEmitter(&buf, false))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if n != 0 || buf.Len() != 0 {
		t.Fatalf("expected no events for unknown run, got %d:\n%s", n, buf.String())
	}
}

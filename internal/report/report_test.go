package report

import (
	"sync"
	"testing"
)

func TestReportCountsAndStatus(t *testing.T) {
	r := New()
	r.Add(Entry{Name: "a", Kind: "unit", Status: StatusSkipped})
	r.Add(Entry{Name: "b", Kind: "unit", Status: StatusSucceeded})
	r.Add(Entry{Name: "c", Kind: "file", Status: StatusFailed, Error: "boom"})

	skipped, succeeded, failed := r.Counts()
	if skipped != 1 || succeeded != 1 || failed != 1 {
		t.Fatalf("expected 1/1/1, got %d/%d/%d", skipped, succeeded, failed)
	}
	if got := r.RunStatus(); got != "failed" {
		t.Fatalf("expected failed run status, got %q", got)
	}
	if got := r.Failed(); len(got) != 1 || got[0].Name != "c" {
		t.Fatalf("expected failed entry c, got %+v", got)
	}
}

func TestReportCompletedWithoutFailures(t *testing.T) {
	r := New()
	r.Add(Entry{Name: "a", Kind: "unit", Status: StatusSucceeded})
	r.Add(Entry{Name: "b", Kind: "unit", Status: StatusSkipped})
	if got := r.RunStatus(); got != "completed" {
		t.Fatalf("expected completed, got %q", got)
	}
}

func TestReportConcurrentAdd(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Add(Entry{Name: "f", Kind: "file", Status: StatusSucceeded})
		}()
	}
	wg.Wait()
	if got := len(r.Entries()); got != 32 {
		t.Fatalf("expected 32 entries, got %d", got)
	}
}

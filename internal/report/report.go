// SPDX-License-Identifier: AGPL-3.0-or-later

// Package report accumulates per-unit and per-file outcomes for a run.
package report

import (
	"sync"
	"time"
)

// Status is the terminal state recorded for a unit or file.
type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Entry is one recorded outcome.
type Entry struct {
	Name     string        `json:"name" yaml:"name"`
	Kind     string        `json:"kind" yaml:"kind"`
	Status   Status        `json:"status" yaml:"status"`
	Attempts int           `json:"attempts,omitempty" yaml:"attempts,omitempty"`
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
	Detail   string        `json:"detail,omitempty" yaml:"detail,omitempty"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report is a thread-safe, append-only collection of entries. Concurrent
// download workers record into it; reads copy.
type Report struct {
	mu      sync.Mutex
	entries []Entry
}

// New returns an empty report.
func New() *Report {
	return &Report{}
}

// Add appends an entry.
func (r *Report) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// Entries returns a copy of all recorded entries in insertion order.
func (r *Report) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Failed returns the entries that ended in StatusFailed.
func (r *Report) Failed() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if e.Status == StatusFailed {
			out = append(out, e)
		}
	}
	return out
}

// Counts returns the number of skipped, succeeded and failed entries.
func (r *Report) Counts() (skipped, succeeded, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		switch e.Status {
		case StatusSkipped:
			skipped++
		case StatusSucceeded:
			succeeded++
		case StatusFailed:
			failed++
		}
	}
	return skipped, succeeded, failed
}

// RunStatus reports the overall run status: "failed" iff any entry failed.
func (r *Report) RunStatus() string {
	_, _, failed := r.Counts()
	if failed > 0 {
		return "failed"
	}
	return "completed"
}

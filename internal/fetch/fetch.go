// SPDX-License-Identifier: AGPL-3.0-or-later

// Package fetch downloads model and binary artifacts with credential
// resolution, resumable transfers and a bounded worker pool.
package fetch

import (
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rigup-org/rigup/internal/creds"
	"github.com/rigup-org/rigup/internal/events"
	"github.com/rigup-org/rigup/internal/retryexec"
	"github.com/rs/zerolog"
)

const (
	defaultConcurrency = 3
	defaultSegments    = 4
	// Files below this size are streamed in one request; larger ones are
	// split into parallel range segments when the server supports it.
	defaultSegmentThreshold = 64 << 20 // 64 MiB
)

// Options configures an Orchestrator. Zero values fall back to defaults.
type Options struct {
	Client           *http.Client
	Resolver         *creds.Resolver
	Concurrency      int
	Segments         int
	SegmentThreshold int64
	Retry            retryexec.Policy
	Sleep            func(time.Duration)
	Log              zerolog.Logger
	Events           events.Sink
	RunID            string
	Unit             string
}

// Orchestrator fetches batches of files into a destination directory.
type Orchestrator struct {
	opts Options
}

// New returns an orchestrator with defaults applied.
func New(opts Options) *Orchestrator {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Segments <= 0 {
		opts.Segments = defaultSegments
	}
	if opts.SegmentThreshold <= 0 {
		opts.SegmentThreshold = defaultSegmentThreshold
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 3
	}
	if opts.Sleep == nil {
		opts.Sleep = time.Sleep
	}
	return &Orchestrator{opts: opts}
}

// Filename derives the local file name for a spec: the explicit override
// when present, otherwise the base of the parsed URL path. Query strings
// are never part of the name.
func Filename(rawURL, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "", fmt.Errorf("url %q has no usable file name", rawURL)
	}
	if strings.ContainsAny(name, `\:`) {
		return "", fmt.Errorf("derived file name %q is not safe", name)
	}
	return name, nil
}

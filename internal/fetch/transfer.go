// SPDX-License-Identifier: AGPL-3.0-or-later
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rigup-org/rigup/internal/report"
	"github.com/rigup-org/rigup/internal/retryexec"
	"github.com/rigup-org/rigup/internal/types"
	"golang.org/x/sync/errgroup"
)

const partSuffix = ".part"

// FetchAll downloads every spec into destDir. Files already present by
// name are recorded as skipped with zero network traffic. Transfers for
// independent specs run concurrently up to the configured bound; each
// transfer individually goes through the retry executor. One file's
// failure never stops the rest of the batch.
func (o *Orchestrator) FetchAll(ctx context.Context, destDir string, specs []types.FileSpec) []report.Entry {
	entries := make([]report.Entry, len(specs))

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		for i, spec := range specs {
			entries[i] = report.Entry{
				Name:   spec.URL,
				Kind:   "file",
				Status: report.StatusFailed,
				Error:  fmt.Sprintf("create dest dir: %v", err),
			}
		}
		return entries
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(o.opts.Concurrency)
	for i, spec := range specs {
		i, spec := i, spec
		g.Go(func() error {
			entry := o.fetchOne(ctx, destDir, spec)
			mu.Lock()
			entries[i] = entry
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return entries
}

func (o *Orchestrator) fetchOne(ctx context.Context, destDir string, spec types.FileSpec) report.Entry {
	start := time.Now()

	name, err := Filename(spec.URL, spec.Filename)
	if err != nil {
		return report.Entry{Name: spec.URL, Kind: "file", Status: report.StatusFailed, Error: err.Error()}
	}
	entry := report.Entry{Name: name, Kind: "file", Detail: spec.URL}

	target := filepath.Join(destDir, name)
	if _, statErr := os.Stat(target); statErr == nil {
		o.opts.Log.Info().Str("file", name).Msg("already present, skipping")
		if o.opts.Events != nil {
			o.opts.Events.EmitTransferFinish(o.opts.RunID, o.opts.Unit, name, "skipped", 0, nil)
		}
		entry.Status = report.StatusSkipped
		return entry
	}

	var cred credHeader
	if o.opts.Resolver != nil {
		if c, ok := o.opts.Resolver.Resolve(spec.URL); ok {
			cred.token = c.Token
			o.opts.Log.Debug().Str("file", name).Str("host", c.Rule.Host).Msg("using credential")
		}
	}

	if o.opts.Events != nil {
		o.opts.Events.EmitTransferStart(o.opts.RunID, o.opts.Unit, name)
	}

	executor := &retryexec.Executor{
		Policy: o.opts.Retry,
		Sleep:  o.opts.Sleep,
		Log:    o.opts.Log,
	}
	var bytes int64
	attempts, err := executor.Execute(ctx, "download "+name, func(ctx context.Context) error {
		n, terr := o.transfer(ctx, spec.URL, target, cred)
		bytes = n
		return terr
	})
	entry.Attempts = attempts
	entry.Duration = time.Since(start)

	if err != nil {
		entry.Status = report.StatusFailed
		entry.Error = err.Error()
		if o.opts.Events != nil {
			o.opts.Events.EmitTransferFinish(o.opts.RunID, o.opts.Unit, name, "failed", bytes, err)
		}
		return entry
	}

	o.opts.Log.Info().
		Str("file", name).
		Str("size", humanize.Bytes(uint64(bytes))).
		Dur("elapsed", entry.Duration).
		Msg("downloaded")
	if o.opts.Events != nil {
		o.opts.Events.EmitTransferFinish(o.opts.RunID, o.opts.Unit, name, "succeeded", bytes, nil)
	}
	entry.Status = report.StatusSucceeded
	return entry
}

type credHeader struct {
	token string
}

func (c credHeader) apply(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// transfer fetches url into target, staging bytes in target.part and
// renaming atomically on completion. A pre-existing partial is resumed
// with a Range request when the server honors it. Large files with a
// known length are fetched as parallel segments.
func (o *Orchestrator) transfer(ctx context.Context, rawURL, target string, cred credHeader) (int64, error) {
	part := target + partSuffix

	var offset int64
	if fi, err := os.Stat(part); err == nil {
		offset = fi.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	cred.apply(req)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := o.opts.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", rawURL, err)
	}

	switch {
	case offset > 0 && resp.StatusCode == http.StatusPartialContent:
		o.opts.Log.Debug().Str("file", filepath.Base(target)).Str("resumed_at", humanize.Bytes(uint64(offset))).Msg("resuming partial download")
		return o.stream(resp, part, target, offset)

	case offset > 0 && resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		resp.Body.Close()
		// Stale or oversized partial; drop it and let the retry loop start over.
		if err := os.Remove(part); err != nil {
			return 0, fmt.Errorf("remove stale partial: %w", err)
		}
		return 0, fmt.Errorf("server rejected resume of %s", filepath.Base(part))

	case resp.StatusCode == http.StatusOK:
		total := resp.ContentLength
		if total >= o.opts.SegmentThreshold && o.opts.Segments > 1 && acceptsRanges(resp) {
			resp.Body.Close()
			return o.segmented(ctx, rawURL, part, target, total, cred)
		}
		// Server ignored or never got a Range header; restart from zero.
		return o.stream(resp, part, target, 0)

	default:
		resp.Body.Close()
		return 0, fmt.Errorf("get %s: unexpected status %s", rawURL, resp.Status)
	}
}

func acceptsRanges(resp *http.Response) bool {
	return resp.Header.Get("Accept-Ranges") == "bytes"
}

// stream copies the response body into the partial file starting at
// offset, verifies the final size when the length is known, and renames.
func (o *Orchestrator) stream(resp *http.Response, part, target string, offset int64) (int64, error) {
	defer resp.Body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	f, err := os.OpenFile(part, flags, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open partial: %w", err)
	}
	if err := f.Truncate(offset); err != nil {
		f.Close()
		return 0, fmt.Errorf("truncate partial: %w", err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return 0, fmt.Errorf("seek partial: %w", err)
	}

	n, copyErr := io.Copy(f, resp.Body)
	if syncErr := f.Sync(); copyErr == nil && syncErr != nil {
		copyErr = syncErr
	}
	closeErr := f.Close()
	if copyErr != nil {
		// Keep the partial for the next resume attempt.
		return n, fmt.Errorf("copy body: %w", copyErr)
	}
	if closeErr != nil {
		return n, fmt.Errorf("close partial: %w", closeErr)
	}

	if resp.ContentLength >= 0 {
		want := offset + resp.ContentLength
		fi, err := os.Stat(part)
		if err != nil {
			return n, fmt.Errorf("stat partial: %w", err)
		}
		if fi.Size() != want {
			return n, fmt.Errorf("size mismatch: have %d bytes, want %d", fi.Size(), want)
		}
	}

	if err := os.Rename(part, target); err != nil {
		return n, fmt.Errorf("finalize %s: %w", filepath.Base(target), err)
	}
	return offset + n, nil
}

// segmented splits a file of known total size into parallel range
// requests written at offsets into one preallocated partial file. Any
// previous partial is discarded: segment layout is not recorded, so a
// segmented retry restarts cleanly.
func (o *Orchestrator) segmented(ctx context.Context, rawURL, part, target string, total int64, cred credHeader) (int64, error) {
	f, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("create partial: %w", err)
	}
	if err := f.Truncate(total); err != nil {
		f.Close()
		return 0, fmt.Errorf("preallocate partial: %w", err)
	}

	segments := int64(o.opts.Segments)
	chunk := total / segments
	o.opts.Log.Debug().
		Str("file", filepath.Base(target)).
		Str("size", humanize.Bytes(uint64(total))).
		Int64("segments", segments).
		Msg("parallel segmented download")

	g, gctx := errgroup.WithContext(ctx)
	for i := int64(0); i < segments; i++ {
		start := i * chunk
		end := start + chunk - 1
		if i == segments-1 {
			end = total - 1
		}
		g.Go(func() error {
			return o.fetchSegment(gctx, rawURL, f, start, end, cred)
		})
	}
	if err := g.Wait(); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return 0, fmt.Errorf("sync partial: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close partial: %w", err)
	}
	if err := os.Rename(part, target); err != nil {
		return 0, fmt.Errorf("finalize %s: %w", filepath.Base(target), err)
	}
	return total, nil
}

func (o *Orchestrator) fetchSegment(ctx context.Context, rawURL string, f *os.File, start, end int64, cred credHeader) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build segment request: %w", err)
	}
	cred.apply(req)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := o.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("segment %d-%d: %w", start, end, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("segment %d-%d: unexpected status %s", start, end, resp.Status)
	}

	n, err := io.Copy(io.NewOffsetWriter(f, start), resp.Body)
	if err != nil {
		return fmt.Errorf("segment %d-%d: %w", start, end, err)
	}
	if want := end - start + 1; n != want {
		return fmt.Errorf("segment %d-%d: short read, have %d want %d", start, end, n, want)
	}
	return nil
}

// SPDX-License-Identifier: AGPL-3.0-or-later
package creds

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const probeTimeout = 15 * time.Second

// Prober checks token validity with a single authenticated GET.
type Prober struct {
	Client *http.Client
	Log    zerolog.Logger
}

// NewProber returns a prober with a bounded-timeout client.
func NewProber(log zerolog.Logger) *Prober {
	return &Prober{Client: &http.Client{Timeout: probeTimeout}, Log: log}
}

// HasValidToken performs one GET against probeURL with the candidate token
// as a bearer credential. Only HTTP 200 counts as valid; any other status
// or a network failure reports false. It never returns an error: the probe
// is a gate between a licensed and a fallback download set, not a step
// that can fail the run.
func (p *Prober) HasValidToken(ctx context.Context, probeURL, token string) bool {
	if token == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probeURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+token)

	client := p.Client
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		p.Log.Debug().Str("url", probeURL).Err(err).Msg("token probe failed")
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	p.Log.Debug().Str("url", probeURL).Int("status", resp.StatusCode).Msg("token probe")
	return resp.StatusCode == http.StatusOK
}

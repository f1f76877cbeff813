// SPDX-License-Identifier: AGPL-3.0-or-later

package runlog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rigup-org/rigup/internal/events"
	"github.com/rs/zerolog"
)

// Sink persists emitted run events into the journal. Persistence problems
// are logged and swallowed: the run log is an observability surface and
// must never fail a provisioning run.
type Sink struct {
	journal *Journal
	log     zerolog.Logger
}

// NewSink returns an events.Sink writing to the journal, or nil when the
// journal is unavailable.
func NewSink(journal *Journal, log zerolog.Logger) *Sink {
	if journal == nil {
		return nil
	}
	return &Sink{journal: journal, log: log}
}

func (s *Sink) append(runID, eventType string, data map[string]interface{}) {
	if s == nil {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		s.log.Debug().Err(err).Str("event", eventType).Msg("journal encode failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.journal.Append(ctx, runID, eventType, payload, time.Time{}); err != nil {
		s.log.Debug().Err(err).Str("event", eventType).Msg("journal append failed")
	}
}

func (s *Sink) EmitRunStart(runID, manifest string) {
	s.append(runID, events.TypeRunStart, map[string]interface{}{"manifest": manifest})
}

func (s *Sink) EmitRunFinish(runID, status string, err error) {
	data := map[string]interface{}{"status": status}
	if err != nil {
		data["error"] = err.Error()
	}
	s.append(runID, events.TypeRunFinish, data)
}

func (s *Sink) EmitUnitStart(runID, unit string) {
	s.append(runID, events.TypeUnitStart, map[string]interface{}{"unit": unit})
}

func (s *Sink) EmitUnitSkip(runID, unit, reason string) {
	s.append(runID, events.TypeUnitSkip, map[string]interface{}{"unit": unit, "reason": reason})
}

func (s *Sink) EmitUnitLog(runID, unit, channel, message string) {
	s.append(runID, events.TypeUnitLog, map[string]interface{}{"unit": unit, "channel": channel, "message": message})
}

func (s *Sink) EmitUnitFinish(runID, unit, status string, attempts int, err error) {
	data := map[string]interface{}{"unit": unit, "status": status, "attempts": attempts}
	if err != nil {
		data["error"] = err.Error()
	}
	s.append(runID, events.TypeUnitFinish, data)
}

func (s *Sink) EmitTransferStart(runID, unit, file string) {
	s.append(runID, events.TypeTransferStart, map[string]interface{}{"unit": unit, "file": file})
}

func (s *Sink) EmitTransferFinish(runID, unit, file, status string, bytes int64, err error) {
	data := map[string]interface{}{"unit": unit, "file": file, "status": status, "bytes": bytes}
	if err != nil {
		data["error"] = err.Error()
	}
	s.append(runID, events.TypeTransferFinish, data)
}

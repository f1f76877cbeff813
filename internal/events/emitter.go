// SPDX-License-Identifier: AGPL-3.0-or-later
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	TypeRunStart       = "run.start"
	TypeRunFinish      = "run.finish"
	TypeUnitStart      = "unit.start"
	TypeUnitSkip       = "unit.skip"
	TypeUnitLog        = "unit.log"
	TypeUnitFinish     = "unit.finish"
	TypeTransferStart  = "transfer.start"
	TypeTransferFinish = "transfer.finish"
)

type RunEvent struct {
	Sequence  int64                  `json:"sequence"`
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	RunID     string                 `json:"run_id"`
	Unit      string                 `json:"unit,omitempty"`
	Channel   string                 `json:"channel,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

type Emitter struct {
	mu   sync.Mutex
	seq  int64
	out  io.Writer
	json bool
}

func NewEmitter(out io.Writer, json bool) *Emitter {
	if out == nil {
		return nil
	}
	return &Emitter{out: out, json: json}
}

func (e *Emitter) nextSeq() int64 {
	e.seq++
	return e.seq
}

func (e *Emitter) emit(ev RunEvent) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ev.Sequence = e.nextSeq()
	ev.Timestamp = time.Now().UTC()
	e.render(ev)
}

// Replay renders an already-recorded event, keeping its original sequence
// and timestamp instead of assigning fresh ones.
func (e *Emitter) Replay(ev RunEvent) {
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.render(ev)
}

func (e *Emitter) render(ev RunEvent) {
	if e.json {
		payload, err := json.Marshal(ev)
		if err != nil {
			fmt.Fprintf(e.out, "{\"error\":%q}\n", err.Error())
			return
		}
		fmt.Fprintf(e.out, "%s\n", payload)
		return
	}

	fmt.Fprintf(e.out, "[%d] %s", ev.Sequence, ev.Type)
	if ev.RunID != "" {
		fmt.Fprintf(e.out, " run=%s", ev.RunID)
	}
	if ev.Unit != "" {
		fmt.Fprintf(e.out, " unit=%s", ev.Unit)
	}
	if ev.Channel != "" {
		fmt.Fprintf(e.out, " channel=%s", ev.Channel)
	}
	if ev.Message != "" {
		fmt.Fprintf(e.out, " msg=%s", ev.Message)
	}
	if len(ev.Data) > 0 {
		keys := make([]string, 0, len(ev.Data))
		for k := range ev.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(e.out, " data=")
		fmt.Fprintf(e.out, "{")
		for i, k := range keys {
			if i > 0 {
				fmt.Fprintf(e.out, ", ")
			}
			fmt.Fprintf(e.out, "%s:%v", k, ev.Data[k])
		}
		fmt.Fprintf(e.out, "}")
	}
	fmt.Fprintln(e.out)
}

func (e *Emitter) EmitRunStart(runID, manifest string) {
	e.emit(RunEvent{
		Type:  TypeRunStart,
		RunID: runID,
		Data:  map[string]interface{}{"manifest": manifest},
	})
}

func (e *Emitter) EmitRunFinish(runID string, status string, err error) {
	data := map[string]interface{}{"status": status}
	if err != nil {
		data["error"] = err.Error()
	}
	e.emit(RunEvent{
		Type:  TypeRunFinish,
		RunID: runID,
		Data:  data,
	})
}

func (e *Emitter) EmitUnitStart(runID, unit string) {
	e.emit(RunEvent{Type: TypeUnitStart, RunID: runID, Unit: unit})
}

func (e *Emitter) EmitUnitSkip(runID, unit, reason string) {
	e.emit(RunEvent{Type: TypeUnitSkip, RunID: runID, Unit: unit, Message: reason})
}

func (e *Emitter) EmitUnitLog(runID, unit, channel, message string) {
	if message == "" {
		return
	}
	e.emit(RunEvent{Type: TypeUnitLog, RunID: runID, Unit: unit, Channel: channel, Message: message})
}

func (e *Emitter) EmitUnitFinish(runID, unit, status string, attempts int, err error) {
	data := map[string]interface{}{"status": status, "attempts": attempts}
	if err != nil {
		data["error"] = err.Error()
	}
	e.emit(RunEvent{Type: TypeUnitFinish, RunID: runID, Unit: unit, Data: data})
}

func (e *Emitter) EmitTransferStart(runID, unit, file string) {
	e.emit(RunEvent{Type: TypeTransferStart, RunID: runID, Unit: unit, Data: map[string]interface{}{"file": file}})
}

func (e *Emitter) EmitTransferFinish(runID, unit, file, status string, bytes int64, err error) {
	data := map[string]interface{}{"file": file, "status": status, "bytes": bytes}
	if err != nil {
		data["error"] = err.Error()
	}
	e.emit(RunEvent{Type: TypeTransferFinish, RunID: runID, Unit: unit, Data: data})
}

func GenerateRunID() string {
	return uuid.NewString()
}

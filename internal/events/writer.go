// SPDX-License-Identifier: AGPL-3.0-or-later
package events

import (
	"bytes"
	"io"
)

// LineWriter tees collaborator-process output to an underlying writer while
// emitting one unit.log event per line, optionally redacted.
type LineWriter struct {
	emitter  Sink
	runID    string
	unit     string
	channel  string
	out      io.Writer
	buf      bytes.Buffer
	redactor func(string) string
}

func NewLineWriter(em Sink, runID, unit, channel string, out io.Writer, redactor func(string) string) *LineWriter {
	return &LineWriter{emitter: em, runID: runID, unit: unit, channel: channel, out: out, redactor: redactor}
}

func (w *LineWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if w.out != nil {
		if _, err := w.out.Write(p); err != nil {
			return 0, err
		}
	}
	start := 0
	for i, b := range p {
		if b == '\n' {
			w.buf.Write(p[start:i])
			w.flushLine()
			start = i + 1
		}
	}
	if start < len(p) {
		w.buf.Write(p[start:])
	}
	return len(p), nil
}

func (w *LineWriter) Flush() {
	if w.buf.Len() > 0 {
		w.flushLine()
	}
}

func (w *LineWriter) flushLine() {
	line := w.buf.String()
	w.buf.Reset()
	if w.emitter != nil {
		if w.redactor != nil {
			line = w.redactor(line)
		}
		w.emitter.EmitUnitLog(w.runID, w.unit, w.channel, line)
	}
}

// SPDX-License-Identifier: AGPL-3.0-or-later
package events

// Sink represents something that can consume run events.
type Sink interface {
	EmitRunStart(runID, manifest string)
	EmitRunFinish(runID, status string, err error)
	EmitUnitStart(runID, unit string)
	EmitUnitSkip(runID, unit, reason string)
	EmitUnitLog(runID, unit, channel, message string)
	EmitUnitFinish(runID, unit, status string, attempts int, err error)
	EmitTransferStart(runID, unit, file string)
	EmitTransferFinish(runID, unit, file, status string, bytes int64, err error)
}

// CompositeSink fan-outs emitted events to multiple sinks.
type CompositeSink struct {
	sinks []Sink
}

// NewCompositeSink returns a sink that forwards events to all provided sinks.
func NewCompositeSink(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	switch len(filtered) {
	case 0:
		return nil
	case 1:
		return filtered[0]
	default:
		return &CompositeSink{sinks: filtered}
	}
}

func (c *CompositeSink) EmitRunStart(runID, manifest string) {
	for _, s := range c.sinks {
		s.EmitRunStart(runID, manifest)
	}
}

func (c *CompositeSink) EmitRunFinish(runID, status string, err error) {
	for _, s := range c.sinks {
		s.EmitRunFinish(runID, status, err)
	}
}

func (c *CompositeSink) EmitUnitStart(runID, unit string) {
	for _, s := range c.sinks {
		s.EmitUnitStart(runID, unit)
	}
}

func (c *CompositeSink) EmitUnitSkip(runID, unit, reason string) {
	for _, s := range c.sinks {
		s.EmitUnitSkip(runID, unit, reason)
	}
}

func (c *CompositeSink) EmitUnitLog(runID, unit, channel, message string) {
	for _, s := range c.sinks {
		s.EmitUnitLog(runID, unit, channel, message)
	}
}

func (c *CompositeSink) EmitUnitFinish(runID, unit, status string, attempts int, err error) {
	for _, s := range c.sinks {
		s.EmitUnitFinish(runID, unit, status, attempts, err)
	}
}

func (c *CompositeSink) EmitTransferStart(runID, unit, file string) {
	for _, s := range c.sinks {
		s.EmitTransferStart(runID, unit, file)
	}
}

func (c *CompositeSink) EmitTransferFinish(runID, unit, file, status string, bytes int64, err error) {
	for _, s := range c.sinks {
		s.EmitTransferFinish(runID, unit, file, status, bytes, err)
	}
}

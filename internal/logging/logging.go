// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the operator-facing zerolog logger.
package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// New returns a console logger writing to out. Verbosity 0 logs at info,
// anything higher at debug; quiet suppresses everything below error.
func New(out io.Writer, verbosity int, quiet bool) zerolog.Logger {
	level := zerolog.InfoLevel
	switch {
	case quiet:
		level = zerolog.ErrorLevel
	case verbosity >= 1:
		level = zerolog.DebugLevel
	}
	writer := zerolog.ConsoleWriter{Out: out, TimeFormat: time.TimeOnly}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// Nop returns a disabled logger for tests and library callers.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

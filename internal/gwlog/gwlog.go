// Package gwlog is the gateway's leveled logger. It wraps zerolog the way
// the teacher's callers expect a tiny Log/Logf surface, so call sites read
// like the teacher's pkg/log.Log / pkg/log.Logf without pulling zerolog's
// API into every file.
package gwlog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
	With().Timestamp().Logger()

// Configure switches the package-wide logger between human-readable console
// output and structured JSON, and sets the minimum level.
func Configure(json bool, level zerolog.Level, out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	if json {
		base = zerolog.New(out).With().Timestamp().Logger().Level(level)
		return
	}
	base = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger().Level(level)
}

// Log writes an info-level message with structured fields.
func Log(msg string, fields ...map[string]any) {
	ev := base.Info()
	applyFields(ev, fields)
	ev.Msg(msg)
}

// Logf writes a formatted info-level message, matching the teacher's
// log.Logf(format, args...) call sites.
func Logf(format string, args ...any) {
	base.Info().Msgf(format, args...)
}

// Warn writes a warn-level message with structured fields.
func Warn(msg string, fields ...map[string]any) {
	ev := base.Warn()
	applyFields(ev, fields)
	ev.Msg(msg)
}

func Warnf(format string, args ...any) {
	base.Warn().Msgf(format, args...)
}

func Error(msg string, err error, fields ...map[string]any) {
	ev := base.Error().Err(err)
	applyFields(ev, fields)
	ev.Msg(msg)
}

func Errorf(format string, args ...any) {
	base.Error().Msgf(format, args...)
}

func Fatal(msg string, err error) {
	base.Fatal().Err(err).Msg(msg)
}

func applyFields(ev *zerolog.Event, fields []map[string]any) {
	for _, f := range fields {
		for k, v := range f {
			ev.Interface(k, v)
		}
	}
}

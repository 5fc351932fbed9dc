// Package gwlog sets up the process-wide zerolog logger, in the style
// of kalbasit-ncps's nixcacheindex client (zerolog.Ctx(ctx).Debug()...):
// every long-lived component pulls its logger from a context rather
// than holding a package-global, so tests can swap in a buffer-backed
// logger per case.
package gwlog

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the process logger's output format and level.
type Config struct {
	Level  string // "debug", "info", "warn", "error"; default "info"
	Pretty bool   // use zerolog's human-readable console writer
	Output io.Writer
}

// New builds a root logger per cfg.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// WithLogger returns a context carrying l, retrievable via zerolog.Ctx.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// FromContext returns the logger embedded in ctx. If none was attached
// it returns zerolog.Ctx's fallback: zerolog.DefaultContextLogger when
// set, otherwise a disabled logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// File: internal/infra/logging/logging.go
package logging

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"research-client/internal/config"

	"github.com/rs/zerolog"
)

// New creates a zerolog logger on stdout configured from config.
// Supports "trace" | "debug" | "info" | "warn" | "error" levels
// and "json" | "console" formats. Sampling can be enabled to reduce noise in prod.
func New(cfg config.LogConfig, dev bool) *zerolog.Logger {
	return NewTo(os.Stdout, cfg, dev)
}

// NewTo is New with an explicit sink. Unknown levels fall back to info.
func NewTo(w io.Writer, cfg config.LogConfig, dev bool) *zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	if strings.ToLower(cfg.Format) == "console" || dev {
		out := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		base = zerolog.New(out).Level(level).With().Timestamp().Logger()
	} else {
		base = zerolog.New(w).Level(level).With().Timestamp().Logger()
	}

	if cfg.Sampling && !dev {
		// keep first 100, then 1 every 100 thereafter
		sampled := base.Sample(&zerolog.BasicSampler{N: 100})
		return &sampled
	}
	return &base
}

type ctxKey string

const (
	ctxTraceID    ctxKey = "trace_id"
	ctxJobID      ctxKey = "job_id"
	ctxContextKey ctxKey = "context_key"
	ctxWorkflowID ctxKey = "workflow_id"
)

// With attaches common context fields such as trace_id, job_id, context_key.
func With(ctx context.Context, base *zerolog.Logger) *zerolog.Logger {
	l := base.With()
	if v, ok := ctx.Value(ctxTraceID).(string); ok {
		l = l.Str("trace_id", v)
	}
	if v, ok := ctx.Value(ctxJobID).(int64); ok {
		l = l.Int64("job_id", v)
	}
	if v, ok := ctx.Value(ctxContextKey).(string); ok {
		l = l.Str("context_key", v)
	}
	if v, ok := ctx.Value(ctxWorkflowID).(string); ok {
		l = l.Str("workflow_id", v)
	}
	logger := l.Logger()
	return &logger
}

// TraceDuration logs start and end with elapsed duration at TRACE level.
// Usage: defer logging.TraceDuration(logger, "JobTracker.StartJob")()
func TraceDuration(logger *zerolog.Logger, name string) func() {
	start := time.Now()
	logger.Trace().Str("method", name).Msg("start")
	return func() {
		elapsed := time.Since(start)
		logger.Trace().Str("method", name).Dur("duration", elapsed).Msg("finish")
	}
}

// Redact hides secrets such as bearer tokens and API keys when not in dev.
func Redact(s string, dev bool) string {
	if dev {
		return s
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "..." + s[len(s)-2:]
}

// Helpers to put IDs into context.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxTraceID, id)
}
func WithJobID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, ctxJobID, id)
}
func WithContextKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ctxContextKey, key)
}
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxWorkflowID, id)
}

// Nop returns a disabled logger, handy for tests and optional wiring.
func Nop() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// Package logging threads a job's correlation values (job id, the graph
// node being visited and the recognized intent) through context.Context so
// every slog record written while serving that job can be traced back to it.
package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	jobIDKey ctxKey = iota
	nodeKey
	intentKey
)

// fields lists the correlation values in the order they appear on a record.
var fields = []struct {
	key  ctxKey
	attr string
}{
	{jobIDKey, "job_id"},
	{nodeKey, "node"},
	{intentKey, "intent"},
}

func WithJobID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, jobIDKey, id)
}

// WithNode names the graph node being visited.
func WithNode(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, nodeKey, name)
}

// WithIntent is set once intent recognition has picked a branch.
func WithIntent(ctx context.Context, intent string) context.Context {
	return context.WithValue(ctx, intentKey, intent)
}

func JobID(ctx context.Context) string  { return value(ctx, jobIDKey) }
func Node(ctx context.Context) string   { return value(ctx, nodeKey) }
func Intent(ctx context.Context) string { return value(ctx, intentKey) }

func value(ctx context.Context, k ctxKey) string {
	v, _ := ctx.Value(k).(string)
	return v
}

func attrs(ctx context.Context) []slog.Attr {
	var out []slog.Attr
	for _, f := range fields {
		if v := value(ctx, f.key); v != "" {
			out = append(out, slog.String(f.attr, v))
		}
	}
	return out
}

// LogWith binds the correlation values in ctx to logger, for code that
// logs without passing a context.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range attrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler adds the correlation values of the record's context.
// Only the *Context logging methods carry one.
type CorrelationHandler struct {
	inner slog.Handler
}

func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(attrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// ParseLevel accepts the --log-level values. Anything unrecognized is info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

package logging

import (
	"context"
	"log/slog"
)

// CorrelationIDKey is the attribute name of the correlation id.
const CorrelationIDKey = "correlation_id"

type correlationIDKey struct{}

// WithCorrelationID returns a child context carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, id)
}

// CorrelationID returns the correlation id stored in ctx, if any.
func CorrelationID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(correlationIDKey{}).(string)
	return id, ok && id != ""
}

// CorrelationIDExtractor adds the correlation id to a record.
func CorrelationIDExtractor(ctx context.Context) (slog.Attr, bool) {
	id, ok := CorrelationID(ctx)
	if !ok {
		return slog.Attr{}, false
	}
	return slog.String(CorrelationIDKey, id), true
}

// ContextExtractor derives an attribute from the context of a log call.
type ContextExtractor func(ctx context.Context) (slog.Attr, bool)

// ContextHandler wraps a slog.Handler and appends context-derived attributes
// to every record. Extraction runs per call so values set later in a request
// are picked up.
type ContextHandler struct {
	next       slog.Handler
	extractors []ContextExtractor
}

// NewContextHandler wraps next. Nil extractors are dropped.
func NewContextHandler(next slog.Handler, extractors ...ContextExtractor) slog.Handler {
	clean := make([]ContextExtractor, 0, len(extractors))
	for _, ex := range extractors {
		if ex != nil {
			clean = append(clean, ex)
		}
	}
	return &ContextHandler{next: next, extractors: clean}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, rec slog.Record) error {
	for _, ex := range h.extractors {
		if attr, ok := ex(ctx); ok {
			rec.AddAttrs(attr)
		}
	}
	return h.next.Handle(ctx, rec)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{next: h.next.WithAttrs(attrs), extractors: h.extractors}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{next: h.next.WithGroup(name), extractors: h.extractors}
}

package logging

import (
	"context"
	"log/slog"
)

// Handler decorates an slog.Handler with context fields and redaction.
type Handler struct {
	inner    slog.Handler
	redactor *Redactor
	// bound holds keys already attached with WithAttrs, so context fields
	// do not duplicate them.
	bound  map[string]struct{}
	groups int
}

// NewHandler wraps inner. A nil redactor disables redaction.
func NewHandler(inner slog.Handler, redactor *Redactor) *Handler {
	return &Handler{inner: inner, redactor: redactor}
}

// Enabled reports whether the inner handler handles records at level.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle redacts the record and appends request-scoped fields from ctx.
func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	present := make(map[string]struct{}, rec.NumAttrs())
	out := slog.NewRecord(rec.Time, rec.Level, rec.Message, rec.PC)
	if h.redactor != nil {
		out.Message = h.redactor.RedactString(rec.Message)
	}

	rec.Attrs(func(a slog.Attr) bool {
		present[a.Key] = struct{}{}
		if h.redactor != nil {
			a = h.redactor.RedactAttr(a)
		}
		out.AddAttrs(a)
		return true
	})

	// Fields inside a group would be nested under it; only top-level
	// handlers attach them.
	if h.groups == 0 {
		out.AddAttrs(contextAttrs(ctx, func(key string) bool {
			if _, ok := present[key]; ok {
				return true
			}
			_, ok := h.bound[key]
			return ok
		})...)
	}

	return h.inner.Handle(ctx, out)
}

// WithAttrs returns a handler whose inner handler carries the redacted attrs.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}

	bound := make(map[string]struct{}, len(h.bound)+len(attrs))
	for k := range h.bound {
		bound[k] = struct{}{}
	}

	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		if h.groups == 0 {
			bound[a.Key] = struct{}{}
		}
		if h.redactor != nil {
			a = h.redactor.RedactAttr(a)
		}
		redacted[i] = a
	}

	return &Handler{
		inner:    h.inner.WithAttrs(redacted),
		redactor: h.redactor,
		bound:    bound,
		groups:   h.groups,
	}
}

// WithGroup returns a handler that nests subsequent attributes under name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &Handler{
		inner:    h.inner.WithGroup(name),
		redactor: h.redactor,
		bound:    h.bound,
		groups:   h.groups + 1,
	}
}

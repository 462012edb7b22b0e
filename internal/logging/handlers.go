package logging

import (
	"context"
	"errors"
	"log/slog"
)

// fanoutHandler copies each record to every sink that accepts its level.
// Sink errors are collected rather than aborting the remaining sinks, so a
// full disk never silences the console.
type fanoutHandler struct {
	sinks []slog.Handler
}

// NewFanout combines handlers into one. A single handler is returned as is.
func NewFanout(sinks ...slog.Handler) slog.Handler {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return &fanoutHandler{sinks: sinks}
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, s := range h.sinks {
		if s.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, s := range h.sinks {
		if !s.Enabled(ctx, r.Level) {
			continue
		}
		if err := s.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	sinks := make([]slog.Handler, len(h.sinks))
	for i, s := range h.sinks {
		sinks[i] = s.WithAttrs(attrs)
	}
	return &fanoutHandler{sinks: sinks}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	sinks := make([]slog.Handler, len(h.sinks))
	for i, s := range h.sinks {
		sinks[i] = s.WithGroup(name)
	}
	return &fanoutHandler{sinks: sinks}
}

// minLevelHandler drops records below a floor before they reach the wrapped
// handler, regardless of what the wrapped handler itself would accept. Used
// for the errors-only log file.
type minLevelHandler struct {
	next  slog.Handler
	floor slog.Level
}

// WithMinLevel wraps next so it only sees records at or above floor.
func WithMinLevel(next slog.Handler, floor slog.Level) slog.Handler {
	return &minLevelHandler{next: next, floor: floor}
}

func (h *minLevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.floor && h.next.Enabled(ctx, level)
}

func (h *minLevelHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < h.floor {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *minLevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &minLevelHandler{next: h.next.WithAttrs(attrs), floor: h.floor}
}

func (h *minLevelHandler) WithGroup(name string) slog.Handler {
	return &minLevelHandler{next: h.next.WithGroup(name), floor: h.floor}
}

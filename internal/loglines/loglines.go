// Package loglines buffers the log records of a single invocation and
// emits them in one batch when the invocation finishes. Hot paths then pay
// only for an append; the flush happens once, win or lose.
package loglines

import (
	"context"
	"log/slog"
	"sync"
)

// buffer holds the records of one invocation. All handlers derived via
// With share the same buffer so a single flush sees everything.
type buffer struct {
	mu   sync.Mutex
	recs []slog.Record
}

type handler struct {
	buf   *buffer
	attrs []slog.Attr
	level slog.Level
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *handler) Handle(_ context.Context, rec slog.Record) error {
	rec = rec.Clone()
	rec.AddAttrs(h.attrs...)
	h.buf.mu.Lock()
	h.buf.recs = append(h.buf.recs, rec)
	h.buf.mu.Unlock()
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &handler{buf: h.buf, attrs: merged, level: h.level}
}

func (h *handler) WithGroup(string) slog.Handler { return h }

// New returns a logger whose records are held in memory until flush is
// called. Flush forwards everything to sink in order and is safe to call
// exactly once from a defer on every exit path; later calls are no-ops.
func New(sink *slog.Logger) (*slog.Logger, func()) {
	h := &handler{buf: &buffer{}, level: slog.LevelDebug}
	var once sync.Once
	flush := func() {
		once.Do(func() {
			h.buf.mu.Lock()
			recs := h.buf.recs
			h.buf.recs = nil
			h.buf.mu.Unlock()
			for _, rec := range recs {
				if !sink.Enabled(context.Background(), rec.Level) {
					continue
				}
				_ = sink.Handler().Handle(context.Background(), rec)
			}
		})
	}
	return slog.New(h), flush
}

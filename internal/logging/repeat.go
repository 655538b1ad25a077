package logging

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// maxRepeatEntries bounds the fingerprints kept between prunes.
const maxRepeatEntries = 4096

// RepeatFilter drops a record identical to one handled within the window.
// Identity covers level, message, attributes and the handler's own attrs and
// groups, not the timestamp. The first record after the window carries a
// "suppressed" count of the records dropped meanwhile.
type RepeatFilter struct {
	handler slog.Handler
	window  time.Duration
	scope   uint64
	state   *repeatState
}

type repeatState struct {
	mu   sync.Mutex
	now  func() time.Time
	seen map[uint64]*repeatEntry
}

type repeatEntry struct {
	since      time.Time
	suppressed int
}

// NewRepeatFilter wraps handler.
func NewRepeatFilter(handler slog.Handler, window time.Duration) *RepeatFilter {
	return &RepeatFilter{
		handler: handler,
		window:  window,
		state: &repeatState{
			now:  time.Now,
			seen: make(map[uint64]*repeatEntry),
		},
	}
}

func (h *RepeatFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *RepeatFilter) Handle(ctx context.Context, r slog.Record) error {
	key := h.fingerprint(r)

	s := h.state
	s.mu.Lock()
	now := s.now()
	entry, ok := s.seen[key]
	if ok && now.Sub(entry.since) < h.window {
		entry.suppressed++
		s.mu.Unlock()
		return nil
	}
	suppressed := 0
	if ok {
		suppressed = entry.suppressed
	}
	s.seen[key] = &repeatEntry{since: now}
	if len(s.seen) > maxRepeatEntries {
		s.pruneLocked(now, h.window)
	}
	s.mu.Unlock()

	if suppressed > 0 {
		r = r.Clone()
		r.AddAttrs(slog.Int("suppressed", suppressed))
	}
	return h.handler.Handle(ctx, r)
}

func (h *RepeatFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	d := xxhash.New()
	writeUint64(d, h.scope)
	for _, a := range attrs {
		writeAttr(d, a)
	}
	return &RepeatFilter{handler: h.handler.WithAttrs(attrs), window: h.window, scope: d.Sum64(), state: h.state}
}

func (h *RepeatFilter) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	d := xxhash.New()
	writeUint64(d, h.scope)
	_, _ = d.WriteString("group:" + name)
	return &RepeatFilter{handler: h.handler.WithGroup(name), window: h.window, scope: d.Sum64(), state: h.state}
}

func (h *RepeatFilter) fingerprint(r slog.Record) uint64 {
	d := xxhash.New()
	writeUint64(d, h.scope)
	writeUint64(d, uint64(int64(r.Level)))
	_, _ = d.WriteString(r.Message)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(d, a)
		return true
	})
	return d.Sum64()
}

// caller must hold s.mu
func (s *repeatState) pruneLocked(now time.Time, window time.Duration) {
	for key, entry := range s.seen {
		if now.Sub(entry.since) >= window {
			delete(s.seen, key)
		}
	}
}

func writeAttr(d *xxhash.Digest, a slog.Attr) {
	_, _ = d.WriteString(a.Key)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(a.Value.Resolve().String())
	_, _ = d.Write([]byte{0})
}

func writeUint64(d *xxhash.Digest, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = d.Write(buf[:])
}

package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ConsoleLog is the append-only buffer of remote console output described
// in spec §3 ("Log"). It is bounded so a chatty node cannot grow memory
// without limit; once full, the oldest lines are dropped.
type ConsoleLog struct {
	mu    sync.Mutex
	lines []string
	cap   int
}

// NewConsoleLog creates a buffer holding at most capacity lines.
func NewConsoleLog(capacity int) *ConsoleLog {
	if capacity <= 0 {
		capacity = 1
	}
	return &ConsoleLog{cap: capacity}
}

// Append adds one line, evicting the oldest if the buffer is full.
func (c *ConsoleLog) Append(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, line)
	if len(c.lines) > c.cap {
		c.lines = c.lines[len(c.lines)-c.cap:]
	}
}

// Snapshot returns a copy of the current buffer contents, safe to read
// concurrently with further Append calls.
func (c *ConsoleLog) Snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines))
	copy(out, c.lines)
	return out
}

// slogHandler fans slog records into the ConsoleLog alongside whatever
// handler the caller already had configured, the same shape as the
// teacher's session-scoped fan-out handler: every record reaches the
// process-wide logger AND lands in the node's own inspectable buffer.
type slogHandler struct {
	next slog.Handler
	log  *ConsoleLog
}

// Handler wraps next so every record handled is also appended to this
// node's ConsoleLog as a single formatted line.
func (c *ConsoleLog) Handler(next slog.Handler) slog.Handler {
	return &slogHandler{next: next, log: c}
}

func (h *slogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *slogHandler) Handle(ctx context.Context, r slog.Record) error {
	line := fmt.Sprintf("[%s] %s", r.Level, r.Message)
	r.Attrs(func(a slog.Attr) bool {
		line += fmt.Sprintf(" %s=%v", a.Key, a.Value.Any())
		return true
	})
	h.log.Append(line)
	return h.next.Handle(ctx, r)
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &slogHandler{next: h.next.WithAttrs(attrs), log: h.log}
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	return &slogHandler{next: h.next.WithGroup(name), log: h.log}
}

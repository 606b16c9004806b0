package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// fanOutHandler dispatches every record to two handlers at once. Used
// by NewNodeLogger to write simultaneously to the process-wide logger
// and a node-dedicated log file.
type fanOutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *fanOutHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.primary.Enabled(ctx, r.Level) {
		if err := h.primary.Handle(ctx, r); err != nil {
			return err
		}
	}
	// A write failure on the node's own file must never suppress the
	// process-wide log.
	if h.secondary.Enabled(ctx, r.Level) {
		_ = h.secondary.Handle(ctx, r)
	}
	return nil
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithAttrs(attrs),
		secondary: h.secondary.WithAttrs(attrs),
	}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	return &fanOutHandler{
		primary:   h.primary.WithGroup(name),
		secondary: h.secondary.WithGroup(name),
	}
}

// NewNodeLogger creates a logger that writes both to baseLogger
// (global) and to a file dedicated to one node, at:
//
//	{nodeLogDir}/{nodeName}.log
//
// Returns the enriched logger, an io.Closer for the node file (must be
// closed when the node disconnects for the last time), and the file's
// path (nodeLogDir joined with the file name, so relative when nodeLogDir
// is relative). If nodeLogDir is empty, returns baseLogger unchanged.
func NewNodeLogger(baseLogger *slog.Logger, nodeLogDir, nodeName string) (*slog.Logger, io.Closer, string, error) {
	if nodeLogDir == "" {
		return baseLogger, io.NopCloser(nil), "", nil
	}

	if err := os.MkdirAll(nodeLogDir, 0755); err != nil {
		return nil, nil, "", fmt.Errorf("creating node log directory %s: %w", nodeLogDir, err)
	}

	logPath := filepath.Join(nodeLogDir, nodeName+".log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, "", fmt.Errorf("opening node log file %s: %w", logPath, err)
	}

	// The node's own file always runs at DEBUG to capture everything,
	// regardless of the global logger's configured level.
	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})

	combined := &fanOutHandler{
		primary:   baseLogger.Handler(),
		secondary: fileHandler,
	}

	return slog.New(combined), f, logPath, nil
}

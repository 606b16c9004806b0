package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewNodeLoggerNoOpWhenDirEmpty(t *testing.T) {
	base := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	got, closer, path, err := NewNodeLogger(base, "", "render-box")
	if err != nil {
		t.Fatalf("NewNodeLogger: %v", err)
	}
	if got != base {
		t.Fatal("expected base logger returned unchanged when nodeLogDir is empty")
	}
	if path != "" {
		t.Fatalf("expected empty path, got %q", path)
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("closer.Close: %v", err)
	}
}

func TestNewNodeLoggerWritesBothHandlers(t *testing.T) {
	dir := t.TempDir()
	var baseBuf bytes.Buffer
	base := slog.New(slog.NewTextHandler(&baseBuf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logger, closer, path, err := NewNodeLogger(base, dir, "render-box")
	if err != nil {
		t.Fatalf("NewNodeLogger: %v", err)
	}
	defer closer.Close()

	if path != filepath.Join(dir, "render-box.log") {
		t.Fatalf("path = %q", path)
	}

	logger.Info("node connected", "address", "10.0.0.5:9191")
	logger.Debug("chunk uploaded", "seq", 3)

	if !strings.Contains(baseBuf.String(), "node connected") {
		t.Fatal("expected base logger to receive the info record")
	}
	if strings.Contains(baseBuf.String(), "chunk uploaded") {
		t.Fatal("base logger is INFO level, debug record must not reach it")
	}

	fileData, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading node log file: %v", err)
	}
	if !strings.Contains(string(fileData), "node connected") || !strings.Contains(string(fileData), "chunk uploaded") {
		t.Fatalf("expected both records in the node-dedicated file, got: %s", fileData)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rendermesh/nodeclient/internal/filesync"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "client.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadClientConfigDefaults(t *testing.T) {
	path := writeTempConfig(t, `
client:
  protocol_version: 4
server:
  address: "10.0.0.5:9191"
`)
	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.Recover.Attempts != 5 {
		t.Fatalf("Recover.Attempts = %d, want 5", cfg.Recover.Attempts)
	}
	if cfg.Retry.Render != 3 || cfg.Retry.Peek != 3 {
		t.Fatalf("expected default render/peek retry caps of 3, got %+v", cfg.Retry)
	}
	if cfg.Retry.Batch != 0 {
		t.Fatalf("expected default batch retry cap of 0 (unbounded), got %d", cfg.Retry.Batch)
	}
	if cfg.Sync.Compression != "none" {
		t.Fatalf("Sync.Compression = %q, want none", cfg.Sync.Compression)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
}

func TestLoadClientConfigRequiresServerAddress(t *testing.T) {
	path := writeTempConfig(t, `
client:
  protocol_version: 4
`)
	if _, err := LoadClientConfig(path); err == nil {
		t.Fatal("expected error for missing server.address")
	}
}

func TestLoadClientConfigRejectsBadCompression(t *testing.T) {
	path := writeTempConfig(t, `
client:
  protocol_version: 4
server:
  address: "10.0.0.5:9191"
sync:
  compression: "lzma"
`)
	if _, err := LoadClientConfig(path); err == nil {
		t.Fatal("expected error for unsupported compression mode")
	}
}

func TestParseByteSizeSuffixes(t *testing.T) {
	cases := map[string]int64{
		"0":     0,
		"512":   512,
		"1kb":   1024,
		"10mb":  10 * 1024 * 1024,
		"1gb":   1024 * 1024 * 1024,
		"":      0,
	}
	for in, want := range cases {
		got, err := ParseByteSize(in)
		if err != nil {
			t.Fatalf("ParseByteSize(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseByteSize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestSyncConfigCompressionMode(t *testing.T) {
	cases := map[string]filesync.Compression{
		"none": filesync.CompressionNone,
		"":     filesync.CompressionNone,
		"gzip": filesync.CompressionGzip,
		"zstd": filesync.CompressionZstd,
	}
	for in, want := range cases {
		got := SyncConfig{Compression: in}.CompressionMode()
		if got != want {
			t.Fatalf("CompressionMode(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestLoadSettingsMissingFileReturnsZeroValue(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s.PastClients == nil || s.ProjectSettings == nil {
		t.Fatal("expected maps initialized even on first run")
	}
}

func TestSettingsSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	s := &Settings{
		LocalBlendFiles:     []string{"scene.blend"},
		ListenForBroadcasts: true,
		LastVersion:         "4.1.0",
		History:             []string{"scene.blend"},
		PastClients: map[string]PastClient{
			"node-1": {Name: "render-box", Address: "10.0.0.5:9191", RenderType: "CUDA", Performance: 1.5, Mac: "AA:BB:CC:DD:EE:FF"},
		},
		ProjectSettings: map[string]ProjectSetting{
			"/projects/scene": {UseNetworked: true, NetPathLinux: "/mnt/scene.blend"},
		},
		OptionAutoConnect: true,
	}
	if err := Save(path, s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if loaded.LastVersion != "4.1.0" || !loaded.ListenForBroadcasts {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	if loaded.PastClients["node-1"].Address != "10.0.0.5:9191" {
		t.Fatalf("pastClients round trip mismatch: %+v", loaded.PastClients)
	}
}

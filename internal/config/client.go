package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rendermesh/nodeclient/internal/filesync"
	"github.com/rendermesh/nodeclient/internal/rendertask"
)

// ClientConfig is the ambient configuration for a single RenderNode
// client session: protocol identity, server address, recovery policy,
// per-task retry budgets, sync bandwidth/compression defaults, and
// logging. It is distinct from the per-node persisted state blob
// (settings.go), which is a read/write external-collaborator contract
// with its own stable JSON schema.
type ClientConfig struct {
	Client  ClientIdentity `yaml:"client"`
	Server  ServerAddr     `yaml:"server"`
	Recover RecoverConfig  `yaml:"recover"`
	Retry   RetryConfig    `yaml:"retry"`
	Sync    SyncConfig     `yaml:"sync"`
	Logging LoggingInfo    `yaml:"logging"`
}

// ClientIdentity identifies this build to every node it connects to.
type ClientIdentity struct {
	Major           int `yaml:"major"`
	Minor           int `yaml:"minor"`
	Patch           int `yaml:"patch"`
	ProtocolVersion int `yaml:"protocol_version"`
}

// ServerAddr is the default node address to dial, overridable per call.
type ServerAddr struct {
	Address string `yaml:"address"`
}

// RecoverConfig bounds connectRecover's reconnect loop.
type RecoverConfig struct {
	Attempts int           `yaml:"attempts"`
	Interval time.Duration `yaml:"interval"`
}

// RetryConfig mirrors rendertask.RetryBudget in YAML form.
type RetryConfig struct {
	Render int `yaml:"render"`
	Peek   int `yaml:"peek"`
	Batch  int `yaml:"batch"`
}

// Budget converts the loaded config into a rendertask.RetryBudget.
func (r RetryConfig) Budget() rendertask.RetryBudget {
	return rendertask.RetryBudget{Render: r.Render, Peek: r.Peek, Batch: r.Batch}
}

// SyncConfig holds the default bandwidth cap and compression mode for
// the File Sync Pipeline. The 10 MiB chunk size itself is a protocol
// invariant, not configuration, and is not exposed here.
type SyncConfig struct {
	Bandwidth    string `yaml:"bandwidth"` // e.g. "0" (unlimited), "50mb"
	BandwidthRaw int64  `yaml:"-"`
	Compression  string `yaml:"compression"` // "none", "gzip", "zstd"
}

// CompressionMode converts the validated Compression string into the
// filesync.Compression enum SyncFile expects.
func (s SyncConfig) CompressionMode() filesync.Compression {
	switch s.Compression {
	case "gzip":
		return filesync.CompressionGzip
	case "zstd":
		return filesync.CompressionZstd
	default:
		return filesync.CompressionNone
	}
}

// LoggingInfo mirrors the teacher's logging configuration shape.
type LoggingInfo struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// LoadClientConfig reads and validates the YAML configuration file at
// path, filling in defaults for anything left unset.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client config: %w", err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, fmt.Errorf("validating client config: %w", err)
	}
	return &cfg, nil
}

func (c *ClientConfig) applyDefaults() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Client.ProtocolVersion <= 0 {
		return fmt.Errorf("client.protocol_version is required")
	}

	if c.Recover.Attempts <= 0 {
		c.Recover.Attempts = 5
	}
	if c.Recover.Interval <= 0 {
		c.Recover.Interval = 1 * time.Second
	}

	if c.Retry.Render <= 0 {
		c.Retry.Render = 3
	}
	if c.Retry.Peek <= 0 {
		c.Retry.Peek = 3
	}
	// Retry.Batch left at whatever was configured; <= 0 means unbounded,
	// matching the reference policy's asymmetry.

	if c.Sync.Bandwidth == "" {
		c.Sync.Bandwidth = "0"
	}
	bw, err := ParseByteSize(c.Sync.Bandwidth)
	if err != nil {
		return fmt.Errorf("sync.bandwidth: %w", err)
	}
	c.Sync.BandwidthRaw = bw

	if c.Sync.Compression == "" {
		c.Sync.Compression = "none"
	}
	switch c.Sync.Compression {
	case "none", "gzip", "zstd":
	default:
		return fmt.Errorf("sync.compression must be one of none/gzip/zstd, got %q", c.Sync.Compression)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}

// ParseByteSize converts human-readable sizes like "256mb", "1gb" into
// a byte count. A bare number is interpreted as bytes; "0" or empty
// input yields 0.
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, nil
	}

	type suffix struct {
		s string
		m int64
	}
	suffixes := []suffix{
		{"gb", 1024 * 1024 * 1024},
		{"mb", 1024 * 1024},
		{"kb", 1024},
		{"b", 1},
	}

	for _, sfx := range suffixes {
		if strings.HasSuffix(s, sfx.s) {
			numStr := strings.TrimSuffix(s, sfx.s)
			num, err := strconv.ParseInt(numStr, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid number %q: %w", numStr, err)
			}
			return num * sfx.m, nil
		}
	}

	num, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unknown size format %q", s)
	}
	return num, nil
}

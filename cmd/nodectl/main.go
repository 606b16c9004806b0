// Command nodectl connects to a single RenderNode daemon, performs the
// protocol handshake, optionally uploads one blend file, routes the
// node's events to a render task controller, and keeps the connection
// open until interrupted. It issues no render requests itself. It is
// the minimal wiring point for internal/node, internal/transport,
// internal/handshake, internal/filesync, internal/rendertask,
// internal/recovery, and internal/diag.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rendermesh/nodeclient/internal/config"
	"github.com/rendermesh/nodeclient/internal/diag"
	"github.com/rendermesh/nodeclient/internal/filesync"
	"github.com/rendermesh/nodeclient/internal/handshake"
	"github.com/rendermesh/nodeclient/internal/logging"
	"github.com/rendermesh/nodeclient/internal/node"
	"github.com/rendermesh/nodeclient/internal/recovery"
	"github.com/rendermesh/nodeclient/internal/rendertask"
	"github.com/rendermesh/nodeclient/internal/transport"
	"github.com/rendermesh/nodeclient/internal/wol"
)

func main() {
	configPath := flag.String("config", "/etc/nodectl/client.yaml", "path to client config file")
	settingsPath := flag.String("settings", "", "path to the persisted settings blob (optional)")
	nodeName := flag.String("name", "node-1", "friendly name for this node session")
	address := flag.String("address", "", "node address, overrides server.address from config")
	nodeLogDir := flag.String("node-log-dir", "", "directory for per-node log files (empty disables)")
	mac := flag.String("wol-mac", "", "MAC address to wake before connecting (optional)")
	syncFile := flag.String("sync-file", "", "local blend file to upload once connected (optional)")
	syncSession := flag.String("sync-session", "", "session id the uploaded file belongs to")
	syncFileID := flag.Int64("sync-file-id", 1, "monotonic file id reported with the sync")
	flag.Parse()

	cfg, err := config.LoadClientConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	baseLogger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer logCloser.Close()

	logger, nodeLogCloser, nodeLogPath, err := logging.NewNodeLogger(baseLogger, *nodeLogDir, *nodeName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating node logger: %v\n", err)
		os.Exit(1)
	}
	defer nodeLogCloser.Close()
	if nodeLogPath != "" {
		logger.Info("writing node log", "path", nodeLogPath)
	}

	if *settingsPath != "" {
		if _, err := config.LoadSettings(*settingsPath); err != nil {
			logger.Warn("could not load persisted settings, continuing with defaults", "error", err)
		}
	}

	nodeAddress := cfg.Server.Address
	if *address != "" {
		nodeAddress = *address
	}

	nd := node.New(*nodeName, nodeAddress)
	if *mac != "" {
		nd.SetMac(*mac)
	}

	monitor := diag.NewLocalMonitor(logger, nd.ConsoleLog().Append, 15*time.Second)
	monitor.Start()
	defer monitor.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, nd, logger, *syncFile, *syncSession, *syncFileID); err != nil {
		logger.Error("nodectl exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.ClientConfig, nd *node.Node, logger logSink, syncFilePath, syncSession string, syncFileID int64) error {
	if nd.Mac() != "" {
		if err := wol.Wake(nd.Mac()); err != nil {
			logger.Warn("wake-on-LAN failed, continuing anyway", "error", err)
		}
	}

	conn := transport.New(nd.Address(), nil)
	conn.OnConnected(func() {
		nd.SetConnected(true)
		logger.Info("node connected", "address", nd.Address())
	})
	conn.OnDisconnected(func(err error) {
		nd.SetConnected(false)
		nd.SetException(fmt.Sprintf("%v", err))
		logger.Warn("node disconnected", "error", err)
	})

	clientInfo := handshake.ClientInfo{
		Major:           cfg.Client.Major,
		Minor:           cfg.Client.Minor,
		Patch:           cfg.Client.Patch,
		ProtocolVersion: cfg.Client.ProtocolVersion,
	}

	recoverFn := func(ctx context.Context, sessions []string) error {
		return recovery.ConnectRecover(ctx, conn, nd, clientInfo, nd.Pass(), cfg.Recover.Attempts, cfg.Recover.Interval, sessions)
	}
	controller := rendertask.New(conn, nd, recoverFn, cfg.Retry.Budget())
	conn.OnEvent(controller.HandleEvent)

	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to node: %w", err)
	}
	if err := handshake.Perform(ctx, conn, nd, clientInfo, nd.Pass()); err != nil {
		// A failed handshake (outdated protocol, rejected auth) closes the
		// connection per spec §4.C/§8 scenario 2 rather than leaving a
		// half-alive socket behind.
		_ = conn.Close()
		return fmt.Errorf("handshake: %w", err)
	}

	if syncFilePath != "" {
		if err := syncLocalFile(ctx, conn, nd, cfg, syncFilePath, syncSession, syncFileID, logger); err != nil {
			logger.Warn("initial file sync failed", "error", err)
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")
	return conn.Close()
}

// syncLocalFile uploads path as the blend file for sessionID, honoring
// the configured bandwidth cap and compression mode before the render
// task controller takes over the connection.
func syncLocalFile(ctx context.Context, conn *transport.Connection, nd *node.Node, cfg *config.ClientConfig, path, sessionID string, fileID int64, logger logSink) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	logger.Info("syncing file", "path", path, "sessionId", sessionID, "bandwidth", cfg.Sync.BandwidthRaw, "compression", cfg.Sync.Compression)
	return filesync.SyncFile(ctx, conn, nd, sessionID, fileID, f, info.Size(), cfg.Sync.CompressionMode(), cfg.Sync.BandwidthRaw)
}

// logSink is the narrow slog.Logger surface run() needs, kept as an
// interface purely so it lines up with *slog.Logger's method set
// without importing log/slog into this file's signature twice.
type logSink = interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

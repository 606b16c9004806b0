// Package filesync implements the File Sync Pipeline: uploading a local
// blend file to a node in fixed-size chunks, or pointing the node at a
// network share, each converging on the server's CheckSync verification
// probe before a session is marked synced.
package filesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"runtime"

	"github.com/rendermesh/nodeclient/internal/node"
	"github.com/rendermesh/nodeclient/internal/wire"
)

// ChunkSize is the fixed transfer unit used by direct uploads (spec §4.E).
const ChunkSize = 10 * 1024 * 1024

// ErrSyncFailed wraps every failure reported by the server side of the
// pipeline, whether at init, during transfer, at finalize, or at verify.
var ErrSyncFailed = errors.New("filesync: sync failed")

// Requester is the subset of transport.Connection the pipeline needs.
type Requester interface {
	SendRequest(ctx context.Context, typ wire.Type, payload any, expectedReplyType wire.Type) ([]byte, error)
}

// Compression selects how chunk payloads are encoded on the wire. The
// zero value means no compression.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionZstd
)

type syncStartRequest struct {
	SessionID   string      `json:"sessionId"`
	FileID      int64       `json:"fileId"`
	Compression Compression `json:"compression"`
}

type syncStartResponse struct {
	Success  bool   `json:"success"`
	SameFile bool   `json:"sameFile"`
	UploadID string `json:"uploadId"`
	Message  string `json:"message"`
}

type syncUploadRequest struct {
	UploadID string `json:"uploadId"`
	Data     []byte `json:"data"`
}

type syncAckResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type syncCompleteRequest struct {
	UploadID string `json:"uploadId"`
}

type checkSyncRequest struct {
	SessionID string `json:"sessionId"`
	FileID    int64  `json:"fileId"`
}

type checkSyncResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type syncNetworkRequest struct {
	SessionID   string `json:"sessionId"`
	FileID      int64  `json:"fileId"`
	WindowsPath string `json:"windowsPath"`
	LinuxPath   string `json:"linuxPath"`
	MacPath     string `json:"macPath"`
}

// NetworkPaths carries the per-OS path variants sent in a SyncNetwork
// request; the server resolves whichever one matches the node's OS.
type NetworkPaths struct {
	Windows string
	Linux   string
	Mac     string
}

// SyncFile runs the direct chunked upload entry point. stream is read to
// EOF in ChunkSize pieces; size is the total byte count used to compute
// upload progress percentages. bandwidthBytesPerSec caps the read rate
// off stream (see ThrottledReader); <= 0 means unthrottled.
func SyncFile(ctx context.Context, req Requester, nd *node.Node, sessionID string, fileID int64, stream io.Reader, size int64, compression Compression, bandwidthBytesPerSec int64) error {
	defer nd.SetActivity("")
	stream = NewThrottledReader(ctx, stream, bandwidthBytesPerSec)

	startPayload, err := req.SendRequest(ctx, wire.TypeSync, syncStartRequest{
		SessionID:   sessionID,
		FileID:      fileID,
		Compression: compression,
	}, wire.TypeSync)
	if err != nil {
		return fmt.Errorf("%w: SyncStart: %v", ErrSyncFailed, err)
	}
	var start syncStartResponse
	if err := unmarshal(startPayload, &start); err != nil {
		return fmt.Errorf("filesync: decoding SyncStartResponse: %w", err)
	}
	if !start.Success {
		nd.MarkUnsynced(sessionID)
		return fmt.Errorf("%w: %s", ErrSyncFailed, start.Message)
	}
	if start.SameFile {
		nd.MarkSynced(sessionID, fileID)
		return nil
	}

	nd.SetActivity("Syncing (0.0%)")

	var written int64
	buf := make([]byte, ChunkSize)
	for {
		n, readErr := io.ReadFull(stream, buf)
		if n > 0 {
			encoded, encErr := compressChunk(compression, buf[:n])
			if encErr != nil {
				nd.MarkUnsynced(sessionID)
				return fmt.Errorf("%w: %v", ErrSyncFailed, encErr)
			}
			chunkPayload, err := req.SendRequest(ctx, wire.TypeSyncUpload, syncUploadRequest{
				UploadID: start.UploadID,
				Data:     encoded,
			}, wire.TypeSyncUpload)
			if err != nil {
				nd.MarkUnsynced(sessionID)
				return fmt.Errorf("%w: SyncUpload: %v", ErrSyncFailed, err)
			}
			var ack syncAckResponse
			if err := unmarshal(chunkPayload, &ack); err != nil {
				return fmt.Errorf("filesync: decoding SyncUpload ack: %w", err)
			}
			if !ack.Success {
				nd.MarkUnsynced(sessionID)
				return fmt.Errorf("%w: %s", ErrSyncFailed, ack.Message)
			}

			written += int64(n)
			if size > 0 {
				pct := math.Round(float64(written)/float64(size)*1000) / 10
				nd.SetActivity(fmt.Sprintf("Syncing (%.1f%%)", pct))
			}
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			nd.MarkUnsynced(sessionID)
			return fmt.Errorf("%w: reading source stream: %v", ErrSyncFailed, readErr)
		}
	}

	completePayload, err := req.SendRequest(ctx, wire.TypeSyncComplete, syncCompleteRequest{UploadID: start.UploadID}, wire.TypeSyncComplete)
	if err != nil {
		nd.MarkUnsynced(sessionID)
		return fmt.Errorf("%w: SyncComplete: %v", ErrSyncFailed, err)
	}
	var complete syncAckResponse
	if err := unmarshal(completePayload, &complete); err != nil {
		return fmt.Errorf("filesync: decoding SyncComplete ack: %w", err)
	}
	if !complete.Success {
		nd.MarkUnsynced(sessionID)
		return fmt.Errorf("%w: %s", ErrSyncFailed, complete.Message)
	}

	return verify(ctx, req, nd, sessionID, fileID)
}

// SyncNetworkFile points the node at a network share instead of
// streaming the file over the connection.
func SyncNetworkFile(ctx context.Context, req Requester, nd *node.Node, sessionID string, fileID int64, paths NetworkPaths) error {
	defer nd.SetActivity("")
	nd.SetActivity("Syncing (network)")

	payload, err := req.SendRequest(ctx, wire.TypeSyncNetwork, syncNetworkRequest{
		SessionID:   sessionID,
		FileID:      fileID,
		WindowsPath: paths.Windows,
		LinuxPath:   paths.Linux,
		MacPath:     paths.Mac,
	}, wire.TypeSyncNetwork)
	if err != nil {
		nd.MarkUnsynced(sessionID)
		return fmt.Errorf("%w: SyncNetwork: %v", ErrSyncFailed, err)
	}
	var resp syncStartResponse
	if err := unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("filesync: decoding SyncNetworkResponse: %w", err)
	}
	if !resp.Success {
		nd.MarkUnsynced(sessionID)
		return fmt.Errorf("%w: %s", ErrSyncFailed, resp.Message)
	}
	if resp.SameFile {
		nd.MarkSynced(sessionID, fileID)
		return nil
	}

	return verify(ctx, req, nd, sessionID, fileID)
}

func verify(ctx context.Context, req Requester, nd *node.Node, sessionID string, fileID int64) error {
	payload, err := req.SendRequest(ctx, wire.TypeCheckSync, checkSyncRequest{SessionID: sessionID, FileID: fileID}, wire.TypeCheckSync)
	if err != nil {
		nd.MarkUnsynced(sessionID)
		return fmt.Errorf("%w: CheckSync: %v", ErrSyncFailed, err)
	}
	var resp checkSyncResponse
	if err := unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("filesync: decoding CheckSyncResponse: %w", err)
	}
	if !resp.Success {
		nd.MarkUnsynced(sessionID)
		return fmt.Errorf("%w: %s", ErrSyncFailed, resp.Message)
	}
	nd.MarkSynced(sessionID, fileID)
	return nil
}

// LocalNetworkPath picks the path matching the runtime's OS family, for
// callers assembling a NetworkPaths from a single local path.
func LocalNetworkPath(paths NetworkPaths) string {
	switch runtime.GOOS {
	case "windows":
		return paths.Windows
	case "darwin":
		return paths.Mac
	default:
		return paths.Linux
	}
}

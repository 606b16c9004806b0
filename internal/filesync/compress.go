package filesync

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// compressChunk encodes a chunk according to the negotiated compression
// mode before it is placed in a SyncUpload request. CompressionNone
// returns the input unchanged.
func compressChunk(mode Compression, data []byte) ([]byte, error) {
	switch mode {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		var buf bytes.Buffer
		w, err := pgzip.NewWriterLevel(&buf, pgzip.BestSpeed)
		if err != nil {
			return nil, fmt.Errorf("filesync: creating gzip writer: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("filesync: gzip-compressing chunk: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("filesync: closing gzip writer: %w", err)
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return nil, fmt.Errorf("filesync: creating zstd encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("filesync: unknown compression mode %d", mode)
	}
}

// decompressChunk reverses compressChunk, used by tests exercising the
// round trip against a fake server that echoes compressed payloads.
func decompressChunk(mode Compression, data []byte) ([]byte, error) {
	switch mode {
	case CompressionNone:
		return data, nil
	case CompressionGzip:
		r, err := pgzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("filesync: creating gzip reader: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionZstd:
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("filesync: creating zstd decoder: %w", err)
		}
		defer dec.Close()
		return io.ReadAll(dec)
	default:
		return nil, fmt.Errorf("filesync: unknown compression mode %d", mode)
	}
}

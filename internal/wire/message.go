// Package wire implements the RenderNode binary framing protocol: tagged
// request/response/event messages correlated by id over a duplex byte
// stream.
package wire

import "errors"

// Kind discriminates the three message shapes the protocol exchanges.
type Kind byte

const (
	KindRequest  Kind = 1
	KindResponse Kind = 2
	KindEvent    Kind = 3
)

// Type identifies the payload carried by a message. Requests and their
// replies share a Type (e.g. TypeRender both on the request and its
// RenderResponse) — Kind plus Type together disambiguate.
type Type byte

const (
	TypeCheckProtocol Type = iota + 1
	TypeAuth
	TypeComputerInfo
	TypePrepare
	TypeIsVersionAvailable
	TypeSync
	TypeSyncUpload
	TypeSyncComplete
	TypeSyncNetwork
	TypeCheckSync
	TypeRender
	TypeRenderBatch
	TypeBlenderPeek
	TypeIsBusy
	TypeCancelRender
	TypeRecover

	// Server-initiated event types. No client request precedes these.
	TypeRenderInfo
	TypeRenderBatchResult
	TypeActivityRequest
	TypeConsoleActivity
	TypeDisconnected
)

// Header size on the wire: 4B length + 1B kind + 1B type + 16B correlation id.
const headerSize = 4 + 1 + 1 + 16

// MaxFrameSize bounds a single frame's payload to guard against a
// malformed length prefix exhausting memory.
const MaxFrameSize = 64 * 1024 * 1024

var (
	// ErrProtocol marks a malformed frame or a reply of the wrong type —
	// both are fatal to the Connection per spec.
	ErrProtocol = errors.New("wire: protocol error")

	// ErrDisconnected is delivered to every outstanding waiter when the
	// transport drops mid-flight.
	ErrDisconnected = errors.New("wire: disconnected")

	// ErrClosed is returned by SendRequest once the codec has shut down
	// (after Close or a dropped transport), and is the close cause Close
	// records.
	ErrClosed = errors.New("wire: codec closed")
)

// ID is a correlation id. The zero ID is used for oneway sends and for
// server-initiated events, which are never matched against a waiter table.
type ID [16]byte

// Envelope is the decoded form of one wire frame.
type Envelope struct {
	Kind    Kind
	Type    Type
	ID      ID
	Payload []byte // raw JSON payload
}

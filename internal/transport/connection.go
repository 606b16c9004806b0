// Package transport owns the duplex connection to one render node: dialing,
// running the read loop, demultiplexing frames, and publishing
// connect/disconnect lifecycle events exactly once per connection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/rendermesh/nodeclient/internal/wire"
)

// ErrNotConnected is returned by operations that require an open
// connection when none is present.
var ErrNotConnected = errors.New("transport: not connected")

// EventFunc handles one server-initiated event. Registered handlers are
// invoked off the read loop (see wire.Codec) so they may block without
// stalling frame delivery, but handlers themselves should stay quick since
// they share the codec's single dispatch goroutine.
type EventFunc func(wire.Envelope)

// Connection owns one transport (a net.Conn) to a node for the node's
// lifetime of connectedness. Closing the Connection drops the transport
// deterministically; calling Connect again after a drop or a Close dials
// a new transport on the same Connection.
type Connection struct {
	address string
	dial    func(ctx context.Context, address string) (net.Conn, error)

	mu        sync.Mutex
	conn      net.Conn
	codec     *wire.Codec
	connected bool

	onEvent        EventFunc
	onConnected    func()
	onDisconnected func(err error)

	dscp int
}

// New creates a Connection for address. dial may be overridden in tests;
// nil selects a plain TCP dial (confidential transport is explicitly out
// of scope for this protocol — see spec Non-goals).
func New(address string, dial func(ctx context.Context, address string) (net.Conn, error)) *Connection {
	if dial == nil {
		dial = func(ctx context.Context, address string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", address)
		}
	}
	return &Connection{address: address, dial: dial}
}

// OnEvent registers the handler invoked for every server-initiated event.
// Must be called before Connect.
func (c *Connection) OnEvent(fn EventFunc) { c.onEvent = fn }

// OnConnected registers a callback fired once per successful Connect.
func (c *Connection) OnConnected(fn func()) { c.onConnected = fn }

// OnDisconnected registers a callback fired once per lifecycle when the
// transport drops, with the error that ended the read loop. The error is
// never nil: a local Close surfaces as the read error from the closed
// transport.
func (c *Connection) OnDisconnected(fn func(err error)) { c.onDisconnected = fn }

// SetDSCP marks outgoing packets on this connection with the given DSCP
// code point once dialed, so render traffic can be prioritized on
// networks that honor it. Call before Connect; a zero value disables
// marking (the default). Only takes effect on *net.TCPConn transports.
func (c *Connection) SetDSCP(dscp int) { c.dscp = dscp }

// Connect dials the transport and starts the read loop. It does not run
// the protocol handshake — callers compose Connect with handshake.Perform.
// Connect on an already-connected Connection is a no-op (idempotent, per
// spec §8).
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx, c.address)
	if err != nil {
		return fmt.Errorf("transport: dial %s: %w", c.address, err)
	}

	if c.dscp != 0 {
		// Best-effort: a platform or transport that rejects the socket
		// option (e.g. a non-TCP net.Conn in tests) must not prevent
		// the node from connecting.
		_ = ApplyDSCP(conn, c.dscp)
	}

	codec := wire.NewCodec(conn, func(env wire.Envelope) {
		if c.onEvent != nil {
			c.onEvent(env)
		}
	})

	c.mu.Lock()
	c.conn = conn
	c.codec = codec
	c.connected = true
	c.mu.Unlock()

	go func() {
		runErr := codec.Run()
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		if c.onDisconnected != nil {
			c.onDisconnected(runErr)
		}
	}()

	if c.onConnected != nil {
		c.onConnected()
	}
	return nil
}

// Close closes the transport deterministically. Safe to call when not
// connected.
func (c *Connection) Close() error {
	c.mu.Lock()
	codec := c.codec
	c.connected = false
	c.mu.Unlock()
	if codec == nil {
		return nil
	}
	return codec.Close()
}

// Connected reports whether the transport is currently open.
func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SendRequest delegates to the underlying codec, failing fast with
// ErrNotConnected if no transport is open.
func (c *Connection) SendRequest(ctx context.Context, typ wire.Type, payload any, expectedReplyType wire.Type) ([]byte, error) {
	c.mu.Lock()
	codec := c.codec
	c.mu.Unlock()
	if codec == nil {
		return nil, ErrNotConnected
	}
	return codec.SendRequest(ctx, typ, payload, expectedReplyType)
}

// SendOneway delegates to the underlying codec.
func (c *Connection) SendOneway(typ wire.Type, payload any) error {
	c.mu.Lock()
	codec := c.codec
	c.mu.Unlock()
	if codec == nil {
		return ErrNotConnected
	}
	return codec.SendOneway(typ, payload)
}

package wire

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// EventHandler receives server-initiated events. It must not block — the
// Codec queues events onto a buffered channel and drains them on a
// dedicated goroutine so a slow handler never stalls the read loop.
type EventHandler func(Envelope)

// eventQueueSize bounds how many unconsumed events the Codec will buffer;
// once the queue is full the read loop drops the oldest queued event
// rather than block.
const eventQueueSize = 256

// Codec frames typed messages onto rw and correlates replies to requests
// by id. One Codec owns exactly one underlying stream for its lifetime.
type Codec struct {
	rw io.ReadWriteCloser

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[ID]chan result

	onEvent EventHandler
	events  chan Envelope

	closeMu  sync.Mutex
	closed   bool
	closeErr error
	done     chan struct{}
}

type result struct {
	env Envelope
	err error
}

// NewCodec wraps rw. onEvent may be nil, in which case events are
// discarded. Run must be called (typically in its own goroutine) to start
// the read loop before any SendRequest is issued.
func NewCodec(rw io.ReadWriteCloser, onEvent EventHandler) *Codec {
	c := &Codec{
		rw:      rw,
		pending: make(map[ID]chan result),
		onEvent: onEvent,
		events:  make(chan Envelope, eventQueueSize),
		done:    make(chan struct{}),
	}
	if onEvent != nil {
		go c.dispatchEvents()
	}
	return c
}

func (c *Codec) dispatchEvents() {
	for env := range c.events {
		c.onEvent(env)
	}
}

// Run drives the read loop until the transport closes or errors. It
// returns the terminal error (io.EOF when the peer closes cleanly; the
// closed-transport read error after a local Close). Callers typically
// run this in its own goroutine and treat any return as "disconnected".
func (c *Codec) Run() error {
	defer c.shutdown(nil)
	for {
		env, err := c.readFrame()
		if err != nil {
			c.shutdown(err)
			return err
		}

		switch env.Kind {
		case KindResponse:
			c.deliver(env, nil)
		case KindEvent:
			if c.onEvent != nil {
				select {
				case c.events <- env:
				default:
					// Queue full: drop the oldest-pending event rather than
					// block the read loop: correctness only requires
					// eventual delivery of *fresh* state, not every frame.
					select {
					case <-c.events:
					default:
					}
					c.events <- env
				}
			}
		default:
			c.shutdown(fmt.Errorf("%w: unexpected kind %d on read loop", ErrProtocol, env.Kind))
			return ErrProtocol
		}
	}
}

// shutdown marks the codec closed, records err (defaulting to
// ErrDisconnected) as the close cause, and wakes every pending waiter with
// ErrDisconnected. Safe to call multiple times.
func (c *Codec) shutdown(err error) {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return
	}
	c.closed = true
	if err == nil {
		err = ErrDisconnected
	}
	c.closeErr = err
	close(c.done)
	c.closeMu.Unlock()

	c.pendingMu.Lock()
	pending := c.pending
	c.pending = nil
	c.pendingMu.Unlock()

	// Every outstanding waiter is woken with ErrDisconnected regardless of
	// the underlying cause (EOF, protocol error, local Close) — callers
	// match on this sentinel to decide whether a retry-with-recovery is
	// appropriate; the diagnostic error is still available via Run()'s
	// return value and the Connection's onDisconnected callback.
	for _, ch := range pending {
		ch <- result{err: ErrDisconnected}
	}

	if c.onEvent != nil {
		close(c.events)
	}
	c.rw.Close()
}

// Close closes the underlying transport and releases waiters.
func (c *Codec) Close() error {
	c.shutdown(ErrClosed)
	return nil
}

func (c *Codec) deliver(env Envelope, err error) {
	c.pendingMu.Lock()
	ch, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- result{env: env, err: err}
	}
	// A response with no matching waiter (already cancelled, or a stray
	// frame) is silently dropped — the waiter side already gave up.
}

// SendOneway writes a request frame and returns once the write completes.
// No reply is expected or awaited (e.g. CancelRender).
func (c *Codec) SendOneway(typ Type, payload any) error {
	return c.send(KindRequest, typ, payload)
}

// SendEvent writes a server-initiated, unsolicited event frame. Used by
// the server side of the protocol (and by tests standing in for it); the
// client's read loop dispatches these through the EventHandler rather
// than the reply-waiter table.
func (c *Codec) SendEvent(typ Type, payload any) error {
	return c.send(KindEvent, typ, payload)
}

func (c *Codec) send(kind Kind, typ Type, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("wire: marshaling payload: %w", err)
	}
	return c.writeFrame(Envelope{Kind: kind, Type: typ, Payload: data})
}

// SendRequest assigns a fresh correlation id, registers a waiter, writes
// the request, and blocks until the matching reply arrives, ctx is done,
// or the transport drops. The caller supplies expectedReplyType; a reply
// of any other type is a protocol error that terminates the Connection.
func (c *Codec) SendRequest(ctx context.Context, typ Type, payload any, expectedReplyType Type) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("wire: marshaling payload: %w", err)
	}

	var id ID
	u := uuid.New()
	copy(id[:], u[:])

	ch := make(chan result, 1)
	c.pendingMu.Lock()
	if c.pending == nil {
		c.pendingMu.Unlock()
		return nil, ErrClosed
	}
	c.pending[id] = ch
	c.pendingMu.Unlock()

	if err := c.writeFrame(Envelope{Kind: KindRequest, Type: typ, ID: id, Payload: data}); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, err
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.env.Type != expectedReplyType {
			err := fmt.Errorf("%w: expected reply type %d, got %d", ErrProtocol, expectedReplyType, r.env.Type)
			c.shutdown(err)
			return nil, err
		}
		return r.env.Payload, nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrDisconnected
	}
}

func (c *Codec) closeErrOrDisconnected() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closeErr != nil {
		return c.closeErr
	}
	return ErrDisconnected
}

func (c *Codec) writeFrame(env Envelope) error {
	if len(env.Payload) > MaxFrameSize {
		return fmt.Errorf("%w: payload too large (%d bytes)", ErrProtocol, len(env.Payload))
	}

	buf := make([]byte, headerSize+len(env.Payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(headerSize-4+len(env.Payload)))
	buf[4] = byte(env.Kind)
	buf[5] = byte(env.Type)
	copy(buf[6:22], env.ID[:])
	copy(buf[22:], env.Payload)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.rw.Write(buf)
	if err != nil {
		return fmt.Errorf("wire: write: %w", err)
	}
	return nil
}

func (c *Codec) readFrame() (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.rw, lenBuf[:]); err != nil {
		return Envelope{}, err
	}
	frameLen := binary.BigEndian.Uint32(lenBuf[:])
	if frameLen < headerSize-4 || frameLen > MaxFrameSize {
		return Envelope{}, fmt.Errorf("%w: invalid frame length %d", ErrProtocol, frameLen)
	}

	rest := make([]byte, frameLen)
	if _, err := io.ReadFull(c.rw, rest); err != nil {
		return Envelope{}, err
	}

	env := Envelope{
		Kind: Kind(rest[0]),
		Type: Type(rest[1]),
	}
	copy(env.ID[:], rest[2:18])
	env.Payload = rest[18:]
	return env, nil
}

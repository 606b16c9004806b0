package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rendermesh/nodeclient/internal/wire"
)

// netPipeDial returns a dial func backed by net.Pipe, handing the server
// half of the pipe to the test via serverConnCh.
func netPipeDial(serverConnCh chan<- net.Conn) func(ctx context.Context, address string) (net.Conn, error) {
	return func(ctx context.Context, address string) (net.Conn, error) {
		client, server := net.Pipe()
		serverConnCh <- server
		return client, nil
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	serverConns := make(chan net.Conn, 4)
	c := New("node:1234", netPipeDial(serverConns))

	var connectedCount int
	var mu sync.Mutex
	c.OnConnected(func() {
		mu.Lock()
		connectedCount++
		mu.Unlock()
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("first connect: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	mu.Lock()
	n := connectedCount
	mu.Unlock()
	if n != 1 {
		t.Fatalf("onConnected fired %d times, want 1", n)
	}

	c.Close()
}

func TestDisconnectedCallbackFiresOnce(t *testing.T) {
	serverConns := make(chan net.Conn, 4)
	c := New("node:1234", netPipeDial(serverConns))

	disconnected := make(chan error, 1)
	c.OnDisconnected(func(err error) { disconnected <- err })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	server := <-serverConns
	server.Close()

	select {
	case err := <-disconnected:
		if err == nil {
			t.Fatal("expected non-nil disconnect error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for disconnect callback")
	}

	if c.Connected() {
		t.Fatal("Connected() should be false after disconnect")
	}
}

func TestEventsAreDelivered(t *testing.T) {
	serverConns := make(chan net.Conn, 4)
	c := New("node:1234", netPipeDial(serverConns))

	events := make(chan wire.Envelope, 1)
	c.OnEvent(func(env wire.Envelope) { events <- env })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	server := <-serverConns
	serverCodec := wire.NewCodec(server, nil)
	defer serverCodec.Close()

	if err := serverCodec.SendEvent(wire.TypeConsoleActivity, map[string]string{"line": "hi"}); err != nil {
		t.Fatalf("server send: %v", err)
	}

	select {
	case env := <-events:
		if env.Type != wire.TypeConsoleActivity {
			t.Fatalf("type = %d", env.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

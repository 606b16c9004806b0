// Package recovery implements reconnect-and-resume: re-handshake,
// reauthenticate, reclaim named sessions. It is invoked by the render
// task controller whenever a send observes a disconnected transport.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rendermesh/nodeclient/internal/handshake"
	"github.com/rendermesh/nodeclient/internal/node"
	"github.com/rendermesh/nodeclient/internal/wire"
)

// ErrRecoverFailed is returned once every reconnect attempt has been
// exhausted without a successful Recover reply.
var ErrRecoverFailed = errors.New("recovery: failed to recover connection")

// Connector is the subset of transport.Connection recovery needs: it
// must be able to (re)dial and, once connected, exchange requests.
type Connector interface {
	Connect(ctx context.Context) error
	Close() error
	SendRequest(ctx context.Context, typ wire.Type, payload any, expectedReplyType wire.Type) ([]byte, error)
}

type recoverRequest struct {
	SessionIDs []string `json:"sessionIds"`
}

type recoverResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ConnectRecover loops up to attempts times: connect, full handshake,
// then a Recover request naming sessions. Every per-connection cache
// (availableVersions) is reset on each successful reconnect, as a fresh
// connection re-queries rather than trusts stale state. It returns nil
// on the first iteration whose Recover reply reports success, and
// ErrRecoverFailed once attempts is exhausted.
func ConnectRecover(ctx context.Context, conn Connector, nd *node.Node, client handshake.ClientInfo, password string, attempts int, interval time.Duration, sessions []string) error {
	var lastErr error

	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrRecoverFailed, ctx.Err())
			}
		}

		if err := conn.Connect(ctx); err != nil {
			lastErr = fmt.Errorf("connect: %w", err)
			continue
		}

		if err := handshake.Perform(ctx, conn, nd, client, password); err != nil {
			// A failed handshake leaves the socket open but the session
			// unusable (spec §4.C: a handshake failure closes the
			// connection); close it so the next iteration's Connect
			// actually redials instead of no-op'ing against a connected
			// transport stuck mid-handshake.
			_ = conn.Close()
			lastErr = fmt.Errorf("handshake: %w", err)
			continue
		}
		nd.ResetAvailableVersions()

		payload, err := conn.SendRequest(ctx, wire.TypeRecover, recoverRequest{SessionIDs: sessions}, wire.TypeRecover)
		if err != nil {
			lastErr = fmt.Errorf("Recover request: %w", err)
			continue
		}
		var resp recoverResponse
		if err := json.Unmarshal(payload, &resp); err != nil {
			lastErr = fmt.Errorf("decoding RecoverResponse: %w", err)
			continue
		}
		if !resp.Success {
			lastErr = fmt.Errorf("server declined recovery: %s", resp.Message)
			continue
		}

		return nil
	}

	if lastErr != nil {
		return fmt.Errorf("%w: %v", ErrRecoverFailed, lastErr)
	}
	return ErrRecoverFailed
}

// Package handshake implements the RenderNode protocol handshake: version
// check, optional password authentication, and capability query, run on
// every fresh connection (spec §4.C) and rerun verbatim by Recovery.
package handshake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rendermesh/nodeclient/internal/node"
	"github.com/rendermesh/nodeclient/internal/wire"
)

func unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// ErrOutdatedProtocol is returned when the server's protocol version does
// not match the client's.
var ErrOutdatedProtocol = errors.New("handshake: outdated protocol")

// ErrAuthFailed is returned when the server requires auth and rejects the
// supplied password.
var ErrAuthFailed = errors.New("handshake: authentication failed")

// Requester is the subset of transport.Connection the handshake needs —
// kept as an interface so tests can supply an in-memory fake.
type Requester interface {
	SendRequest(ctx context.Context, typ wire.Type, payload any, expectedReplyType wire.Type) ([]byte, error)
}

// ClientInfo identifies this client build to the server.
type ClientInfo struct {
	Major, Minor, Patch int
	ProtocolVersion     int
}

type checkProtocolRequest struct {
	ClientMajor     int `json:"clientMajor"`
	ClientMinor     int `json:"clientMinor"`
	ClientPatch     int `json:"clientPatch"`
	ProtocolVersion int `json:"protocolVersion"`
}

type checkProtocolResponse struct {
	ProtocolVersion int  `json:"protocolVersion"`
	RequireAuth     bool `json:"requireAuth"`
}

type authRequest struct {
	Pass string `json:"pass"`
}

type authResponse struct {
	IsAuthenticated bool `json:"isAuthenticated"`
}

type computerInfoResponse struct {
	Name  string `json:"name"`
	OS    string `json:"os"`
	Cores int    `json:"cores"`
}

// Perform runs the handshake over req against nd, caching ComputerInfo
// into nd on success. It is idempotent across reconnects: every call
// starts from CheckProtocol regardless of prior state.
func Perform(ctx context.Context, req Requester, nd *node.Node, client ClientInfo, password string) error {
	payload, err := req.SendRequest(ctx, wire.TypeCheckProtocol, checkProtocolRequest{
		ClientMajor:     client.Major,
		ClientMinor:     client.Minor,
		ClientPatch:     client.Patch,
		ProtocolVersion: client.ProtocolVersion,
	}, wire.TypeCheckProtocol)
	if err != nil {
		return fmt.Errorf("handshake: CheckProtocol: %w", err)
	}

	var cpResp checkProtocolResponse
	if err := unmarshal(payload, &cpResp); err != nil {
		return fmt.Errorf("handshake: decoding CheckProtocolResponse: %w", err)
	}
	if cpResp.ProtocolVersion != client.ProtocolVersion {
		return fmt.Errorf("%w: server=%d client=%d", ErrOutdatedProtocol, cpResp.ProtocolVersion, client.ProtocolVersion)
	}

	if cpResp.RequireAuth {
		authPayload, err := req.SendRequest(ctx, wire.TypeAuth, authRequest{Pass: password}, wire.TypeAuth)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAuthFailed, err)
		}
		var aResp authResponse
		if err := unmarshal(authPayload, &aResp); err != nil {
			return fmt.Errorf("handshake: decoding AuthResponse: %w", err)
		}
		if !aResp.IsAuthenticated {
			return ErrAuthFailed
		}
	}

	ciPayload, err := req.SendRequest(ctx, wire.TypeComputerInfo, struct{}{}, wire.TypeComputerInfo)
	if err != nil {
		return fmt.Errorf("handshake: ComputerInfo: %w", err)
	}
	var ci computerInfoResponse
	if err := unmarshal(ciPayload, &ci); err != nil {
		return fmt.Errorf("handshake: decoding ComputerInfoResponse: %w", err)
	}
	nd.SetComputerInfo(ci.Name, ci.OS, ci.Cores)

	return nil
}

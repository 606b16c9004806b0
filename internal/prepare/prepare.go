// Package prepare implements the three capability-probe operations spec.md
// §6 documents alongside the handshake: provisioning a Blender version on
// the node (Prepare), checking whether a version is already present
// (IsVersionAvailable), and polling whether the node is currently busy
// (IsBusy). None of these carry a task id or compete with the Render Task
// Controller's serialization — they are one-shot request/reply calls a
// caller may issue at any time, including while idle.
package prepare

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rendermesh/nodeclient/internal/node"
	"github.com/rendermesh/nodeclient/internal/wire"
)

// Requester is the subset of transport.Connection these calls need.
type Requester interface {
	SendRequest(ctx context.Context, typ wire.Type, payload any, expectedReplyType wire.Type) ([]byte, error)
}

type prepareRequest struct {
	Version string `json:"version"`
}

type prepareResponse struct {
	Success bool `json:"success"`
}

type isVersionAvailableRequest struct {
	Version string `json:"version"`
}

type isVersionAvailableResponse struct {
	Success bool `json:"success"`
}

type isBusyResponse struct {
	IsBusy bool `json:"isBusy"`
}

// Prepare asks the node to provision (download/install) version. On
// success, version is recorded in nd.AvailableVersions and nd.IsPrepared
// is set, per spec §8 invariant 5 ("availableVersions contains v only if a
// Prepare(v) or IsVersionAvailable(v) returned success on the current
// connection").
func Prepare(ctx context.Context, req Requester, nd *node.Node, version string) error {
	payload, err := req.SendRequest(ctx, wire.TypePrepare, prepareRequest{Version: version}, wire.TypePrepare)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	var resp prepareResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("prepare: decoding PrepareResponse: %w", err)
	}
	nd.SetIsPrepared(resp.Success)
	if resp.Success {
		nd.AddAvailableVersion(version)
	}
	return nil
}

// IsVersionAvailable probes whether version is already present on the
// node without provisioning it. A true result also records version in
// nd.AvailableVersions, the same as a successful Prepare.
func IsVersionAvailable(ctx context.Context, req Requester, nd *node.Node, version string) (bool, error) {
	payload, err := req.SendRequest(ctx, wire.TypeIsVersionAvailable, isVersionAvailableRequest{Version: version}, wire.TypeIsVersionAvailable)
	if err != nil {
		return false, fmt.Errorf("isVersionAvailable: %w", err)
	}
	var resp isVersionAvailableResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return false, fmt.Errorf("isVersionAvailable: decoding response: %w", err)
	}
	if resp.Success {
		nd.AddAvailableVersion(version)
	}
	return resp.Success, nil
}

// IsBusy polls whether the node currently considers itself busy. This is
// a readiness probe independent of the controller's own currentTaskId
// bookkeeping — the server is the authority on node-wide business (e.g. a
// render triggered outside this session).
func IsBusy(ctx context.Context, req Requester) (bool, error) {
	payload, err := req.SendRequest(ctx, wire.TypeIsBusy, struct{}{}, wire.TypeIsBusy)
	if err != nil {
		return false, fmt.Errorf("isBusy: %w", err)
	}
	var resp isBusyResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return false, fmt.Errorf("isBusy: decoding response: %w", err)
	}
	return resp.IsBusy, nil
}

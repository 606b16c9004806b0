package rendertask

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rendermesh/nodeclient/internal/node"
	"github.com/rendermesh/nodeclient/internal/wire"
)

type scriptedRequester struct {
	disconnectsBeforeSuccess int
	calls                    int
	onewayCalls              []wire.Type
}

func (s *scriptedRequester) SendRequest(ctx context.Context, typ wire.Type, payload any, expectedReplyType wire.Type) ([]byte, error) {
	s.calls++
	if s.calls <= s.disconnectsBeforeSuccess {
		return nil, wire.ErrDisconnected
	}
	return []byte(`{"ok":true}`), nil
}

func (s *scriptedRequester) SendOneway(typ wire.Type, payload any) error {
	s.onewayCalls = append(s.onewayCalls, typ)
	return nil
}

func noopRecover(ctx context.Context, sessions []string) error { return nil }

func TestRenderSucceedsAfterRecoverableDisconnects(t *testing.T) {
	req := &scriptedRequester{disconnectsBeforeSuccess: 2}
	nd := node.New("n1", "addr")
	c := New(req, nd, noopRecover, DefaultRetryBudget())

	resp, err := c.Render(context.Background(), "t1", "s1", nil)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if string(resp) != `{"ok":true}` {
		t.Fatalf("unexpected response %s", resp)
	}
	if nd.CurrentTaskID() != "" {
		t.Fatal("expected currentTaskId cleared after completion")
	}
	if nd.Activity() != "" {
		t.Fatal("expected activity cleared after completion")
	}
}

func TestRenderFailsWhenAlreadyRendering(t *testing.T) {
	req := &scriptedRequester{}
	nd := node.New("n1", "addr")
	if err := nd.BeginTask("busy"); err != nil {
		t.Fatalf("BeginTask: %v", err)
	}
	c := New(req, nd, noopRecover, DefaultRetryBudget())

	_, err := c.Render(context.Background(), "t1", "s1", nil)
	if !errors.Is(err, ErrAlreadyRendering) {
		t.Fatalf("expected ErrAlreadyRendering, got %v", err)
	}
}

func TestRenderExhaustsRecoverBudget(t *testing.T) {
	req := &scriptedRequester{disconnectsBeforeSuccess: 100}
	nd := node.New("n1", "addr")
	c := New(req, nd, noopRecover, RetryBudget{Render: 3})

	_, err := c.Render(context.Background(), "t1", "s1", nil)
	if !errors.Is(err, ErrRecoverExhausted) {
		t.Fatalf("expected ErrRecoverExhausted, got %v", err)
	}
}

func TestRenderBatchUnboundedByDefault(t *testing.T) {
	req := &scriptedRequester{disconnectsBeforeSuccess: 10}
	nd := node.New("n1", "addr")
	c := New(req, nd, noopRecover, DefaultRetryBudget())

	_, err := c.RenderBatch(context.Background(), "t1", "s1", nil)
	if err != nil {
		t.Fatalf("RenderBatch: %v", err)
	}
}

func TestRecoverFailurePropagates(t *testing.T) {
	req := &scriptedRequester{disconnectsBeforeSuccess: 100}
	nd := node.New("n1", "addr")
	failingRecover := func(ctx context.Context, sessions []string) error { return errors.New("boom") }
	c := New(req, nd, failingRecover, DefaultRetryBudget())

	_, err := c.Render(context.Background(), "t1", "s1", nil)
	if err == nil {
		t.Fatal("expected recover failure to propagate")
	}
	if nd.CurrentTaskID() != "" {
		t.Fatal("expected currentTaskId cleared even on failure")
	}
}

func TestHandleEventFiltersByCurrentTaskID(t *testing.T) {
	req := &scriptedRequester{}
	nd := node.New("n1", "addr")
	c := New(req, nd, noopRecover, DefaultRetryBudget())

	nd.BeginTask("t1")
	defer nd.EndTask()

	otherPayload, _ := json.Marshal(map[string]any{"taskId": "other", "done": 1, "total": 4})
	c.HandleEvent(wire.Envelope{Type: wire.TypeRenderInfo, Payload: otherPayload})
	if nd.Activity() != "" {
		t.Fatal("expected progress from a different task to be ignored")
	}

	mine, _ := json.Marshal(map[string]any{"taskId": "t1", "done": 2, "total": 4})
	c.HandleEvent(wire.Envelope{Type: wire.TypeRenderInfo, Payload: mine})
	if nd.Activity() != "Rendering (2/4)" {
		t.Fatalf("Activity = %q", nd.Activity())
	}
}

func TestCancelRenderSetsIndeterminateProgress(t *testing.T) {
	req := &scriptedRequester{}
	nd := node.New("n1", "addr")
	c := New(req, nd, noopRecover, DefaultRetryBudget())

	c.CancelRender("s1")
	if nd.ActivityProgress() != -1 {
		t.Fatalf("ActivityProgress = %v, want -1", nd.ActivityProgress())
	}
	if len(req.onewayCalls) != 1 || req.onewayCalls[0] != wire.TypeCancelRender {
		t.Fatalf("expected a single CancelRender oneway, got %v", req.onewayCalls)
	}
}

func TestHandleEventActivityRequestSetsActivityAndProgress(t *testing.T) {
	req := &scriptedRequester{}
	nd := node.New("n1", "addr")
	c := New(req, nd, noopRecover, DefaultRetryBudget())

	payload, _ := json.Marshal(map[string]any{"activity": "Compositing", "progress": 42.5})
	c.HandleEvent(wire.Envelope{Type: wire.TypeActivityRequest, Payload: payload})

	if nd.Activity() != "Compositing" {
		t.Fatalf("Activity = %q", nd.Activity())
	}
	if nd.ActivityProgress() != 42.5 {
		t.Fatalf("ActivityProgress = %v", nd.ActivityProgress())
	}
}

func TestHandleEventConsoleActivityAppendsToConsoleLog(t *testing.T) {
	req := &scriptedRequester{}
	nd := node.New("n1", "addr")
	c := New(req, nd, noopRecover, DefaultRetryBudget())

	payload, _ := json.Marshal(map[string]any{"output": "Fra:12 Mem:128M"})
	c.HandleEvent(wire.Envelope{Type: wire.TypeConsoleActivity, Payload: payload})

	lines := nd.ConsoleLog().Snapshot()
	if len(lines) != 1 || lines[0] != "Fra:12 Mem:128M" {
		t.Fatalf("ConsoleLog = %v", lines)
	}
}

func TestHandleEventDisconnectedSetsExceptionAndConnected(t *testing.T) {
	req := &scriptedRequester{}
	nd := node.New("n1", "addr")
	nd.SetConnected(true)
	c := New(req, nd, noopRecover, DefaultRetryBudget())

	payload, _ := json.Marshal(map[string]any{"isError": true, "reason": "socket reset"})
	c.HandleEvent(wire.Envelope{Type: wire.TypeDisconnected, Payload: payload})

	if nd.Exception() != "socket reset" {
		t.Fatalf("Exception = %q", nd.Exception())
	}
	if nd.Connected() {
		t.Fatal("expected Connected to be false after a protocol Disconnected event")
	}
}

func TestHandleEventDisconnectedWithoutErrorLeavesExceptionUnset(t *testing.T) {
	req := &scriptedRequester{}
	nd := node.New("n1", "addr")
	c := New(req, nd, noopRecover, DefaultRetryBudget())

	payload, _ := json.Marshal(map[string]any{"isError": false, "reason": ""})
	c.HandleEvent(wire.Envelope{Type: wire.TypeDisconnected, Payload: payload})

	if nd.Exception() != "" {
		t.Fatalf("Exception = %q, want empty", nd.Exception())
	}
}

func TestBatchResultFanOut(t *testing.T) {
	req := &scriptedRequester{}
	nd := node.New("n1", "addr")
	c := New(req, nd, noopRecover, DefaultRetryBudget())

	payload, _ := json.Marshal(map[string]any{"count": 3})
	c.HandleEvent(wire.Envelope{Type: wire.TypeRenderBatchResult, Payload: payload})

	select {
	case res := <-c.Results():
		if string(res.Payload) != string(payload) {
			t.Fatalf("payload mismatch: %s", res.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batch result")
	}
}

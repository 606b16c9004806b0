// Package rendertask implements the Render Task Controller: serializes
// render/peek/batch requests against a single node, retries
// transparently across disconnects up to a per-kind retry budget, and
// fans out asynchronous progress and batch-result events.
package rendertask

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rendermesh/nodeclient/internal/node"
	"github.com/rendermesh/nodeclient/internal/wire"
)

// ErrAlreadyRendering is returned when a new render/peek/batch request
// arrives while currentTaskId is already non-empty.
var ErrAlreadyRendering = errors.New("rendertask: already rendering")

// ErrRecoverExhausted is returned when a task kind's retry budget is
// used up without the send ever succeeding.
var ErrRecoverExhausted = errors.New("rendertask: recover attempts exhausted")

// ErrCancelled is returned from a task whose cancel handle fired.
var ErrCancelled = errors.New("rendertask: cancelled")

// Requester is the subset of transport.Connection a task send needs.
type Requester interface {
	SendRequest(ctx context.Context, typ wire.Type, payload any, expectedReplyType wire.Type) ([]byte, error)
	SendOneway(typ wire.Type, payload any) error
}

// RecoverFunc reconnects and reclaims the named sessions; wired by the
// caller to recovery.ConnectRecover with whatever attempts/interval
// policy the connection was configured with.
type RecoverFunc func(ctx context.Context, sessions []string) error

// RetryBudget bounds reconnect attempts per task kind. A non-positive
// value means unbounded — batches default to unbounded because a long
// batch may legitimately survive several disconnects; this asymmetry
// is deliberate, not an oversight, and is exposed here as config
// instead of being silently unified with the single-render cap.
type RetryBudget struct {
	Render int
	Peek   int
	Batch  int
}

// DefaultRetryBudget matches the reference policy: render and peek cap
// at 3 reconnect attempts, batch is unbounded.
func DefaultRetryBudget() RetryBudget {
	return RetryBudget{Render: 3, Peek: 3, Batch: 0}
}

// BatchResult is delivered to Subscribe callers untouched, as the
// controller does not interpret batch-result payloads itself.
type BatchResult struct {
	TaskID  string
	Payload json.RawMessage
}

type progressEvent struct {
	TaskID string `json:"taskId"`
	Done   int    `json:"done"`
	Total  int    `json:"total"`
}

type renderRequest struct {
	TaskID    string          `json:"taskId"`
	SessionID string          `json:"sessionId"`
	Payload   json.RawMessage `json:"payload"`
}

type cancelRenderRequest struct {
	SessionID string `json:"sessionId"`
}

type activityRequestEvent struct {
	Activity string  `json:"activity"`
	Progress float64 `json:"progress"`
}

type consoleActivityEvent struct {
	Output string `json:"output"`
}

type disconnectedEvent struct {
	IsError bool   `json:"isError"`
	Reason  string `json:"reason"`
}

const batchResultQueueSize = 32

// Controller serializes render/peek/batch requests against one node.
type Controller struct {
	req     Requester
	nd      *node.Node
	recover RecoverFunc
	budget  RetryBudget

	mu     sync.Mutex
	cancel context.CancelFunc

	resultsMu sync.Mutex
	results   chan BatchResult
}

// New creates a Controller bound to nd. recover is invoked whenever a
// send observes the transport disconnected.
func New(req Requester, nd *node.Node, recover RecoverFunc, budget RetryBudget) *Controller {
	return &Controller{
		req:     req,
		nd:      nd,
		recover: recover,
		budget:  budget,
		results: make(chan BatchResult, batchResultQueueSize),
	}
}

// Results returns the channel batch-result events are fanned out on.
func (c *Controller) Results() <-chan BatchResult { return c.results }

// HandleEvent is wired to the Connection's event callback. It filters
// render-progress events to the task currently owning the node and
// forwards batch-result events untouched.
func (c *Controller) HandleEvent(env wire.Envelope) {
	switch env.Type {
	case wire.TypeRenderInfo:
		var ev progressEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return
		}
		if ev.TaskID != c.nd.CurrentTaskID() {
			return
		}
		pct := 0.0
		if ev.Total > 0 {
			pct = float64(ev.Done) / float64(ev.Total) * 100
		}
		c.nd.SetActivity(fmt.Sprintf("Rendering (%d/%d)", ev.Done, ev.Total))
		c.nd.SetActivityProgress(pct)
	case wire.TypeRenderBatchResult:
		select {
		case c.results <- BatchResult{TaskID: c.nd.CurrentTaskID(), Payload: json.RawMessage(env.Payload)}:
		default:
			<-c.results
			c.results <- BatchResult{TaskID: c.nd.CurrentTaskID(), Payload: json.RawMessage(env.Payload)}
		}
	case wire.TypeActivityRequest:
		var ev activityRequestEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return
		}
		c.nd.SetActivity(ev.Activity)
		c.nd.SetActivityProgress(ev.Progress)
	case wire.TypeConsoleActivity:
		var ev consoleActivityEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return
		}
		c.nd.ConsoleLog().Append(ev.Output)
	case wire.TypeDisconnected:
		var ev disconnectedEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return
		}
		if ev.IsError {
			c.nd.SetException(ev.Reason)
		}
		c.nd.SetConnected(false)
	}
}

// Render issues a single render request, retrying across disconnects
// up to the Render retry budget.
func (c *Controller) Render(ctx context.Context, taskID, sessionID string, payload json.RawMessage) (json.RawMessage, error) {
	return c.run(ctx, wire.TypeRender, taskID, sessionID, payload, c.budget.Render)
}

// Peek issues a peek request (probing render readiness without
// committing to a full render), retrying up to the Peek retry budget.
func (c *Controller) Peek(ctx context.Context, taskID, sessionID string, payload json.RawMessage) (json.RawMessage, error) {
	return c.run(ctx, wire.TypeBlenderPeek, taskID, sessionID, payload, c.budget.Peek)
}

// RenderBatch issues a batch request, retrying up to the Batch retry
// budget (unbounded by default).
func (c *Controller) RenderBatch(ctx context.Context, taskID, sessionID string, payload json.RawMessage) (json.RawMessage, error) {
	return c.run(ctx, wire.TypeRenderBatch, taskID, sessionID, payload, c.budget.Batch)
}

func (c *Controller) run(ctx context.Context, typ wire.Type, taskID, sessionID string, payload json.RawMessage, maxAttempts int) (json.RawMessage, error) {
	if err := c.nd.BeginTask(taskID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAlreadyRendering, err)
	}
	defer func() {
		c.nd.SetActivity("")
		c.nd.SetActivityProgress(0)
		c.nd.EndTask()
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
	}()
	c.nd.SetActivity("Render Loading..")

	cctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	req := renderRequest{TaskID: taskID, SessionID: sessionID, Payload: payload}

	attempts := 0
	for {
		resp, err := c.req.SendRequest(cctx, typ, req, typ)
		if err == nil {
			return resp, nil
		}
		if errors.Is(cctx.Err(), context.Canceled) {
			return nil, ErrCancelled
		}
		if !errors.Is(err, wire.ErrDisconnected) {
			return nil, err
		}

		attempts++
		if maxAttempts > 0 && attempts > maxAttempts {
			return nil, fmt.Errorf("%w: %d attempts", ErrRecoverExhausted, attempts)
		}
		if recErr := c.recover(cctx, []string{sessionID}); recErr != nil {
			return nil, fmt.Errorf("rendertask: recover failed: %w", recErr)
		}
	}
}

// CancelRender triggers the current task's cancel handle (if any) and
// sends a best-effort CancelRender request to the server. Activity is
// left labeled but progress is set to -1 (indeterminate) to signal an
// in-flight cancellation.
func (c *Controller) CancelRender(sessionID string) {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.nd.SetActivityProgress(-1)
	_ = c.req.SendOneway(wire.TypeCancelRender, cancelRenderRequest{SessionID: sessionID})
}

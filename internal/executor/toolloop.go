package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/haasonsaas/breadcrumb/internal/breaderr"
	"github.com/haasonsaas/breadcrumb/pkg/models"
)

// ErrToolLoopDepthExceeded is returned by CallTool once an invocation has
// already made maxDepth round trips (spec §4.F: bounded depth, default 4).
var ErrToolLoopDepthExceeded = fmt.Errorf("executor: tool loop depth exceeded")

// Waiter is the subset of the Event Bridge a tool loop needs: wait for a
// breadcrumb matching criteria, or time out.
type Waiter interface {
	Wait(ctx context.Context, criteria models.Selector, timeout time.Duration) (*models.Event, error)
}

// ToolInvoker lets an Agent-kind Handler closure call tools during one
// invocation, round-tripping through tool.request.v1/tool.response.v1
// breadcrumbs correlated via a per-call request tag, bounded to maxDepth
// rounds per invocation (spec §4.F). Each CallTool shares one ToolInvoker
// instance scoped to a single Handler invocation, so rounds share the
// depth counter.
type ToolInvoker struct {
	store      RecordStore
	bridge     Waiter
	consumerID string
	maxDepth   int
	timeout    time.Duration

	calls int
}

// NewToolInvoker builds a ToolInvoker scoped to one Handler invocation. A
// non-positive maxDepth falls back to DefaultToolLoopDepth.
func NewToolInvoker(store RecordStore, bridge Waiter, consumerID string, maxDepth int, timeout time.Duration) *ToolInvoker {
	if maxDepth <= 0 {
		maxDepth = DefaultToolLoopDepth
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ToolInvoker{store: store, bridge: bridge, consumerID: consumerID, maxDepth: maxDepth, timeout: timeout}
}

// CallTool emits a tool.request.v1 breadcrumb naming tool and carrying args,
// then waits for the correlated tool.response.v1 breadcrumb's full context.
// Correlation follows spec §4.F step 7 literally: the Tool executor tags its
// response `response:<trigger.id>`, where trigger.id is the store-assigned
// id of this very tool.request.v1 breadcrumb, and carries
// `context.request_id == trigger.id`. So CallTool learns its own request's
// id from Create's result and waits on that, rather than minting a separate
// client-side correlation id. Returns ErrToolLoopDepthExceeded once the
// invoker has already made maxDepth calls.
func (t *ToolInvoker) CallTool(ctx context.Context, tool string, args map[string]any) (map[string]any, error) {
	if t.calls >= t.maxDepth {
		return nil, breaderr.New(breaderr.KindValidation, "tool loop", ErrToolLoopDepthExceeded)
	}
	t.calls++

	result, err := t.store.Create(ctx, models.CreateBreadcrumbRequest{
		SchemaName: models.SchemaToolRequest,
		Tags:       []string{"tool:" + tool},
		Context: map[string]any{
			"tool":       tool,
			"args":       args,
			"created_by": t.consumerID,
		},
	})
	if err != nil {
		return nil, err
	}

	responseTag := "response:" + result.ID
	ev, err := t.bridge.Wait(ctx, models.Selector{
		SchemaName: models.SchemaToolResponse,
		AllTags:    []string{responseTag},
		Role:       models.RoleContext,
	}, t.timeout)
	if err != nil {
		return nil, breaderr.New(breaderr.KindTimeout, "tool loop", err)
	}

	full, err := t.store.Get(ctx, ev.BreadcrumbID)
	if err != nil {
		return nil, err
	}
	return full.Context, nil
}

// Calls reports how many tool round trips this invoker has made so far.
func (t *ToolInvoker) Calls() int {
	return t.calls
}

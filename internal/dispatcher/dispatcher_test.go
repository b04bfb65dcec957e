package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/breadcrumb/internal/eventbridge"
	"github.com/haasonsaas/breadcrumb/pkg/models"
)

type fakeStream struct {
	mu      sync.Mutex
	batches [][]*models.Event
	errs    []error
	calls   int
}

func (f *fakeStream) ConnectSSE(ctx context.Context) (<-chan *models.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.calls
	f.calls++

	if idx < len(f.errs) && f.errs[idx] != nil {
		return nil, f.errs[idx]
	}

	ch := make(chan *models.Event, 16)
	if idx < len(f.batches) {
		for _, ev := range f.batches[idx] {
			ch <- ev
		}
	}
	close(ch)
	return ch, nil
}

type recordingRoute struct {
	mu     sync.Mutex
	events []*models.Event
}

func (r *recordingRoute) Handle(ctx context.Context, ev *models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingRoute) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Backoff.InitialMs = 1
	cfg.Backoff.MaxMs = 2
	return cfg
}

func TestDispatcherFansOutToRoutes(t *testing.T) {
	stream := &fakeStream{
		batches: [][]*models.Event{
			{
				{Type: models.EventBreadcrumbCreated, BreadcrumbID: "b1"},
				{Type: models.EventBreadcrumbCreated, BreadcrumbID: "b2"},
			},
		},
	}
	route := &recordingRoute{}
	d := New(stream, nil, nil, nil, fastConfig(), nil)
	d.AddRoute(route)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	require.Equal(t, 2, route.Count())
}

func TestDispatcherDedupesDuplicateBreadcrumbID(t *testing.T) {
	stream := &fakeStream{
		batches: [][]*models.Event{
			{
				{Type: models.EventBreadcrumbCreated, BreadcrumbID: "b1"},
				{Type: models.EventBreadcrumbUpdated, BreadcrumbID: "b1"},
			},
		},
	}
	route := &recordingRoute{}
	d := New(stream, nil, nil, nil, fastConfig(), nil)
	d.AddRoute(route)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	require.Equal(t, 1, route.Count())
}

func TestDispatcherPublishesToBridge(t *testing.T) {
	stream := &fakeStream{
		batches: [][]*models.Event{
			{{Type: models.EventBreadcrumbCreated, BreadcrumbID: "b1", SchemaName: "order.created"}},
		},
	}
	bridge := eventbridge.New(10)
	d := New(stream, nil, bridge, nil, fastConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	require.Eventually(t, func() bool {
		return len(bridge.History()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcherReconnectsAfterConnectError(t *testing.T) {
	stream := &fakeStream{
		errs: []error{context.DeadlineExceeded},
		batches: [][]*models.Event{
			nil,
			{{Type: models.EventBreadcrumbCreated, BreadcrumbID: "b1"}},
		},
	}
	route := &recordingRoute{}
	d := New(stream, nil, nil, nil, fastConfig(), nil)
	d.AddRoute(route)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	require.GreaterOrEqual(t, route.Count(), 1)
}

func TestProcessingTableEvictsOldestBeyondCapacity(t *testing.T) {
	d := New(&fakeStream{}, nil, nil, nil, Config{ProcessingTableSize: 2}, nil)

	require.True(t, d.markProcessing("a"))
	require.True(t, d.markProcessing("b"))
	require.True(t, d.markProcessing("c"))

	require.True(t, d.markProcessing("a")) // evicted, so treated as new again
	require.False(t, d.markProcessing("c"))
}

func TestDispatcherDiscardsPingFrames(t *testing.T) {
	stream := &fakeStream{
		batches: [][]*models.Event{
			{
				{Type: models.EventPing},
				{Type: models.EventBreadcrumbCreated, BreadcrumbID: "b1"},
			},
		},
	}
	route := &recordingRoute{}
	bridge := eventbridge.New(10)
	d := New(stream, nil, bridge, nil, fastConfig(), nil)
	d.AddRoute(route)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	require.Equal(t, 1, route.Count())
	require.Len(t, bridge.History(), 1)
}

func TestDispatcherIgnoresUnrecognizedEventType(t *testing.T) {
	stream := &fakeStream{
		batches: [][]*models.Event{
			{
				{Type: models.EventType("something.else")},
				{Type: models.EventBreadcrumbCreated, BreadcrumbID: "b1"},
			},
		},
	}
	route := &recordingRoute{}
	d := New(stream, nil, nil, nil, fastConfig(), nil)
	d.AddRoute(route)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	d.Run(ctx)

	require.Equal(t, 1, route.Count())
}

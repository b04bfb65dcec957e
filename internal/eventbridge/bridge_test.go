package eventbridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/breadcrumb/pkg/models"
)

func TestWaitMatchesAlreadyPublishedEvent(t *testing.T) {
	b := New(DefaultHistorySize)
	b.Publish(&models.Event{SchemaName: "order.created", BreadcrumbID: "b1"})

	ev, err := b.Wait(context.Background(), models.Selector{SchemaName: "order.created"}, time.Second)
	require.NoError(t, err)
	require.Equal(t, "b1", ev.BreadcrumbID)
}

func TestWaitBlocksUntilPublish(t *testing.T) {
	b := New(DefaultHistorySize)

	resultCh := make(chan *models.Event, 1)
	go func() {
		ev, err := b.Wait(context.Background(), models.Selector{SchemaName: "order.shipped"}, time.Second)
		require.NoError(t, err)
		resultCh <- ev
	}()

	require.Eventually(t, func() bool { return b.PendingWaits() == 1 }, time.Second, 5*time.Millisecond)

	b.Publish(&models.Event{SchemaName: "order.shipped", BreadcrumbID: "b2"})

	select {
	case ev := <-resultCh:
		require.Equal(t, "b2", ev.BreadcrumbID)
	case <-time.After(time.Second):
		t.Fatal("wait did not resolve in time")
	}
}

func TestWaitTimesOut(t *testing.T) {
	b := New(DefaultHistorySize)
	_, err := b.Wait(context.Background(), models.Selector{SchemaName: "never"}, 20*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 0, b.PendingWaits())
}

func TestWaitCancelledByContext(t *testing.T) {
	b := New(DefaultHistorySize)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Wait(ctx, models.Selector{SchemaName: "never"}, time.Second)
		errCh <- err
	}()

	require.Eventually(t, func() bool { return b.PendingWaits() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("wait did not unblock on cancel")
	}
}

func TestHistoryCapacityBounded(t *testing.T) {
	b := New(2)
	b.Publish(&models.Event{BreadcrumbID: "1"})
	b.Publish(&models.Event{BreadcrumbID: "2"})
	b.Publish(&models.Event{BreadcrumbID: "3"})

	hist := b.History()
	require.Len(t, hist, 2)
	require.Equal(t, "2", hist[0].BreadcrumbID)
	require.Equal(t, "3", hist[1].BreadcrumbID)
}

func TestWaitCorrelatesOnTagsForThinEventWithNilContext(t *testing.T) {
	b := New(DefaultHistorySize)

	resultCh := make(chan *models.Event, 1)
	go func() {
		ev, err := b.Wait(context.Background(), models.Selector{
			SchemaName: "tool.response.v1",
			AllTags:    []string{"response:req-1"},
		}, time.Second)
		require.NoError(t, err)
		resultCh <- ev
	}()

	require.Eventually(t, func() bool { return b.PendingWaits() == 1 }, time.Second, 5*time.Millisecond)

	// A thin SSE event carries Tags but no Context, matching how the
	// Dispatcher actually feeds the Bridge.
	b.Publish(&models.Event{
		Type:         models.EventBreadcrumbCreated,
		SchemaName:   "tool.response.v1",
		BreadcrumbID: "resp-1",
		Tags:         []string{"response:req-1"},
	})

	select {
	case ev := <-resultCh:
		require.Equal(t, "resp-1", ev.BreadcrumbID)
	case <-time.After(time.Second):
		t.Fatal("tag-based wait did not resolve on a thin event")
	}
}

func TestPublishDeliversOnlyToMatchingWaiter(t *testing.T) {
	b := New(DefaultHistorySize)

	matchCh := make(chan *models.Event, 1)
	otherCh := make(chan *models.Event, 1)

	go func() {
		ev, _ := b.Wait(context.Background(), models.Selector{SchemaName: "order.created"}, time.Second)
		matchCh <- ev
	}()
	go func() {
		ev, _ := b.Wait(context.Background(), models.Selector{SchemaName: "order.cancelled"}, 50*time.Millisecond)
		otherCh <- ev
	}()

	require.Eventually(t, func() bool { return b.PendingWaits() == 2 }, time.Second, 5*time.Millisecond)
	b.Publish(&models.Event{SchemaName: "order.created", BreadcrumbID: "x"})

	select {
	case ev := <-matchCh:
		require.Equal(t, "x", ev.BreadcrumbID)
	case <-time.After(time.Second):
		t.Fatal("matching waiter did not resolve")
	}

	ev := <-otherCh
	require.Nil(t, ev)
}

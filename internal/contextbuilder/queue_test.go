package contextbuilder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/breadcrumb/pkg/models"
)

func TestRebuildQueueCoalescesRapidTriggers(t *testing.T) {
	var mu sync.Mutex
	fired := 0
	q := NewRebuildQueue(20*time.Millisecond, DefaultQueueDepth, func(ctx context.Context, id string, cfg models.ContextConfig, trigger *models.Breadcrumb) {
		mu.Lock()
		fired++
		mu.Unlock()
	}, nil)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		q.Trigger(ctx, "consumer-1", models.ContextConfig{}, nil)
		time.Sleep(2 * time.Millisecond)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fired == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRebuildQueueFiresIndependentlyPerConsumer(t *testing.T) {
	var mu sync.Mutex
	firedFor := map[string]int{}
	q := NewRebuildQueue(10*time.Millisecond, DefaultQueueDepth, func(ctx context.Context, id string, cfg models.ContextConfig, trigger *models.Breadcrumb) {
		mu.Lock()
		firedFor[id]++
		mu.Unlock()
	}, nil)

	ctx := context.Background()
	q.Trigger(ctx, "a", models.ContextConfig{}, nil)
	q.Trigger(ctx, "b", models.ContextConfig{}, nil)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return firedFor["a"] == 1 && firedFor["b"] == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRebuildQueueEvictsOldestBeyondMaxDepth(t *testing.T) {
	q := NewRebuildQueue(time.Hour, 2, func(ctx context.Context, id string, cfg models.ContextConfig, trigger *models.Breadcrumb) {}, nil)
	ctx := context.Background()

	q.Trigger(ctx, "a", models.ContextConfig{}, nil)
	q.Trigger(ctx, "b", models.ContextConfig{}, nil)
	q.Trigger(ctx, "c", models.ContextConfig{}, nil)

	require.Equal(t, 2, q.Depth())
}

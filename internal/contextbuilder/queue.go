package contextbuilder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/breadcrumb/pkg/models"
)

// DefaultQueueDepth bounds how many distinct consumers may have a rebuild
// pending at once before the oldest pending entry is dropped (spec §4.E
// default: 8).
const DefaultQueueDepth = 8

// DefaultDebounce coalesces rapid update-trigger bursts for the same
// consumer into a single rebuild, mirroring the teacher's message debouncer
// (internal/gateway/debounce.go).
const DefaultDebounce = 200 * time.Millisecond

// RebuildFunc performs one consumer's rebuild; consumerID identifies the
// rolling context breadcrumb, cfg its source/output/formatting config, and
// trigger is the breadcrumb whose match caused this rebuild (spec §4.E step
// 1: vector sources query on the trigger's own content, event_data sources
// read the trigger's payload directly).
type RebuildFunc func(ctx context.Context, consumerID string, cfg models.ContextConfig, trigger *models.Breadcrumb)

// RebuildQueue coalesces rebuild requests per consumer: repeated triggers
// for the same consumer within the debounce window collapse into one
// rebuild, and at most DefaultQueueDepth distinct consumers may have a
// pending timer at once.
type RebuildQueue struct {
	debounce time.Duration
	maxDepth int
	onFire   RebuildFunc
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingRebuild
	order   []string // consumer ids in first-scheduled order, for depth eviction
}

type pendingRebuild struct {
	cfg     models.ContextConfig
	trigger *models.Breadcrumb
	timer   *time.Timer
}

// NewRebuildQueue builds a queue that fires onFire at most once per
// debounce window per consumer.
func NewRebuildQueue(debounce time.Duration, maxDepth int, onFire RebuildFunc, logger *slog.Logger) *RebuildQueue {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if maxDepth <= 0 {
		maxDepth = DefaultQueueDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RebuildQueue{
		debounce: debounce,
		maxDepth: maxDepth,
		onFire:   onFire,
		logger:   logger.With("component", "contextbuilder.queue"),
		pending:  make(map[string]*pendingRebuild),
	}
}

// Trigger schedules (or reschedules) a rebuild for consumerID. If a rebuild
// is already pending for this consumer, its timer resets — repeated
// triggers within the debounce window coalesce into a single rebuild
// using the most recently supplied cfg and trigger.
func (q *RebuildQueue) Trigger(ctx context.Context, consumerID string, cfg models.ContextConfig, trigger *models.Breadcrumb) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if existing, ok := q.pending[consumerID]; ok {
		existing.cfg = cfg
		existing.trigger = trigger
		existing.timer.Reset(q.debounce)
		return
	}

	if len(q.order) >= q.maxDepth {
		q.evictOldestLocked()
	}

	pr := &pendingRebuild{cfg: cfg, trigger: trigger}
	pr.timer = time.AfterFunc(q.debounce, func() {
		q.fire(ctx, consumerID)
	})
	q.pending[consumerID] = pr
	q.order = append(q.order, consumerID)
}

// evictOldestLocked drops the oldest pending rebuild without firing it,
// per spec §4.E bounded-queue behavior: under sustained overload the
// assembler sheds the stalest pending consumer rather than growing
// unbounded. Caller must hold q.mu.
func (q *RebuildQueue) evictOldestLocked() {
	if len(q.order) == 0 {
		return
	}
	oldest := q.order[0]
	q.order = q.order[1:]
	if pr, ok := q.pending[oldest]; ok {
		pr.timer.Stop()
		delete(q.pending, oldest)
		q.logger.Warn("dropped pending context rebuild under overload", "consumer_id", oldest)
	}
}

func (q *RebuildQueue) fire(ctx context.Context, consumerID string) {
	q.mu.Lock()
	pr, ok := q.pending[consumerID]
	if ok {
		delete(q.pending, consumerID)
		for i, id := range q.order {
			if id == consumerID {
				q.order = append(q.order[:i], q.order[i+1:]...)
				break
			}
		}
	}
	q.mu.Unlock()

	if !ok || q.onFire == nil {
		return
	}
	q.onFire(ctx, consumerID, pr.cfg, pr.trigger)
}

// Depth returns the number of consumers with a pending rebuild.
func (q *RebuildQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

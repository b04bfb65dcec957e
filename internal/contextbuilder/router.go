package contextbuilder

import (
	"context"
	"sync"

	"github.com/haasonsaas/breadcrumb/internal/selector"
	"github.com/haasonsaas/breadcrumb/pkg/models"
)

// registration is one context.config.v1 consumer's update-trigger
// selectors, kept alongside its config so Router can re-check them against
// every dispatched event.
type registration struct {
	consumerID string
	cfg        models.ContextConfig
}

// RouterStore is the subset of the Record Client Router needs to resolve a
// matched thin event into the full triggering breadcrumb (spec §4.E step 1
// needs the trigger's own content/payload, which a bare SSE event doesn't
// carry).
type RouterStore interface {
	Get(ctx context.Context, id string) (*models.Breadcrumb, error)
}

// Router implements dispatcher.Route: it watches every event the
// dispatcher fans out and, for each registered context.config.v1 consumer
// whose update_triggers selector matches, enqueues a debounced rebuild via
// RebuildQueue (spec §4.E). Breadcrumb deletion is treated as an update
// trigger like any other event by default — spec §9 resolves this
// conservatively in favor of rebuilding rather than serving stale context.
type Router struct {
	queue *RebuildQueue
	store RouterStore

	mu   sync.RWMutex
	regs map[string]registration
}

// NewRouter builds a Router that enqueues rebuilds onto queue, fetching the
// full trigger breadcrumb through store before enqueuing. store may be nil
// in tests that don't exercise vector/event_data sources; Handle then falls
// back to a breadcrumb built from the thin event.
func NewRouter(queue *RebuildQueue, store RouterStore) *Router {
	return &Router{queue: queue, store: store, regs: make(map[string]registration)}
}

// Register installs or replaces consumerID's update-trigger config,
// mirroring the Subscription Registry's idempotent re-discovery contract.
func (r *Router) Register(consumerID string, cfg models.ContextConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs[consumerID] = registration{consumerID: consumerID, cfg: cfg}
}

// Deregister removes consumerID, stopping further rebuilds from this event
// stream.
func (r *Router) Deregister(consumerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.regs, consumerID)
}

// Handle implements dispatcher.Route.
func (r *Router) Handle(ctx context.Context, event *models.Event) {
	r.mu.RLock()
	regs := make([]registration, 0, len(r.regs))
	for _, reg := range r.regs {
		regs = append(regs, reg)
	}
	r.mu.RUnlock()

	var matched []registration
	for _, reg := range regs {
		for _, trig := range reg.cfg.UpdateTriggers {
			if selector.Matches(event, trig) {
				matched = append(matched, reg)
				break
			}
		}
	}
	if len(matched) == 0 {
		return
	}

	trigger := r.fetchTrigger(ctx, event)
	for _, reg := range matched {
		r.queue.Trigger(ctx, reg.consumerID, reg.cfg, trigger)
	}
}

// fetchTrigger resolves the full breadcrumb behind event so Rebuild can read
// its content for vector queries and event_data sources (spec §4.E step 1).
// A deletion event's breadcrumb is already gone by the time Router sees it,
// and a fetch can otherwise race a concurrent delete; either way Handle
// falls back to a breadcrumb built from the thin event's own fields so the
// rebuild still proceeds, just without a fetched Context.
func (r *Router) fetchTrigger(ctx context.Context, event *models.Event) *models.Breadcrumb {
	if r.store != nil {
		if b, err := r.store.Get(ctx, event.BreadcrumbID); err == nil {
			return b
		}
	}
	return &models.Breadcrumb{
		ID:         event.BreadcrumbID,
		SchemaName: event.SchemaName,
		Tags:       event.Tags,
		Context:    event.Context,
	}
}

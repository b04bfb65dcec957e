// Package dispatcher implements the SSE Dispatcher (spec §4.D): the one
// long-lived goroutine per instance that owns the record store's event
// stream, tracks a processing-status table to collapse duplicate frames,
// and reconnects with backoff on disconnect or auth failure. Grounded on
// the teacher's HTTP/SSE transport reconnect loop
// (internal/mcp/transport_http.go sseLoop/connectSSE) and its jittered
// backoff policy (internal/backoff/policy.go).
package dispatcher

import (
	"container/list"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/breadcrumb/internal/backoff"
	"github.com/haasonsaas/breadcrumb/internal/breadauth"
	"github.com/haasonsaas/breadcrumb/internal/eventbridge"
	"github.com/haasonsaas/breadcrumb/internal/metrics"
	"github.com/haasonsaas/breadcrumb/pkg/models"
)

// DefaultProcessingTableSize bounds the dedup table before the oldest
// entries are evicted (spec §4.D default: 1000).
const DefaultProcessingTableSize = 1000

// DefaultProactiveRefresh is the default for Config.ProactiveRefreshEvery
// (10 minutes). Run does not read that field: its proactive refresh runs
// at the interval the TokenCell was built with.
const DefaultProactiveRefresh = 10 * time.Minute

// Stream abstracts the Record Client's SSE connection so the dispatcher can
// be tested without a live HTTP server.
type Stream interface {
	ConnectSSE(ctx context.Context) (<-chan *models.Event, error)
}

// Route is registered by the Subscription Registry to receive every event
// that reaches the dispatcher; routing against selectors happens inside
// the route's own Handle implementation (the dispatcher fans out; it
// filters only by event type and dedup).
type Route interface {
	Handle(ctx context.Context, event *models.Event)
}

// Config configures reconnect backoff and dedup table sizing.
type Config struct {
	Backoff               backoff.BackoffPolicy
	ProcessingTableSize   int
	ProactiveRefreshEvery time.Duration
}

// DefaultConfig returns the spec §4.D defaults: 0.5s initial backoff,
// 30s ceiling, 20% jitter, 1000-entry dedup table, 10-minute token refresh.
func DefaultConfig() Config {
	return Config{
		Backoff: backoff.BackoffPolicy{
			InitialMs: 500,
			MaxMs:     30000,
			Factor:    2,
			Jitter:    0.2,
		},
		ProcessingTableSize:   DefaultProcessingTableSize,
		ProactiveRefreshEvery: DefaultProactiveRefresh,
	}
}

// Dispatcher owns the record store event stream: one connect/reconnect
// loop, a bounded processing-status table for dedup, and fan-out to
// registered routes (the Event Bridge and the Subscription Registry).
type Dispatcher struct {
	stream  Stream
	tokens  *breadauth.TokenCell
	bridge  *eventbridge.Bridge
	metrics *metrics.Metrics
	logger  *slog.Logger
	cfg     Config

	mu     sync.Mutex
	routes []Route

	dedupMu sync.Mutex
	dedup   map[string]struct{}
	dedupLL *list.List
}

// New builds a Dispatcher. logger defaults to slog.Default() if nil.
func New(stream Stream, tokens *breadauth.TokenCell, bridge *eventbridge.Bridge, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Dispatcher {
	if cfg.ProcessingTableSize <= 0 {
		cfg.ProcessingTableSize = DefaultProcessingTableSize
	}
	if cfg.ProactiveRefreshEvery <= 0 {
		cfg.ProactiveRefreshEvery = DefaultProactiveRefresh
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		stream:  stream,
		tokens:  tokens,
		bridge:  bridge,
		metrics: m,
		logger:  logger.With("component", "dispatcher"),
		cfg:     cfg,
		dedup:   make(map[string]struct{}),
		dedupLL: list.New(),
	}
}

// AddRoute registers a Route to receive every non-duplicate event. Intended
// for the Subscription Registry's hot-bind step (spec §4.F).
func (d *Dispatcher) AddRoute(r Route) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.routes = append(d.routes, r)
}

// Run connects to the event stream and processes events until ctx is
// cancelled, reconnecting with backoff on every disconnect. It proactively
// refreshes the auth token on a fixed interval independent of failures.
func (d *Dispatcher) Run(ctx context.Context) {
	if d.tokens != nil {
		d.tokens.StartProactiveRefresh(ctx)
		defer d.tokens.Stop()
	}

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		events, err := d.stream.ConnectSSE(ctx)
		if err != nil {
			attempt++
			if d.metrics != nil {
				d.metrics.Reconnects.WithLabelValues("connect_error").Inc()
			}
			d.logger.Warn("sse connect failed", "attempt", attempt, "error", err)
			d.sleepBackoff(ctx, attempt)
			continue
		}

		attempt = 0
		d.consume(ctx, events)

		if ctx.Err() != nil {
			return
		}
		if d.metrics != nil {
			d.metrics.Reconnects.WithLabelValues("disconnect").Inc()
		}
		attempt++
		d.sleepBackoff(ctx, attempt)
	}
}

// consume drains events until the channel closes (disconnect) or ctx ends.
func (d *Dispatcher) consume(ctx context.Context, events <-chan *models.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.dispatch(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

// dispatch dedups ev against the processing-status table then fans it out
// to every registered route and the Event Bridge. Per spec §4.D/§6.2, ping
// frames are discarded silently (they carry no breadcrumb_id and exist only
// to keep the connection alive) and any other unrecognized type is logged
// and ignored rather than routed as if it were a breadcrumb change.
func (d *Dispatcher) dispatch(ctx context.Context, ev *models.Event) {
	if d.metrics != nil {
		d.metrics.EventsReceived.Inc()
	}

	switch ev.Type {
	case models.EventBreadcrumbCreated, models.EventBreadcrumbUpdated, models.EventBreadcrumbDeleted:
	case models.EventPing:
		return
	default:
		d.logger.Warn("ignoring unrecognized sse event type", "type", ev.Type)
		return
	}

	if ev.BreadcrumbID != "" && !d.markProcessing(ev.BreadcrumbID) {
		return // already in flight or recently processed; collapse duplicate
	}

	// The Bridge and every route receive the thin SSE event, not a
	// freshly-fetched breadcrumb: correlation against it is tag-based only
	// (see eventbridge.Bridge doc comment). Consumers that need the full
	// breadcrumb — the Executor's deferred-predicate recheck, the Context
	// Assembler's trigger content — fetch it themselves once a selector has
	// actually matched, rather than paying a fetch for every frame here.
	if d.bridge != nil {
		d.bridge.Publish(ev)
	}

	d.mu.Lock()
	routes := make([]Route, len(d.routes))
	copy(routes, d.routes)
	d.mu.Unlock()

	for _, r := range routes {
		r.Handle(ctx, ev)
	}
}

// markProcessing records id in the dedup table, evicting the oldest entry
// once the table reaches its capacity. Returns false if id was already
// present (a duplicate frame for the same breadcrumb).
func (d *Dispatcher) markProcessing(id string) bool {
	d.dedupMu.Lock()
	defer d.dedupMu.Unlock()

	if _, seen := d.dedup[id]; seen {
		return false
	}

	d.dedup[id] = struct{}{}
	d.dedupLL.PushBack(id)
	for d.dedupLL.Len() > d.cfg.ProcessingTableSize {
		oldest := d.dedupLL.Front()
		d.dedupLL.Remove(oldest)
		delete(d.dedup, oldest.Value.(string))
	}
	if d.metrics != nil {
		d.metrics.ProcessingTableSize.Set(float64(d.dedupLL.Len()))
	}
	return true
}

func (d *Dispatcher) sleepBackoff(ctx context.Context, attempt int) {
	delay := backoff.ComputeBackoff(d.cfg.Backoff, attempt)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

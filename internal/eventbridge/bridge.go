// Package eventbridge implements the Event Bridge (spec §4.C): a
// request/response correlation point that lets a caller submit a breadcrumb
// and synchronously await a matching follow-on event, with a bounded
// recent-history ring buffer for late-arriving waiters, grounded on the
// teacher's event-sink/sink-fanout style (internal/agent/event_sink.go) and
// its mutex-guarded state maps (internal/agent/failover.go).
package eventbridge

import (
	"context"
	"sync"
	"time"

	"github.com/haasonsaas/breadcrumb/internal/selector"
	"github.com/haasonsaas/breadcrumb/pkg/models"
)

// DefaultHistorySize is the default recent-event ring buffer capacity.
const DefaultHistorySize = 100

// waiter is a pending Wait call. Publish delivers at most one matched event
// on result (buffered to 1) and removes the waiter under the Bridge mutex.
type waiter struct {
	criteria models.Selector
	result   chan *models.Event
}

// Bridge correlates inbound events against selectors registered via Wait,
// and retains a bounded history of recent events so a selector that would
// have matched something published moments before Wait was called can
// still be satisfied immediately.
//
// Publish is always fed the thin SSE event, never a freshly-fetched
// breadcrumb, so Context is normally nil on what Bridge sees. selector.Matches
// treats a nil Context as satisfying any ContextMatch predicate (the
// "deferred predicate" rule meant for callers like the Executor that refetch
// and recheck via selector.MatchesBreadcrumb). That rule makes ContextMatch
// unsafe as a Bridge correlation key: two concurrent waiters with different
// context_match predicates would both match the first thin event that comes
// through. Callers correlating through Bridge must key on tags (AllTags),
// which thin events always carry correctly, not on ContextMatch.
type Bridge struct {
	mu         sync.Mutex
	waiters    map[*waiter]struct{}
	history    []*models.Event
	historyCap int
}

// New creates a Bridge with the given recent-history capacity. A
// non-positive size falls back to DefaultHistorySize.
func New(historySize int) *Bridge {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Bridge{
		waiters:    make(map[*waiter]struct{}),
		historyCap: historySize,
	}
}

// Publish feeds event to the bridge: it is appended to history and offered
// to every pending waiter whose criteria it satisfies. Publish never blocks
// on a slow consumer — each waiter's result channel is buffered to 1.
func (b *Bridge) Publish(event *models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, event)
	if len(b.history) > b.historyCap {
		b.history = b.history[len(b.history)-b.historyCap:]
	}

	for w := range b.waiters {
		if selector.Matches(event, w.criteria) {
			select {
			case w.result <- event:
			default:
			}
			delete(b.waiters, w)
		}
	}
}

// Wait blocks until an event matching criteria is published, the most recent
// matching entry already in history is found, timeout elapses, or ctx is
// cancelled. It implements the Event Bridge's `wait(criteria, timeout)`
// primitive from spec §4.C.
func (b *Bridge) Wait(ctx context.Context, criteria models.Selector, timeout time.Duration) (*models.Event, error) {
	b.mu.Lock()
	for i := len(b.history) - 1; i >= 0; i-- {
		if selector.Matches(b.history[i], criteria) {
			ev := b.history[i]
			b.mu.Unlock()
			return ev, nil
		}
	}

	w := &waiter{criteria: criteria, result: make(chan *models.Event, 1)}
	b.waiters[w] = struct{}{}
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-w.result:
		return ev, nil
	case <-timer.C:
		b.cancel(w)
		return nil, context.DeadlineExceeded
	case <-ctx.Done():
		b.cancel(w)
		return nil, ctx.Err()
	}
}

// cancel removes a waiter that timed out or was cancelled before a match
// arrived, so Publish stops trying to deliver to it.
func (b *Bridge) cancel(w *waiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.waiters, w)
}

// PendingWaits reports the number of callers currently blocked in Wait,
// exposed for metrics (spec §4.C: "bridge_waits" gauge).
func (b *Bridge) PendingWaits() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}

// History returns a copy of the current recent-event ring buffer, oldest first.
func (b *Bridge) History() []*models.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*models.Event, len(b.history))
	copy(out, b.history)
	return out
}

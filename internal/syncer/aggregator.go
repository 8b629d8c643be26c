package syncer

import (
	"sync"
	"time"
)

const defaultDebounce = 400 * time.Millisecond

// aggregator coalesces bursts of raw change events per (side, path) into a
// single event after a quiet period. Editors that write, truncate and rename
// in quick succession produce one sync instead of several.
type aggregator struct {
	debounce time.Duration
	fire     func(ChangeEvent)

	mu      sync.Mutex
	pending map[string]*pendingChange
	closed  bool
}

type pendingChange struct {
	event ChangeEvent
	timer *time.Timer
}

func newAggregator(debounce time.Duration, fire func(ChangeEvent)) *aggregator {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	return &aggregator{
		debounce: debounce,
		fire:     fire,
		pending:  make(map[string]*pendingChange),
	}
}

func pendingKey(side Side, path string) string {
	return string(side) + "\x00" + path
}

// Add enters a raw event into the debounce table, restarting the quiet
// timer for its path.
func (a *aggregator) Add(ev ChangeEvent) {
	key := pendingKey(ev.Side, ev.Path)
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if pc, ok := a.pending[key]; ok {
		pc.event = coalesce(pc.event, ev)
		pc.timer.Reset(a.debounce)
		return
	}
	pc := &pendingChange{event: ev}
	pc.timer = time.AfterFunc(a.debounce, func() { a.flush(key) })
	a.pending[key] = pc
}

// coalesce folds a newer raw event into the pending one for the same path.
// The last kind generally wins; a create followed by writes stays a create,
// and a delete followed by a re-create collapses into a modify.
func coalesce(old, next ChangeEvent) ChangeEvent {
	merged := next
	switch {
	case old.Kind == EventCreated && next.Kind == EventModified:
		merged.Kind = EventCreated
	case old.Kind == EventDeleted && next.Kind == EventCreated:
		merged.Kind = EventModified
	case old.Kind == EventMoved && next.Kind == EventModified:
		merged.Kind = EventMoved
		merged.OldPath = old.OldPath
	}
	return merged
}

func (a *aggregator) flush(key string) {
	a.mu.Lock()
	pc, ok := a.pending[key]
	if ok {
		delete(a.pending, key)
	}
	closed := a.closed
	a.mu.Unlock()
	if ok && !closed {
		a.fire(pc.event)
	}
}

// Drain fires everything still pending and rejects further input.
func (a *aggregator) Drain() {
	a.mu.Lock()
	events := make([]ChangeEvent, 0, len(a.pending))
	for key, pc := range a.pending {
		pc.timer.Stop()
		events = append(events, pc.event)
		delete(a.pending, key)
	}
	a.closed = true
	a.mu.Unlock()
	for _, ev := range events {
		a.fire(ev)
	}
}

// DiscardAll drops everything still pending and rejects further input.
func (a *aggregator) DiscardAll() {
	a.mu.Lock()
	for key, pc := range a.pending {
		pc.timer.Stop()
		delete(a.pending, key)
	}
	a.closed = true
	a.mu.Unlock()
}

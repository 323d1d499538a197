package pager

import (
	"context"
	"sync"

	"github.com/glabrego/reeder-query/internal/query"
)

// Observer is one view attached to a key.
type Observer struct {
	id     string
	key    query.Key
	spec   query.FilterSpec
	c      *Controller
	notify func(Snapshot)

	mu     sync.Mutex
	closed bool
}

// ID identifies the observer in logs.
func (o *Observer) ID() string { return o.id }

// Key is the listing the observer is attached to.
func (o *Observer) Key() query.Key { return o.key }

// Spec is the normalized filter.
func (o *Observer) Spec() query.FilterSpec { return o.spec }

// Start loads the listing if needed and delivers the first snapshot.
func (o *Observer) Start(ctx context.Context) error {
	if o.isClosed() {
		return ErrObserverClosed
	}
	return o.c.Ensure(ctx, o.key)
}

// LoadMore asks for the next page, typically near the end of the scroll.
func (o *Observer) LoadMore(ctx context.Context) error {
	if o.isClosed() {
		return ErrObserverClosed
	}
	return o.c.LoadMore(ctx, o.key)
}

// Refresh refetches the listing from the first page.
func (o *Observer) Refresh(ctx context.Context) error {
	if o.isClosed() {
		return ErrObserverClosed
	}
	return o.c.Refresh(ctx, o.key)
}

// Snapshot returns the current view without waiting for a notification.
func (o *Observer) Snapshot() (Snapshot, error) {
	if o.isClosed() {
		return Snapshot{}, ErrObserverClosed
	}
	return o.c.Snapshot(o.key), nil
}

// Close detaches the observer. Fetches already running still fill the cache
// but no longer notify it. Close is idempotent.
func (o *Observer) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()
	o.c.detach(o)
}

func (o *Observer) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

func (o *Observer) deliver(snap Snapshot) {
	if o.notify == nil || o.isClosed() {
		return
	}
	o.notify(snap)
}

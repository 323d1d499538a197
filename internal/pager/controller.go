// Package pager drives paginated fetches for filtered article listings. One
// Controller owns the per-key phase machine; views attach through Observers
// and receive a Snapshot after every change.
package pager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/glabrego/reeder-query/internal/feedapi"
	"github.com/glabrego/reeder-query/internal/invalidate"
	"github.com/glabrego/reeder-query/internal/pagestore"
	"github.com/glabrego/reeder-query/internal/query"
	"github.com/glabrego/reeder-query/internal/viewstate"
)

// ErrObserverClosed is returned by operations on a closed observer.
var ErrObserverClosed = errors.New("observer closed")

const defaultConcurrency = 4

// Phase is the fetch state of one key.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseLoadingInitial Phase = "loading_initial"
	PhaseLoadingMore    Phase = "loading_more"
	PhaseRefreshing     Phase = "refreshing"
	PhaseError          Phase = "error"
)

// Loading reports whether a fetch is running in this phase.
func (p Phase) Loading() bool {
	return p == PhaseLoadingInitial || p == PhaseLoadingMore || p == PhaseRefreshing
}

// Fetcher loads one page of articles for encoded query params.
type Fetcher interface {
	FetchArticlePage(ctx context.Context, params string) (feedapi.Page, error)
}

// Store is the page cache the controller reads and fills.
type Store interface {
	Acquire(key query.Key, spec query.FilterSpec) pagestore.Entry
	Release(key query.Key)
	Pin(key query.Key, spec query.FilterSpec) func()
	Get(key query.Key) (pagestore.Entry, bool)
	AppendPage(key query.Key, page feedapi.Page) (pagestore.Entry, error)
	Replace(key query.Key, page feedapi.Page) (pagestore.Entry, error)
	MarkStale(keys ...query.Key) []query.Key
}

// Subscriber is where the controller listens for invalidations.
type Subscriber interface {
	Subscribe(name string, handler invalidate.Handler) func()
}

// Snapshot is what an observer renders.
type Snapshot struct {
	Key       query.Key
	Items     []feedapi.Article
	ViewState viewstate.ViewState
	Phase     Phase
	Err       error
	HasMore   bool
	Total     int
}

// Option mutates controller configuration.
type Option func(*Controller)

// WithLogger injects a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithConcurrency bounds how many keys RefreshKeys fetches at once.
func WithConcurrency(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

type fetchMode int

const (
	modeInitial fetchMode = iota
	modeMore
	modeRefresh
)

func (m fetchMode) phase() Phase {
	switch m {
	case modeMore:
		return PhaseLoadingMore
	case modeRefresh:
		return PhaseRefreshing
	default:
		return PhaseLoadingInitial
	}
}

func (m fetchMode) String() string {
	switch m {
	case modeMore:
		return "load more"
	case modeRefresh:
		return "refresh"
	default:
		return "initial load"
	}
}

type keyState struct {
	spec           query.FilterSpec
	phase          Phase
	err            error
	inFlight       bool
	pendingRefresh bool
	observers      map[string]*Observer
}

// Controller runs fetches for every key and notifies the key's observers.
// At most one fetch per key is in flight; fetches for different keys are
// independent.
type Controller struct {
	store       Store
	fetcher     Fetcher
	logger      *slog.Logger
	concurrency int

	mu     sync.Mutex
	states map[query.Key]*keyState
}

// New creates a controller over store and fetcher.
func New(store Store, fetcher Fetcher, options ...Option) *Controller {
	c := &Controller{
		store:       store,
		fetcher:     fetcher,
		logger:      slog.Default(),
		concurrency: defaultConcurrency,
		states:      make(map[query.Key]*keyState),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Observe attaches notify to the listing for spec. Nothing is fetched until
// Start is called.
func (c *Controller) Observe(spec query.FilterSpec, notify func(Snapshot)) (*Observer, error) {
	key, err := spec.Key()
	if err != nil {
		return nil, fmt.Errorf("observe: %w", err)
	}
	spec = spec.Normalize()
	c.store.Acquire(key, spec)

	o := &Observer{
		id:     uuid.NewString(),
		key:    key,
		spec:   spec,
		c:      c,
		notify: notify,
	}
	c.mu.Lock()
	st := c.stateLocked(key, spec)
	st.observers[o.id] = o
	c.mu.Unlock()

	c.logger.Debug("observer attached", "key", key, "observer_id", o.id)
	return o, nil
}

// Subscribe refreshes observed keys whenever bus invalidates them.
func (c *Controller) Subscribe(bus Subscriber) func() {
	return bus.Subscribe("pager", c.handleInvalidation)
}

func (c *Controller) handleInvalidation(ctx context.Context, event invalidate.Event) error {
	keys := c.observedAmong(event.Keys)
	if len(keys) == 0 {
		return nil
	}
	if err := c.RefreshKeys(ctx, keys); err != nil {
		c.logger.WarnContext(ctx, "refetch after invalidation failed", "reason", event.Reason, "error", err)
	}
	return nil
}

// Ensure loads a never-fetched key, refreshes a stale one and otherwise
// re-delivers the cached listing.
func (c *Controller) Ensure(ctx context.Context, key query.Key) error {
	entry, ok := c.store.Get(key)
	switch {
	case !ok || !entry.Fetched:
		return c.fetch(ctx, key, modeInitial)
	case entry.Stale:
		return c.fetch(ctx, key, modeRefresh)
	default:
		c.notify(key)
		return nil
	}
}

// LoadMore fetches the page after the key's cursor. It is a no-op while a
// fetch for the key is in flight or when the last page has been loaded.
func (c *Controller) LoadMore(ctx context.Context, key query.Key) error {
	return c.fetch(ctx, key, modeMore)
}

// Refresh refetches the first page of key and swaps it in when it arrives.
// The cached list stays visible until then. When a fetch is already in
// flight the refresh runs once that fetch completes.
func (c *Controller) Refresh(ctx context.Context, key query.Key) error {
	return c.fetch(ctx, key, modeRefresh)
}

// RefreshKeys refreshes keys concurrently. A failing key keeps its own error
// phase and does not stop the others.
func (c *Controller) RefreshKeys(ctx context.Context, keys []query.Key) error {
	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, key := range keys {
		g.Go(func() error {
			return c.Refresh(ctx, key)
		})
	}
	return g.Wait()
}

// Snapshot builds the current view of key.
func (c *Controller) Snapshot(key query.Key) Snapshot {
	entry, _ := c.store.Get(key)

	c.mu.Lock()
	phase := PhaseIdle
	var err error
	spec := entry.Spec
	if st, ok := c.states[key]; ok {
		phase, err, spec = st.phase, st.err, st.spec
	}
	c.mu.Unlock()

	loading := phase.Loading() || (phase == PhaseIdle && !entry.Fetched)
	return Snapshot{
		Key:       key,
		Items:     entry.Items,
		ViewState: viewstate.Select(loading, err, len(entry.Items), viewstate.EmptyTypeFor(spec)),
		Phase:     phase,
		Err:       err,
		HasMore:   entry.HasMore,
		Total:     entry.Total,
	}
}

// Phase returns the current phase of key. A key nobody observes reports
// PhaseIdle once its fetches have finished.
func (c *Controller) Phase(key query.Key) Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[key]; ok {
		return st.phase
	}
	return PhaseIdle
}

// fetch reads the entry under c.mu after the in-flight check, so the cursor it
// requests from is the one left by the last completed fetch.
func (c *Controller) fetch(ctx context.Context, key query.Key, mode fetchMode) error {
	c.mu.Lock()
	entry, ok := c.store.Get(key)
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%s %s: %w", mode, key, pagestore.ErrUnknownKey)
	}
	if mode == modeMore && !entry.Fetched {
		mode = modeInitial
	}
	st := c.stateLocked(key, entry.Spec)
	if st.inFlight {
		if mode == modeRefresh {
			st.pendingRefresh = true
			c.store.MarkStale(key)
		}
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "fetch already in flight", "key", key, "mode", mode.String())
		return nil
	}
	if mode == modeMore && !entry.HasMore {
		c.dropIdleLocked(key, st)
		c.mu.Unlock()
		return nil
	}
	cursor := ""
	if mode == modeMore {
		cursor = entry.Cursor
	}
	st.inFlight = true
	st.phase = mode.phase()
	st.err = nil
	spec := st.spec
	unpin := c.store.Pin(key, spec)
	c.mu.Unlock()
	c.notify(key)

	page, err := c.fetcher.FetchArticlePage(ctx, query.Encode(spec, cursor))
	if err == nil {
		if mode == modeMore {
			_, err = c.store.AppendPage(key, page)
		} else {
			_, err = c.store.Replace(key, page)
		}
	}
	unpin()

	c.mu.Lock()
	st.inFlight = false
	if err != nil {
		st.phase = PhaseError
		st.err = err
	} else {
		st.phase = PhaseIdle
	}
	pending := st.pendingRefresh
	st.pendingRefresh = false
	retry := pending && ctx.Err() == nil
	if pending && !retry {
		// Replace cleared the mark set when the refresh was queued.
		c.store.MarkStale(key)
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.WarnContext(ctx, "page fetch failed", "key", key, "mode", mode.String(), "error", err)
		err = fmt.Errorf("%s %s: %w", mode, key, err)
	} else {
		c.logger.DebugContext(ctx, "page fetched", "key", key, "mode", mode.String(), "articles", len(page.Articles), "is_last", page.IsLast)
	}
	c.notify(key)

	if retry {
		return errors.Join(err, c.fetch(ctx, key, modeRefresh))
	}
	c.mu.Lock()
	c.dropIdleLocked(key, st)
	c.mu.Unlock()
	return err
}

// notify delivers the key's snapshot to its open observers, outside the lock.
func (c *Controller) notify(key query.Key) {
	c.mu.Lock()
	st, ok := c.states[key]
	if !ok || len(st.observers) == 0 {
		c.mu.Unlock()
		return
	}
	observers := make([]*Observer, 0, len(st.observers))
	for _, o := range st.observers {
		observers = append(observers, o)
	}
	c.mu.Unlock()

	snap := c.Snapshot(key)
	for _, o := range observers {
		o.deliver(snap)
	}
}

func (c *Controller) observedAmong(keys []query.Key) []query.Key {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]query.Key, 0, len(keys))
	for _, key := range keys {
		if st, ok := c.states[key]; ok && len(st.observers) > 0 {
			out = append(out, key)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func (c *Controller) stateLocked(key query.Key, spec query.FilterSpec) *keyState {
	st, ok := c.states[key]
	if !ok {
		st = &keyState{
			spec:      spec.Normalize(),
			phase:     PhaseIdle,
			observers: make(map[string]*Observer),
		}
		c.states[key] = st
	}
	return st
}

// dropIdleLocked forgets a key nobody observes once its fetches are done, so
// per-key state lives no longer than its observers.
func (c *Controller) dropIdleLocked(key query.Key, st *keyState) {
	if len(st.observers) > 0 || st.inFlight || st.pendingRefresh {
		return
	}
	if c.states[key] == st {
		delete(c.states, key)
	}
}

func (c *Controller) detach(o *Observer) {
	c.mu.Lock()
	if st, ok := c.states[o.key]; ok {
		delete(st.observers, o.id)
		c.dropIdleLocked(o.key, st)
	}
	c.mu.Unlock()
	c.store.Release(o.key)
	c.logger.Debug("observer detached", "key", o.key, "observer_id", o.id)
}

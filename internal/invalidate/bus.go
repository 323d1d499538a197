// Package invalidate decides which cached listings a refresh or an article
// mutation makes stale, marks them, and tells subscribers to refetch.
package invalidate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/glabrego/reeder-query/internal/feedapi"
	"github.com/glabrego/reeder-query/internal/pagestore"
	"github.com/glabrego/reeder-query/internal/query"
)

// ErrInvalidMutation is returned for a mutation event without an article id.
var ErrInvalidMutation = errors.New("invalid mutation event")

// Reason says why keys were invalidated.
type Reason string

const (
	ReasonRefresh  Reason = "refresh"
	ReasonMutation Reason = "mutation"
)

// Event is delivered to subscribers after keys have been marked stale.
type Event struct {
	Reason   Reason
	Keys     []query.Key
	Mutation *MutationEvent
}

// Handler consumes invalidation events.
type Handler func(ctx context.Context, event Event) error

// Store is the part of the page store the bus reads and marks.
type Store interface {
	ObservedKeys() []query.Key
	Candidates(articleID string) []pagestore.Candidate
	Article(id string) (feedapi.Article, bool)
	MarkStale(keys ...query.Key) []query.Key
	AdjustTotal(key query.Key, delta int)
	Patch(article feedapi.Article) []query.Key
}

// TreeCache is the folder/tag summary cache holding unread counts.
type TreeCache interface {
	MarkStale()
	AdjustUnread(folderID string, tagIDs []string, delta int)
}

// Result reports what a publish did.
type Result struct {
	Keys     []query.Key
	Adjusted map[query.Key]int
	Patched  []query.Key
	Conflict bool
}

// Option mutates bus configuration.
type Option func(*Bus)

// WithLogger injects a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithTree registers the folder tree cache to mark stale.
func WithTree(tree TreeCache) Option {
	return func(b *Bus) {
		b.tree = tree
	}
}

type subscription struct {
	name    string
	handler Handler
}

// Bus fans invalidations out to an explicit list of subscribers.
type Bus struct {
	store  Store
	tree   TreeCache
	logger *slog.Logger

	mu     sync.RWMutex
	nextID int64
	subs   map[int64]subscription
}

// New creates a bus over store.
func New(store Store, options ...Option) *Bus {
	b := &Bus{
		store:  store,
		logger: slog.Default(),
		subs:   make(map[int64]subscription),
	}
	for _, option := range options {
		option(b)
	}
	return b
}

// Subscribe registers handler and returns a func removing it.
func (b *Bus) Subscribe(name string, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if name == "" {
		name = fmt.Sprintf("subscription-%d", id)
	}
	b.subs[id] = subscription{name: name, handler: handler}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// PublishRefresh invalidates every observed key and the folder tree.
func (b *Bus) PublishRefresh(ctx context.Context) (Result, error) {
	keys := b.store.MarkStale(b.store.ObservedKeys()...)
	if b.tree != nil {
		b.tree.MarkStale()
	}
	b.logger.InfoContext(ctx, "refresh invalidated keys", "keys", len(keys))

	err := b.dispatch(ctx, Event{Reason: ReasonRefresh, Keys: keys})
	return Result{Keys: keys}, err
}

// PublishMutation applies a mutation's invalidation policy. It is called by
// writers after their write succeeded.
func (b *Bus) PublishMutation(ctx context.Context, m MutationEvent) (Result, error) {
	if strings.TrimSpace(m.ArticleID) == "" {
		return Result{}, fmt.Errorf("publish mutation: %w: empty article id", ErrInvalidMutation)
	}
	if m.Current != nil && m.Current.ID != m.ArticleID {
		return Result{}, fmt.Errorf("publish mutation: %w: article id %q does not match %q", ErrInvalidMutation, m.Current.ID, m.ArticleID)
	}

	var previous *feedapi.Article
	if cached, ok := b.store.Article(m.ArticleID); ok {
		previous = &cached
	}
	decision := Select(m, previous, b.store.Candidates(m.ArticleID))

	result := Result{Conflict: decision.Conflict}
	if decision.Patch {
		result.Patched = b.store.Patch(*m.Current)
	}
	for key, delta := range decision.Adjust {
		b.store.AdjustTotal(key, delta)
	}
	if len(decision.Adjust) > 0 {
		result.Adjusted = decision.Adjust
	}
	result.Keys = b.store.MarkStale(decision.Invalidate...)

	if b.tree != nil && decision.TreeStale {
		if decision.TreeDelta != 0 {
			article := m.Current
			if article == nil {
				article = previous
			}
			if article != nil {
				b.tree.AdjustUnread(article.FolderID, article.TagIDs, decision.TreeDelta)
			}
		}
		b.tree.MarkStale()
	}

	if decision.Conflict {
		b.logger.DebugContext(ctx, "mutation touches no cached listing", "article_id", m.ArticleID)
		return result, nil
	}

	b.logger.InfoContext(ctx,
		"mutation invalidated keys",
		"article_id", m.ArticleID,
		"fields", m.ChangedFields,
		"invalidated", len(result.Keys),
		"adjusted", len(result.Adjusted),
		"patched", len(result.Patched),
	)
	if len(result.Keys) == 0 {
		return result, nil
	}

	err := b.dispatch(ctx, Event{Reason: ReasonMutation, Keys: result.Keys, Mutation: &m})
	return result, err
}

func (b *Bus) dispatch(ctx context.Context, event Event) error {
	subs := b.snapshotSubscriptions()

	var errs []error
	for _, sub := range subs {
		if err := sub.handler(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sub.name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("dispatch %s invalidation: %w", event.Reason, errors.Join(errs...))
	}
	return nil
}

// snapshotSubscriptions returns subscribers in registration order so handlers
// run outside the lock.
func (b *Bus) snapshotSubscriptions() []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ids := make([]int64, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]subscription, 0, len(ids))
	for _, id := range ids {
		out = append(out, b.subs[id])
	}
	return out
}

// Package pagestore keeps, per cache key, the merged sequence of article pages
// fetched so far together with the cursor, has-more flag and staleness.
package pagestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/glabrego/reeder-query/internal/feedapi"
	"github.com/glabrego/reeder-query/internal/query"
)

const (
	defaultTTL        = 10 * time.Minute
	defaultMaxEntries = 256
)

// ErrUnknownKey is returned when an operation names a key with no entry.
var ErrUnknownKey = errors.New("unknown cache key")

// Option mutates store configuration.
type Option func(*Store)

// WithTTL sets how long an unobserved entry survives before Sweep drops it.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxEntries bounds the number of entries kept. Observed entries are
// never evicted, so the bound can be exceeded while views hold them.
func WithMaxEntries(maxEntries int) Option {
	return func(s *Store) {
		if maxEntries > 0 {
			s.maxEntries = maxEntries
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.clock = now
		}
	}
}

// WithLogger injects a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Entry is a read-only snapshot of one key's cached listing.
type Entry struct {
	Key       query.Key
	Spec      query.FilterSpec
	Items     []feedapi.Article
	Pages     int
	Cursor    string
	HasMore   bool
	Stale     bool
	Fetched   bool
	Total     int
	Observers int
}

// Len is the number of merged articles.
func (e Entry) Len() int { return len(e.Items) }

// Candidate describes one entry for invalidation decisions.
type Candidate struct {
	Key      query.Key
	Spec     query.FilterSpec
	Holds    bool
	Observed bool
}

type entry struct {
	spec       query.FilterSpec
	items      []feedapi.Article
	index      map[string]int
	pages      int
	cursor     string
	hasMore    bool
	stale      bool
	fetched    bool
	total      int
	delta      int
	observers  int
	pins       int
	releasedAt time.Time
}

func newEntry(spec query.FilterSpec) *entry {
	return &entry{
		spec:    spec.Normalize(),
		index:   make(map[string]int),
		hasMore: true,
		total:   feedapi.UnknownTotal,
	}
}

// Store is the process-wide page cache shared by every observer of a key.
// Every method is atomic with respect to the others.
type Store struct {
	logger     *slog.Logger
	ttl        time.Duration
	maxEntries int
	clock      func() time.Time

	mu      sync.Mutex
	entries map[query.Key]*entry
}

// New creates an empty store.
func New(options ...Option) *Store {
	s := &Store{
		logger:     slog.Default(),
		ttl:        defaultTTL,
		maxEntries: defaultMaxEntries,
		clock:      time.Now,
		entries:    make(map[query.Key]*entry),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Acquire registers an observer of key, creating the entry on first use.
func (s *Store) Acquire(key query.Key, spec query.FilterSpec) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(key, spec)
	e.observers++
	return e.snapshot(key)
}

// Release drops one observer of key. The entry stays cached until swept.
func (s *Store) Release(key query.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || e.observers == 0 {
		return
	}
	e.observers--
	if e.observers == 0 {
		e.releasedAt = s.clock()
	}
}

// Pin keeps key from being swept while a fetch for it is in flight. The
// returned func undoes the pin.
func (s *Store) Pin(key query.Key, spec query.FilterSpec) func() {
	s.mu.Lock()
	e := s.entryLocked(key, spec)
	e.pins++
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if e, ok := s.entries[key]; ok && e.pins > 0 {
				e.pins--
				if e.pins == 0 && e.observers == 0 {
					e.releasedAt = s.clock()
				}
			}
		})
	}
}

// Get returns a snapshot of key's entry.
func (s *Store) Get(key query.Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	return e.snapshot(key), true
}

// Reset drops every page of key, clears the cursor and staleness and sets
// has-more.
func (s *Store) Reset(key query.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return fmt.Errorf("reset %s: %w", key, ErrUnknownKey)
	}
	e.reset()
	return nil
}

// AppendPage merges page into key's sequence. An article already present is
// replaced in place; new articles are appended in page order.
func (s *Store) AppendPage(key query.Key, page feedapi.Page) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Entry{}, fmt.Errorf("append page %s: %w", key, ErrUnknownKey)
	}
	e.append(page)
	return e.snapshot(key), nil
}

// Replace resets key and appends page as one step, so no reader observes the
// empty intermediate state.
func (s *Store) Replace(key query.Key, page feedapi.Page) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Entry{}, fmt.Errorf("replace %s: %w", key, ErrUnknownKey)
	}
	e.reset()
	e.append(page)
	return e.snapshot(key), nil
}

// MarkStale flags entries for refetch and returns the keys that existed.
func (s *Store) MarkStale(keys ...query.Key) []query.Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	marked := make([]query.Key, 0, len(keys))
	for _, key := range keys {
		if e, ok := s.entries[key]; ok {
			e.stale = true
			marked = append(marked, key)
		}
	}
	return marked
}

// AdjustTotal applies an optimistic change to key's total count. It has no
// effect while the total is unknown.
func (s *Store) AdjustTotal(key query.Key, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok && e.total != feedapi.UnknownTotal {
		e.delta += delta
	}
}

// Patch replaces the cached copy of article in every entry already holding
// it, keeping its position. It never adds the article to an entry.
func (s *Store) Patch(article feedapi.Article) []query.Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	var patched []query.Key
	for key, e := range s.entries {
		if idx, ok := e.index[article.ID]; ok {
			e.items[idx] = article.Clone()
			patched = append(patched, key)
		}
	}
	slices.Sort(patched)
	return patched
}

// ObservedKeys lists keys with at least one observer, sorted.
func (s *Store) ObservedKeys() []query.Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]query.Key, 0, len(s.entries))
	for key, e := range s.entries {
		if e.observers > 0 {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}

// Candidates describes every entry relative to articleID, sorted by key.
func (s *Store) Candidates(articleID string) []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Candidate, 0, len(s.entries))
	for key, e := range s.entries {
		_, holds := e.index[articleID]
		out = append(out, Candidate{
			Key:      key,
			Spec:     e.spec,
			Holds:    holds,
			Observed: e.observers > 0,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Article returns the cached copy of an article from any entry.
func (s *Store) Article(id string) (feedapi.Article, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if idx, ok := e.index[id]; ok {
			return e.items[idx].Clone(), true
		}
	}
	return feedapi.Article{}, false
}

// Entries returns snapshots of every fetched entry, sorted by key.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for key, e := range s.entries {
		if e.fetched {
			out = append(out, e.snapshot(key))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Restore seeds key with previously persisted data. Restored entries are
// stale so the first observer triggers a refresh. Entries already fetched in
// this process are left alone.
func (s *Store) Restore(key query.Key, spec query.FilterSpec, items []feedapi.Article, cursor string, hasMore bool, total int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entryLocked(key, spec)
	if e.fetched {
		return false
	}
	e.reset()
	e.append(feedapi.Page{Articles: items, NextCursor: cursor, IsLast: !hasMore, Total: total})
	e.pages = 0
	e.stale = true
	if e.observers == 0 && e.pins == 0 {
		e.releasedAt = s.clock()
	}
	return true
}

// Sweep drops unobserved entries idle for longer than the TTL, then evicts
// the longest-idle unobserved entries while over capacity. It returns the
// number of entries dropped.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	idle := make([]query.Key, 0)
	for key, e := range s.entries {
		if e.observers > 0 || e.pins > 0 {
			continue
		}
		if now.Sub(e.releasedAt) >= s.ttl {
			delete(s.entries, key)
			dropped++
			continue
		}
		idle = append(idle, key)
	}

	if over := len(s.entries) - s.maxEntries; over > 0 {
		sort.Slice(idle, func(i, j int) bool {
			return s.entries[idle[i]].releasedAt.Before(s.entries[idle[j]].releasedAt)
		})
		for _, key := range idle[:min(over, len(idle))] {
			delete(s.entries, key)
			dropped++
		}
	}

	if dropped > 0 {
		s.logger.Debug("page store swept", "dropped", dropped, "remaining", len(s.entries))
	}
	return dropped
}

// Run sweeps every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.clock())
		}
	}
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) entryLocked(key query.Key, spec query.FilterSpec) *entry {
	e, ok := s.entries[key]
	if !ok {
		e = newEntry(spec)
		e.releasedAt = s.clock()
		s.entries[key] = e
	}
	return e
}

func (e *entry) reset() {
	e.items = nil
	e.index = make(map[string]int)
	e.pages = 0
	e.cursor = ""
	e.hasMore = true
	e.stale = false
	e.total = feedapi.UnknownTotal
	e.delta = 0
}

func (e *entry) append(page feedapi.Page) {
	for _, article := range page.Articles {
		if idx, ok := e.index[article.ID]; ok {
			e.items[idx] = article.Clone()
			continue
		}
		e.index[article.ID] = len(e.items)
		e.items = append(e.items, article.Clone())
	}
	e.pages++
	e.cursor = page.NextCursor
	e.hasMore = !page.IsLast
	e.fetched = true
	if page.Total != feedapi.UnknownTotal {
		e.total = page.Total
		e.delta = 0
	}
}

func (e *entry) snapshot(key query.Key) Entry {
	items := make([]feedapi.Article, len(e.items))
	for i, article := range e.items {
		items[i] = article.Clone()
	}
	total := e.total
	if total != feedapi.UnknownTotal {
		total = max(0, total+e.delta)
	}
	return Entry{
		Key:       key,
		Spec:      e.spec,
		Items:     items,
		Pages:     e.pages,
		Cursor:    e.cursor,
		HasMore:   e.hasMore,
		Stale:     e.stale,
		Fetched:   e.fetched,
		Total:     total,
		Observers: e.observers,
	}
}

package pager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/glabrego/reeder-query/internal/feedapi"
	"github.com/glabrego/reeder-query/internal/invalidate"
	"github.com/glabrego/reeder-query/internal/pagestore"
	"github.com/glabrego/reeder-query/internal/query"
	"github.com/glabrego/reeder-query/internal/viewstate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchArticlePage(ctx context.Context, params string) (feedapi.Page, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(feedapi.Page), args.Error(1)
}

// gatedFetcher blocks every call until release is closed and records how
// many calls overlapped.
type gatedFetcher struct {
	release chan struct{}
	started chan string
	page    feedapi.Page

	calls   atomic.Int32
	current atomic.Int32
	maxSeen atomic.Int32
}

func newGatedFetcher(page feedapi.Page) *gatedFetcher {
	return &gatedFetcher{
		release: make(chan struct{}),
		started: make(chan string, 16),
		page:    page,
	}
}

func (f *gatedFetcher) FetchArticlePage(ctx context.Context, params string) (feedapi.Page, error) {
	f.calls.Add(1)
	n := f.current.Add(1)
	defer f.current.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	f.started <- params
	select {
	case <-f.release:
		return f.page, nil
	case <-ctx.Done():
		return feedapi.Page{}, ctx.Err()
	}
}

type fetcherFunc func(ctx context.Context, params string) (feedapi.Page, error)

func (f fetcherFunc) FetchArticlePage(ctx context.Context, params string) (feedapi.Page, error) {
	return f(ctx, params)
}

// gatedStore holds the first Get after arm until release is closed.
type gatedStore struct {
	*pagestore.Store
	armed   atomic.Bool
	reached chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		Store:   pagestore.New(),
		reached: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *gatedStore) Get(key query.Key) (pagestore.Entry, bool) {
	entry, ok := s.Store.Get(key)
	if s.armed.CompareAndSwap(true, false) {
		close(s.reached)
		<-s.release
	}
	return entry, ok
}

type recorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *recorder) notify(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func (r *recorder) last() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snaps[len(r.snaps)-1]
}

func articles(ids ...string) []feedapi.Article {
	out := make([]feedapi.Article, 0, len(ids))
	for _, id := range ids {
		out = append(out, feedapi.Article{ID: id, Title: "title " + id})
	}
	return out
}

func ids(items []feedapi.Article) []string {
	out := make([]string, 0, len(items))
	for _, a := range items {
		out = append(out, a.ID)
	}
	return out
}

var unread = query.FilterSpec{ReadState: query.UnreadOnly}

func TestObserve_RejectsInvalidSpec(t *testing.T) {
	c := New(pagestore.New(), &mockFetcher{})
	_, err := c.Observe(query.FilterSpec{ReadState: "sometimes"}, nil)
	assert.ErrorIs(t, err, query.ErrInvalidFilterSpec)
}

func TestStart_LoadsFirstPageAndNotifies(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("FetchArticlePage", mock.Anything, "is_read=unread").
		Return(feedapi.Page{Articles: articles("a", "b"), NextCursor: "c2", Total: 5}, nil).Once()

	c := New(pagestore.New(), fetcher)
	rec := &recorder{}
	obs, err := c.Observe(unread, rec.notify)
	require.NoError(t, err)
	defer obs.Close()

	require.NoError(t, obs.Start(context.Background()))

	require.Equal(t, 2, rec.count())
	assert.Equal(t, PhaseLoadingInitial, rec.snaps[0].Phase)
	assert.Equal(t, viewstate.Loading, rec.snaps[0].ViewState)

	last := rec.last()
	assert.Equal(t, PhaseIdle, last.Phase)
	assert.Equal(t, viewstate.Populated, last.ViewState)
	assert.Equal(t, []string{"a", "b"}, ids(last.Items))
	assert.True(t, last.HasMore)
	assert.Equal(t, 5, last.Total)
	fetcher.AssertExpectations(t)
}

func TestStart_ServesCachedEntryWithoutFetching(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("FetchArticlePage", mock.Anything, "is_read=unread").
		Return(feedapi.Page{Articles: articles("a"), IsLast: true}, nil).Once()

	c := New(pagestore.New(), fetcher)
	first, err := c.Observe(unread, nil)
	require.NoError(t, err)
	defer first.Close()
	require.NoError(t, first.Start(context.Background()))

	rec := &recorder{}
	second, err := c.Observe(unread, rec.notify)
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.Start(context.Background()))

	require.Equal(t, 1, rec.count())
	assert.Equal(t, []string{"a"}, ids(rec.last().Items))
	fetcher.AssertNumberOfCalls(t, "FetchArticlePage", 1)
}

func TestLoadMore_NoOpWhenLastPageLoaded(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("FetchArticlePage", mock.Anything, "is_read=unread").
		Return(feedapi.Page{Articles: articles("a"), IsLast: true}, nil).Once()

	c := New(pagestore.New(), fetcher)
	obs, err := c.Observe(unread, nil)
	require.NoError(t, err)
	defer obs.Close()
	require.NoError(t, obs.Start(context.Background()))

	require.NoError(t, obs.LoadMore(context.Background()))
	require.NoError(t, obs.LoadMore(context.Background()))

	fetcher.AssertNumberOfCalls(t, "FetchArticlePage", 1)
}

func TestLoadMore_AppendsNextPageWithCursor(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("FetchArticlePage", mock.Anything, "is_read=unread").
		Return(feedapi.Page{Articles: articles("a", "b"), NextCursor: "c2"}, nil).Once()
	fetcher.On("FetchArticlePage", mock.Anything, "cursor=c2&is_read=unread").
		Return(feedapi.Page{Articles: articles("b", "c"), IsLast: true}, nil).Once()

	store := pagestore.New()
	c := New(store, fetcher)
	obs, err := c.Observe(unread, nil)
	require.NoError(t, err)
	defer obs.Close()
	require.NoError(t, obs.Start(context.Background()))
	require.NoError(t, obs.LoadMore(context.Background()))

	snap, err := obs.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids(snap.Items))
	assert.False(t, snap.HasMore)
	fetcher.AssertExpectations(t)
}

func TestLoadMore_FailureKeepsLoadedPages(t *testing.T) {
	boom := &feedapi.NetworkError{Op: "fetch articles", StatusCode: 503}
	fetcher := &mockFetcher{}
	fetcher.On("FetchArticlePage", mock.Anything, "is_read=unread").
		Return(feedapi.Page{Articles: articles("a", "b"), NextCursor: "c2"}, nil).Once()
	fetcher.On("FetchArticlePage", mock.Anything, "cursor=c2&is_read=unread").
		Return(feedapi.Page{Articles: articles("c", "d"), NextCursor: "c3"}, nil).Once()
	fetcher.On("FetchArticlePage", mock.Anything, "cursor=c3&is_read=unread").
		Return(feedapi.Page{}, boom).Once()

	store := pagestore.New()
	c := New(store, fetcher)
	rec := &recorder{}
	obs, err := c.Observe(unread, rec.notify)
	require.NoError(t, err)
	defer obs.Close()

	require.NoError(t, obs.Start(context.Background()))
	require.NoError(t, obs.LoadMore(context.Background()))
	err = obs.LoadMore(context.Background())
	require.Error(t, err)
	assert.True(t, feedapi.IsNetworkError(err))

	last := rec.last()
	assert.Equal(t, PhaseError, last.Phase)
	assert.Equal(t, viewstate.ErrorState, last.ViewState)
	assert.Equal(t, []string{"a", "b", "c", "d"}, ids(last.Items))
	assert.True(t, last.HasMore)

	entry, ok := store.Get(obs.Key())
	require.True(t, ok)
	assert.Equal(t, 2, entry.Pages)
	assert.Equal(t, "c3", entry.Cursor)
}

func TestLoadMore_RetryAfterErrorUsesSameCursor(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("FetchArticlePage", mock.Anything, "is_read=unread").
		Return(feedapi.Page{Articles: articles("a"), NextCursor: "c2"}, nil).Once()
	fetcher.On("FetchArticlePage", mock.Anything, "cursor=c2&is_read=unread").
		Return(feedapi.Page{}, errors.New("timeout")).Once()
	fetcher.On("FetchArticlePage", mock.Anything, "cursor=c2&is_read=unread").
		Return(feedapi.Page{Articles: articles("b"), IsLast: true}, nil).Once()

	c := New(pagestore.New(), fetcher)
	obs, err := c.Observe(unread, nil)
	require.NoError(t, err)
	defer obs.Close()

	require.NoError(t, obs.Start(context.Background()))
	require.Error(t, obs.LoadMore(context.Background()))
	require.NoError(t, obs.LoadMore(context.Background()))

	snap, _ := obs.Snapshot()
	assert.Equal(t, PhaseIdle, snap.Phase)
	assert.NoError(t, snap.Err)
	assert.Equal(t, []string{"a", "b"}, ids(snap.Items))
	fetcher.AssertExpectations(t)
}

func TestLoadMore_AtMostOneFetchInFlight(t *testing.T) {
	store := pagestore.New()
	key := unread.MustKey()
	store.Acquire(key, unread)
	_, err := store.AppendPage(key, feedapi.Page{Articles: articles("a"), NextCursor: "c2"})
	require.NoError(t, err)

	fetcher := newGatedFetcher(feedapi.Page{Articles: articles("b"), NextCursor: "c3"})
	c := New(store, fetcher)

	done := make(chan error, 1)
	go func() { done <- c.LoadMore(context.Background(), key) }()
	<-fetcher.started

	for range 5 {
		require.NoError(t, c.LoadMore(context.Background(), key))
	}
	assert.Equal(t, PhaseLoadingMore, c.Phase(key))

	close(fetcher.release)
	require.NoError(t, <-done)

	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.Equal(t, int32(1), fetcher.maxSeen.Load())
	entry, _ := store.Get(key)
	assert.Equal(t, []string{"a", "b"}, ids(entry.Items))
}

func TestRefresh_KeepsOldListUntilFirstPageArrives(t *testing.T) {
	store := pagestore.New()
	key := unread.MustKey()
	store.Acquire(key, unread)
	_, err := store.AppendPage(key, feedapi.Page{Articles: articles("old1", "old2"), NextCursor: "c2"})
	require.NoError(t, err)
	_, err = store.AppendPage(key, feedapi.Page{Articles: articles("old3"), IsLast: true})
	require.NoError(t, err)

	fetcher := newGatedFetcher(feedapi.Page{Articles: articles("new1"), NextCursor: "n2"})
	c := New(store, fetcher)

	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background(), key) }()
	<-fetcher.started

	during := c.Snapshot(key)
	assert.Equal(t, PhaseRefreshing, during.Phase)
	assert.Equal(t, viewstate.Populated, during.ViewState)
	assert.Equal(t, []string{"old1", "old2", "old3"}, ids(during.Items))

	close(fetcher.release)
	require.NoError(t, <-done)

	after := c.Snapshot(key)
	assert.Equal(t, []string{"new1"}, ids(after.Items))
	assert.True(t, after.HasMore)
	entry, _ := store.Get(key)
	assert.Equal(t, 1, entry.Pages)
	assert.Equal(t, "n2", entry.Cursor)
	assert.False(t, entry.Stale)
}

func TestRefresh_FailureKeepsOldData(t *testing.T) {
	store := pagestore.New()
	key := unread.MustKey()
	store.Acquire(key, unread)
	_, err := store.AppendPage(key, feedapi.Page{Articles: articles("a"), IsLast: true})
	require.NoError(t, err)

	fetcher := &mockFetcher{}
	fetcher.On("FetchArticlePage", mock.Anything, "is_read=unread").Return(feedapi.Page{}, errors.New("offline")).Once()

	c := New(store, fetcher)
	obs, err := c.Observe(unread, nil)
	require.NoError(t, err)
	defer obs.Close()
	require.Error(t, obs.Refresh(context.Background()))

	snap := c.Snapshot(key)
	assert.Equal(t, PhaseError, snap.Phase)
	assert.Equal(t, viewstate.ErrorState, snap.ViewState)
	assert.Equal(t, []string{"a"}, ids(snap.Items))
}

func TestRefresh_IsIdempotent(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("FetchArticlePage", mock.Anything, "is_read=unread").
		Return(feedapi.Page{Articles: articles("a", "b"), IsLast: true, Total: 2}, nil)

	store := pagestore.New()
	c := New(store, fetcher)
	obs, err := c.Observe(unread, nil)
	require.NoError(t, err)
	defer obs.Close()

	require.NoError(t, obs.Start(context.Background()))
	require.NoError(t, obs.Refresh(context.Background()))
	first, _ := obs.Snapshot()
	require.NoError(t, obs.Refresh(context.Background()))
	second, _ := obs.Snapshot()

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"a", "b"}, ids(second.Items))
}

func TestRefresh_DuringInFlightFetchRunsAfterwards(t *testing.T) {
	store := pagestore.New()
	key := unread.MustKey()
	store.Acquire(key, unread)
	_, err := store.AppendPage(key, feedapi.Page{Articles: articles("a"), NextCursor: "c2"})
	require.NoError(t, err)

	fetcher := newGatedFetcher(feedapi.Page{Articles: articles("z"), IsLast: true})
	c := New(store, fetcher)

	done := make(chan error, 1)
	go func() { done <- c.LoadMore(context.Background(), key) }()
	assert.Equal(t, "cursor=c2&is_read=unread", <-fetcher.started)

	require.NoError(t, c.Refresh(context.Background(), key))
	entry, _ := store.Get(key)
	assert.True(t, entry.Stale)

	close(fetcher.release)
	require.NoError(t, <-done)

	select {
	case params := <-fetcher.started:
		assert.Equal(t, "is_read=unread", params)
	case <-time.After(time.Second):
		t.Fatal("pending refresh did not run")
	}
	assert.Equal(t, int32(2), fetcher.calls.Load())
	entry, _ = store.Get(key)
	assert.False(t, entry.Stale)
	assert.Equal(t, []string{"z"}, ids(entry.Items))
}

func TestClose_PendingLoadMoreFillsStoreWithoutNotifying(t *testing.T) {
	store := pagestore.New(pagestore.WithTTL(time.Nanosecond))
	fetcher := newGatedFetcher(feedapi.Page{Articles: articles("b"), IsLast: true})

	c := New(store, fetcher)
	rec := &recorder{}
	obs, err := c.Observe(unread, rec.notify)
	require.NoError(t, err)
	key := obs.Key()
	_, err = store.AppendPage(key, feedapi.Page{Articles: articles("a"), NextCursor: "c2"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- obs.LoadMore(context.Background()) }()
	<-fetcher.started

	obs.Close()
	notified := rec.count()
	assert.Zero(t, store.Sweep(time.Now().Add(time.Hour)), "pinned entry must survive sweeping")

	close(fetcher.release)
	require.NoError(t, <-done)

	entry, ok := store.Get(key)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, ids(entry.Items))
	assert.Zero(t, entry.Observers)
	assert.Equal(t, notified, rec.count())

	assert.ErrorIs(t, obs.LoadMore(context.Background()), ErrObserverClosed)
	_, err = obs.Snapshot()
	assert.ErrorIs(t, err, ErrObserverClosed)
	obs.Close()
}

func TestRefreshKeys_FailureStaysWithItsKey(t *testing.T) {
	read := query.FilterSpec{ReadState: query.ReadOnly}
	fetcher := &mockFetcher{}
	fetcher.On("FetchArticlePage", mock.Anything, "is_read=unread").
		Return(feedapi.Page{Articles: articles("u1"), IsLast: true}, nil)
	fetcher.On("FetchArticlePage", mock.Anything, "is_read=read").
		Return(feedapi.Page{}, errors.New("boom"))

	store := pagestore.New()
	c := New(store, fetcher)
	unreadObs, err := c.Observe(unread, nil)
	require.NoError(t, err)
	defer unreadObs.Close()
	readObs, err := c.Observe(read, nil)
	require.NoError(t, err)
	defer readObs.Close()

	err = c.RefreshKeys(context.Background(), []query.Key{unreadObs.Key(), readObs.Key()})
	require.Error(t, err)

	assert.Equal(t, PhaseIdle, c.Phase(unreadObs.Key()))
	assert.Equal(t, PhaseError, c.Phase(readObs.Key()))
	u, _ := unreadObs.Snapshot()
	assert.Equal(t, []string{"u1"}, ids(u.Items))
}

func TestSubscribe_RefetchesObservedKeysOnMutation(t *testing.T) {
	folder := query.FilterSpec{FolderIDs: []string{"f1"}}
	fetcher := &mockFetcher{}
	fetcher.On("FetchArticlePage", mock.Anything, "is_read=unread").
		Return(feedapi.Page{Articles: []feedapi.Article{{ID: "A123", FolderID: "f1"}}, IsLast: true, Total: 1}, nil).Once()
	fetcher.On("FetchArticlePage", mock.Anything, "is_read=unread").
		Return(feedapi.Page{IsLast: true, Total: 0}, nil).Once()

	store := pagestore.New()
	bus := invalidate.New(store)
	c := New(store, fetcher)
	unsubscribe := c.Subscribe(bus)
	defer unsubscribe()

	rec := &recorder{}
	obs, err := c.Observe(unread, rec.notify)
	require.NoError(t, err)
	defer obs.Close()
	require.NoError(t, obs.Start(context.Background()))

	// a released key is marked stale but not refetched
	folderKey := folder.MustKey()
	store.Acquire(folderKey, folder)
	_, err = store.AppendPage(folderKey, feedapi.Page{Articles: []feedapi.Article{{ID: "A123", FolderID: "f1"}}, IsLast: true})
	require.NoError(t, err)
	store.Release(folderKey)

	current := feedapi.Article{ID: "A123", FolderID: "f1", IsRead: true}
	result, err := bus.PublishMutation(context.Background(), invalidate.MutationEvent{
		ArticleID:     "A123",
		ChangedFields: []invalidate.Field{invalidate.FieldIsRead},
		Current:       &current,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []query.Key{obs.Key(), folderKey}, result.Keys)

	last := rec.last()
	assert.Equal(t, viewstate.EmptyUnread, last.ViewState)
	assert.Empty(t, last.Items)
	folderEntry, _ := store.Get(folderKey)
	assert.True(t, folderEntry.Stale)
	fetcher.AssertExpectations(t)
}

func TestEnsure_RestoredStaleEntryRefreshes(t *testing.T) {
	store := pagestore.New()
	key := unread.MustKey()
	store.Restore(key, unread, articles("cached"), "", false, 1)

	fetcher := &mockFetcher{}
	fetcher.On("FetchArticlePage", mock.Anything, "is_read=unread").
		Return(feedapi.Page{Articles: articles("fresh"), IsLast: true}, nil).Once()

	c := New(store, fetcher)
	rec := &recorder{}
	obs, err := c.Observe(unread, rec.notify)
	require.NoError(t, err)
	defer obs.Close()
	require.NoError(t, obs.Start(context.Background()))

	first := rec.snaps[0]
	assert.Equal(t, PhaseRefreshing, first.Phase)
	assert.Equal(t, []string{"cached"}, ids(first.Items))
	assert.Equal(t, []string{"fresh"}, ids(rec.last().Items))
}

func TestLoadMore_RacingRefreshNeverMergesOldCursor(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("FetchArticlePage", mock.Anything, "is_read=unread").
		Return(feedapi.Page{Articles: articles("a1", "a2"), NextCursor: "c2"}, nil)
	fetcher.On("FetchArticlePage", mock.Anything, "cursor=c2&is_read=unread").
		Return(feedapi.Page{Articles: articles("a3", "a4"), NextCursor: "c3"}, nil)
	fetcher.On("FetchArticlePage", mock.Anything, "cursor=c3&is_read=unread").
		Return(feedapi.Page{Articles: articles("a5"), IsLast: true}, nil).Maybe()

	store := newGatedStore()
	c := New(store, fetcher)
	rec := &recorder{}
	obs, err := c.Observe(unread, rec.notify)
	require.NoError(t, err)
	defer obs.Close()
	require.NoError(t, obs.Start(context.Background()))
	require.NoError(t, obs.LoadMore(context.Background()))

	store.armed.Store(true)
	more := make(chan error, 1)
	go func() { more <- obs.LoadMore(context.Background()) }()
	<-store.reached

	refreshed := make(chan error, 1)
	go func() { refreshed <- obs.Refresh(context.Background()) }()
	close(store.release)
	require.NoError(t, <-more)
	require.NoError(t, <-refreshed)

	snap, err := obs.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "a2"}, ids(snap.Items))
	entry, _ := store.Get(obs.Key())
	assert.Equal(t, "c2", entry.Cursor)

	require.NoError(t, obs.LoadMore(context.Background()))
	snap, _ = obs.Snapshot()
	assert.Equal(t, []string{"a1", "a2", "a3", "a4"}, ids(snap.Items))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, s := range rec.snaps {
		got := ids(s.Items)
		if len(got) > 2 && got[2] == "a5" {
			t.Fatalf("page from a stale cursor merged after refresh: %v", got)
		}
	}
}

func TestDetach_ForgetsStateOfUnobservedKeys(t *testing.T) {
	fetcher := fetcherFunc(func(context.Context, string) (feedapi.Page, error) {
		return feedapi.Page{Articles: articles("a"), IsLast: true}, nil
	})
	store := pagestore.New(pagestore.WithTTL(time.Minute))
	c := New(store, fetcher)

	for i := range 100 {
		obs, err := c.Observe(query.FilterSpec{Search: fmt.Sprintf("term %d", i)}, nil)
		require.NoError(t, err)
		require.NoError(t, obs.Start(context.Background()))
		obs.Close()
	}
	store.Sweep(time.Now().Add(time.Hour))

	assert.Zero(t, store.Len())
	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.states)
}

func TestDetach_KeepsStateUntilInFlightFetchEnds(t *testing.T) {
	fetcher := newGatedFetcher(feedapi.Page{Articles: articles("a"), IsLast: true})
	c := New(pagestore.New(), fetcher)
	obs, err := c.Observe(unread, nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- obs.Start(context.Background()) }()
	<-fetcher.started
	obs.Close()
	assert.Equal(t, PhaseLoadingInitial, c.Phase(obs.Key()))

	close(fetcher.release)
	require.NoError(t, <-done)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.states)
}

func TestRefresh_QueuedBehindCanceledFetchLeavesKeyStale(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	fetcher := fetcherFunc(func(context.Context, string) (feedapi.Page, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			cancel()
		}
		return feedapi.Page{Articles: articles("a"), IsLast: true}, nil
	})

	store := pagestore.New()
	c := New(store, fetcher)
	obs, err := c.Observe(unread, nil)
	require.NoError(t, err)
	defer obs.Close()

	done := make(chan error, 1)
	go func() { done <- obs.Start(ctx) }()
	<-started
	require.NoError(t, obs.Refresh(context.Background()))
	close(release)
	require.NoError(t, <-done)

	entry, _ := store.Get(obs.Key())
	assert.True(t, entry.Stale, "skipped refresh must leave the key stale")
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, obs.Start(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
	entry, _ = store.Get(obs.Key())
	assert.False(t, entry.Stale)
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/glabrego/reeder-query/internal/feedapi"
	"github.com/glabrego/reeder-query/internal/foldertree"
	"github.com/glabrego/reeder-query/internal/invalidate"
	"github.com/glabrego/reeder-query/internal/pagestore"
	"github.com/glabrego/reeder-query/internal/pager"
	"github.com/glabrego/reeder-query/internal/query"
	"github.com/glabrego/reeder-query/internal/storage"
)

// ErrArticleNotCached is returned when a toggle needs the current state of an
// article no listing holds.
var ErrArticleNotCached = errors.New("article not cached")

type Client interface {
	FetchArticlePage(ctx context.Context, params string) (feedapi.Page, error)
	MarkRead(ctx context.Context, ids []string) error
	MarkUnread(ctx context.Context, ids []string) error
	MoveToFolder(ctx context.Context, articleID, folderID string) (feedapi.Article, error)
	FolderTree(ctx context.Context) (feedapi.Tree, error)
}

type Repository interface {
	SaveListings(ctx context.Context, listings []storage.Listing) error
	LoadListings(ctx context.Context, maxAge time.Duration) ([]storage.Listing, error)
	ListArticles(ctx context.Context, limit int) ([]feedapi.Article, error)
}

type settings struct {
	logger     *slog.Logger
	pageSize   int
	ttl        time.Duration
	maxEntries int
	warmMaxAge time.Duration
}

// Option mutates service configuration.
type Option func(*settings)

func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPageSize sets the limit applied to filters that carry none.
func WithPageSize(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithCache bounds the page store.
func WithCache(ttl time.Duration, maxEntries int) Option {
	return func(s *settings) {
		if ttl > 0 {
			s.ttl = ttl
		}
		if maxEntries > 0 {
			s.maxEntries = maxEntries
		}
	}
}

// WithWarmMaxAge ignores persisted listings older than age on Warm.
func WithWarmMaxAge(age time.Duration) Option {
	return func(s *settings) {
		s.warmMaxAge = age
	}
}

type Service struct {
	client Client
	repo   Repository
	logger *slog.Logger

	pageSize   int
	warmMaxAge time.Duration

	store *pagestore.Store
	bus   *invalidate.Bus
	pager *pager.Controller
	tree  *foldertree.Cache
}

func NewService(client Client, repo Repository, options ...Option) *Service {
	cfg := settings{
		logger:     slog.Default(),
		ttl:        10 * time.Minute,
		maxEntries: 256,
		warmMaxAge: 24 * time.Hour,
	}
	for _, option := range options {
		option(&cfg)
	}

	store := pagestore.New(
		pagestore.WithTTL(cfg.ttl),
		pagestore.WithMaxEntries(cfg.maxEntries),
		pagestore.WithLogger(cfg.logger),
	)
	tree := foldertree.New(client, foldertree.WithLogger(cfg.logger))
	bus := invalidate.New(store, invalidate.WithTree(tree), invalidate.WithLogger(cfg.logger))
	controller := pager.New(store, client, pager.WithLogger(cfg.logger))
	controller.Subscribe(bus)

	return &Service{
		client:     client,
		repo:       repo,
		logger:     cfg.logger,
		pageSize:   cfg.pageSize,
		warmMaxAge: cfg.warmMaxAge,
		store:      store,
		bus:        bus,
		pager:      controller,
		tree:       tree,
	}
}

// Spec applies the default page size to spec.
func (s *Service) Spec(spec query.FilterSpec) query.FilterSpec {
	if spec.Limit == 0 && s.pageSize > 0 {
		spec.Limit = s.pageSize
	}
	return spec.Normalize()
}

// Observe attaches a view to the listing for spec.
func (s *Service) Observe(spec query.FilterSpec, notify func(pager.Snapshot)) (*pager.Observer, error) {
	return s.pager.Observe(s.Spec(spec), notify)
}

// List loads up to pages pages of spec and returns the resulting snapshot.
func (s *Service) List(ctx context.Context, spec query.FilterSpec, pages int) (pager.Snapshot, error) {
	obs, err := s.Observe(spec, nil)
	if err != nil {
		return pager.Snapshot{}, err
	}
	defer obs.Close()

	if err := obs.Start(ctx); err != nil {
		snap, _ := obs.Snapshot()
		return snap, err
	}
	for loaded := 1; loaded < pages; loaded++ {
		snap, err := obs.Snapshot()
		if err != nil || !snap.HasMore {
			break
		}
		if err := obs.LoadMore(ctx); err != nil {
			break
		}
	}
	return obs.Snapshot()
}

// Refresh invalidates every observed listing and the folder tree; observed
// listings refetch their first page.
func (s *Service) Refresh(ctx context.Context) error {
	result, err := s.bus.PublishRefresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh listings: %w", err)
	}
	s.logger.InfoContext(ctx, "listings refreshed", "keys", len(result.Keys))
	return nil
}

// SetRead marks an article read or unread on the server, then invalidates
// the listings the change affects.
func (s *Service) SetRead(ctx context.Context, articleID string, read bool) (invalidate.Result, error) {
	ids := []string{articleID}
	var err error
	if read {
		err = s.client.MarkRead(ctx, ids)
	} else {
		err = s.client.MarkUnread(ctx, ids)
	}
	if err != nil {
		return invalidate.Result{}, fmt.Errorf("set read state of %s: %w", articleID, err)
	}

	event := invalidate.MutationEvent{
		ArticleID:     articleID,
		ChangedFields: []invalidate.Field{invalidate.FieldIsRead},
	}
	if cached, ok := s.store.Article(articleID); ok {
		cached.IsRead = read
		event.Current = &cached
	}
	return s.publish(ctx, event)
}

// ToggleRead flips the cached read state of an article.
func (s *Service) ToggleRead(ctx context.Context, articleID string) (invalidate.Result, error) {
	cached, ok := s.store.Article(articleID)
	if !ok {
		return invalidate.Result{}, fmt.Errorf("toggle read state of %s: %w", articleID, ErrArticleNotCached)
	}
	return s.SetRead(ctx, articleID, !cached.IsRead)
}

// MoveToFolder moves an article and invalidates its old and new folders.
func (s *Service) MoveToFolder(ctx context.Context, articleID, folderID string) (invalidate.Result, error) {
	updated, err := s.client.MoveToFolder(ctx, articleID, folderID)
	if err != nil {
		return invalidate.Result{}, fmt.Errorf("move %s to folder %s: %w", articleID, folderID, err)
	}
	if updated.ID == "" {
		updated.ID = articleID
	}
	return s.publish(ctx, invalidate.MutationEvent{
		ArticleID:     articleID,
		ChangedFields: []invalidate.Field{invalidate.FieldFolderID},
		Current:       &updated,
	})
}

func (s *Service) publish(ctx context.Context, event invalidate.MutationEvent) (invalidate.Result, error) {
	result, err := s.bus.PublishMutation(ctx, event)
	if err != nil {
		return result, fmt.Errorf("publish mutation of %s: %w", event.ArticleID, err)
	}
	return result, nil
}

// FolderTree returns the cached folder and tag summary.
func (s *Service) FolderTree(ctx context.Context) (feedapi.Tree, error) {
	return s.tree.Get(ctx)
}

// FolderRows lays the folder tree out as sidebar rows.
func (s *Service) FolderRows(ctx context.Context, opts foldertree.BuildOptions) ([]foldertree.Row, error) {
	tree, err := s.tree.Get(ctx)
	return foldertree.BuildRows(tree, opts), err
}

// Warm seeds the page store from the last persisted snapshot. Restored
// listings are stale, so they show immediately and refetch on first use.
func (s *Service) Warm(ctx context.Context) (int, error) {
	listings, err := s.repo.LoadListings(ctx, s.warmMaxAge)
	if err != nil {
		return 0, fmt.Errorf("load listings from cache: %w", err)
	}
	restored := 0
	for _, l := range listings {
		if s.store.Restore(l.Key, l.Spec, l.Items, l.Cursor, l.HasMore, l.Total) {
			restored++
		}
	}
	s.logger.InfoContext(ctx, "page store warmed", "listings", restored)
	return restored, nil
}

// Persist writes every fetched listing to the repository.
func (s *Service) Persist(ctx context.Context) error {
	entries := s.store.Entries()
	listings := make([]storage.Listing, 0, len(entries))
	for _, e := range entries {
		listings = append(listings, storage.Listing{
			Key:     e.Key,
			Spec:    e.Spec,
			Items:   e.Items,
			Cursor:  e.Cursor,
			HasMore: e.HasMore,
			Total:   e.Total,
		})
	}
	if err := s.repo.SaveListings(ctx, listings); err != nil {
		return fmt.Errorf("save listings to cache: %w", err)
	}
	s.logger.InfoContext(ctx, "page store persisted", "listings", len(listings))
	return nil
}

// ListCached returns stored articles without touching the network.
func (s *Service) ListCached(ctx context.Context, limit int) ([]feedapi.Article, error) {
	articles, err := s.repo.ListArticles(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("load articles from cache: %w", err)
	}
	return articles, nil
}

// RunJanitor evicts idle listings every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	s.store.Run(ctx, interval)
}

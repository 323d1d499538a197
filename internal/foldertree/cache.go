// Package foldertree caches the folder and tag summary shown next to article
// listings and lays it out as sidebar rows.
package foldertree

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/glabrego/reeder-query/internal/feedapi"
)

// Loader fetches the summary from the server.
type Loader interface {
	FolderTree(ctx context.Context) (feedapi.Tree, error)
}

// Option mutates cache configuration.
type Option func(*Cache)

// WithLogger injects a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Cache holds the last fetched tree. Invalidation marks it stale and the next
// Get refetches; read-state changes adjust unread counts in the meantime.
type Cache struct {
	loader Loader
	logger *slog.Logger

	mu     sync.Mutex
	tree   feedapi.Tree
	loaded bool
	stale  bool
}

// New creates an empty cache over loader.
func New(loader Loader, options ...Option) *Cache {
	c := &Cache{
		loader: loader,
		logger: slog.Default(),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// Get returns the cached tree, loading it when missing or stale. When a
// refetch fails the stale copy is returned together with the error.
func (c *Cache) Get(ctx context.Context) (feedapi.Tree, error) {
	c.mu.Lock()
	if c.loaded && !c.stale {
		tree := cloneTree(c.tree)
		c.mu.Unlock()
		return tree, nil
	}
	c.mu.Unlock()

	tree, err := c.loader.FolderTree(ctx)
	if err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		return cloneTree(c.tree), fmt.Errorf("load folder tree: %w", err)
	}

	c.mu.Lock()
	c.tree = cloneTree(tree)
	c.loaded = true
	c.stale = false
	c.mu.Unlock()
	c.logger.DebugContext(ctx, "folder tree loaded", "folders", len(tree.Folders), "tags", len(tree.Tags))
	return tree, nil
}

// Peek returns the cached tree without loading.
func (c *Cache) Peek() (feedapi.Tree, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneTree(c.tree), c.loaded
}

// Stale reports whether the next Get refetches.
func (c *Cache) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.loaded || c.stale
}

// MarkStale forces the next Get to refetch.
func (c *Cache) MarkStale() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale = true
}

// AdjustUnread applies an optimistic unread delta to the article's folder and
// tags. Counts never go below zero.
func (c *Cache) AdjustUnread(folderID string, tagIDs []string, delta int) {
	if delta == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.tree.Folders {
		if folderID != "" && c.tree.Folders[i].ID == folderID {
			c.tree.Folders[i].UnreadCount = max(0, c.tree.Folders[i].UnreadCount+delta)
		}
	}
	for i := range c.tree.Tags {
		if slices.Contains(tagIDs, c.tree.Tags[i].ID) {
			c.tree.Tags[i].UnreadCount = max(0, c.tree.Tags[i].UnreadCount+delta)
		}
	}
}

func cloneTree(t feedapi.Tree) feedapi.Tree {
	return feedapi.Tree{
		Folders: slices.Clone(t.Folders),
		Tags:    slices.Clone(t.Tags),
	}
}

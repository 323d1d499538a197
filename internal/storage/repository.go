package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/glabrego/reeder-query/internal/excerpt"
	"github.com/glabrego/reeder-query/internal/feedapi"
	"github.com/glabrego/reeder-query/internal/query"
)

// Listing is one persisted page store entry.
type Listing struct {
	Key     query.Key
	Spec    query.FilterSpec
	Items   []feedapi.Article
	Cursor  string
	HasMore bool
	Total   int
	SavedAt time.Time
}

type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	return &Repository{db: db, now: time.Now}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repository) Init(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS articles (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL,
  url TEXT NOT NULL,
  author TEXT,
  summary TEXT,
  feed_id TEXT,
  feed_title TEXT,
  folder_id TEXT,
  tag_ids TEXT NOT NULL DEFAULT '[]',
  is_read INTEGER NOT NULL DEFAULT 0,
  is_starred INTEGER NOT NULL DEFAULT 0,
  published_at TEXT NOT NULL,
  fetched_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS listings (
  key TEXT PRIMARY KEY,
  params TEXT NOT NULL,
  cursor TEXT NOT NULL DEFAULT '',
  has_more INTEGER NOT NULL,
  total INTEGER NOT NULL,
  saved_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS listing_items (
  key TEXT NOT NULL,
  position INTEGER NOT NULL,
  article_id TEXT NOT NULL,
  PRIMARY KEY (key, position)
);
`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// SaveListings replaces the stored copy of every listing and upserts its
// articles in one transaction.
func (r *Repository) SaveListings(ctx context.Context, listings []Listing) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	articleStmt, err := tx.PrepareContext(ctx, `
INSERT INTO articles (id, title, url, author, summary, feed_id, feed_title, folder_id, tag_ids, is_read, is_starred, published_at, fetched_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  title=excluded.title,
  url=excluded.url,
  author=excluded.author,
  summary=excluded.summary,
  feed_id=excluded.feed_id,
  feed_title=excluded.feed_title,
  folder_id=excluded.folder_id,
  tag_ids=excluded.tag_ids,
  is_read=excluded.is_read,
  is_starred=excluded.is_starred,
  published_at=excluded.published_at,
  fetched_at=excluded.fetched_at
`)
	if err != nil {
		return fmt.Errorf("prepare article statement: %w", err)
	}
	defer articleStmt.Close()

	itemStmt, err := tx.PrepareContext(ctx, `INSERT INTO listing_items (key, position, article_id) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare item statement: %w", err)
	}
	defer itemStmt.Close()

	now := r.now().UTC().Format(time.RFC3339Nano)
	for _, listing := range listings {
		if _, err := tx.ExecContext(ctx, `DELETE FROM listing_items WHERE key = ?`, string(listing.Key)); err != nil {
			return fmt.Errorf("clear listing %s: %w", listing.Key, err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO listings (key, params, cursor, has_more, total, saved_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(key) DO UPDATE SET
  params=excluded.params,
  cursor=excluded.cursor,
  has_more=excluded.has_more,
  total=excluded.total,
  saved_at=excluded.saved_at
`, string(listing.Key), query.Encode(listing.Spec, ""), listing.Cursor, listing.HasMore, listing.Total, now); err != nil {
			return fmt.Errorf("save listing %s: %w", listing.Key, err)
		}

		for position, article := range listing.Items {
			tagIDs, err := json.Marshal(nonNil(article.TagIDs))
			if err != nil {
				return fmt.Errorf("encode tags of article %s: %w", article.ID, err)
			}
			if _, err := articleStmt.ExecContext(
				ctx,
				article.ID,
				article.Title,
				article.URL,
				article.Author,
				article.Summary,
				article.FeedID,
				article.FeedTitle,
				article.FolderID,
				string(tagIDs),
				article.IsRead,
				article.IsStarred,
				article.PublishedAt.UTC().Format(time.RFC3339Nano),
				now,
			); err != nil {
				return fmt.Errorf("save article %s: %w", article.ID, err)
			}
			if _, err := itemStmt.ExecContext(ctx, string(listing.Key), position, article.ID); err != nil {
				return fmt.Errorf("save listing item %s/%d: %w", listing.Key, position, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// LoadListings returns listings saved within maxAge, newest first. A zero
// maxAge loads everything.
func (r *Repository) LoadListings(ctx context.Context, maxAge time.Duration) ([]Listing, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT key, params, cursor, has_more, total, saved_at
FROM listings
ORDER BY saved_at DESC, key ASC
`)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}

	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = r.now().Add(-maxAge)
	}
	listings := make([]Listing, 0, 8)
	for rows.Next() {
		var (
			listing Listing
			key     string
			params  string
			savedAt string
		)
		if err := rows.Scan(&key, &params, &listing.Cursor, &listing.HasMore, &listing.Total, &savedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		listing.SavedAt, err = time.Parse(time.RFC3339Nano, savedAt)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("parse listing saved_at %q: %w", savedAt, err)
		}
		if listing.SavedAt.Before(cutoff) {
			continue
		}
		listing.Spec, _, err = query.Decode(params)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("decode listing %s: %w", key, err)
		}
		listing.Key = query.Key(key)
		listings = append(listings, listing)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	rows.Close()

	for i := range listings {
		items, err := r.listingItems(ctx, listings[i].Key)
		if err != nil {
			return nil, err
		}
		listings[i].Items = items
	}
	return listings, nil
}

// ListArticles returns stored articles newest first, for offline listing.
func (r *Repository) ListArticles(ctx context.Context, limit int) ([]feedapi.Article, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, title, url, author, summary, feed_id, feed_title, folder_id, tag_ids, is_read, is_starred, published_at
FROM articles
ORDER BY published_at DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()
	return scanArticles(rows, limit)
}

// PruneListings deletes listings saved before cutoff and articles no longer
// referenced by any listing.
func (r *Repository) PruneListings(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stamp := cutoff.UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `DELETE FROM listing_items WHERE key IN (SELECT key FROM listings WHERE saved_at < ?)`, stamp); err != nil {
		return 0, fmt.Errorf("prune listing items: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM listings WHERE saved_at < ?`, stamp)
	if err != nil {
		return 0, fmt.Errorf("prune listings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM articles WHERE id NOT IN (SELECT article_id FROM listing_items)`); err != nil {
		return 0, fmt.Errorf("prune articles: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (r *Repository) listingItems(ctx context.Context, key query.Key) ([]feedapi.Article, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT a.id, a.title, a.url, a.author, a.summary, a.feed_id, a.feed_title, a.folder_id, a.tag_ids, a.is_read, a.is_starred, a.published_at
FROM listing_items i
JOIN articles a ON a.id = i.article_id
WHERE i.key = ?
ORDER BY i.position ASC
`, string(key))
	if err != nil {
		return nil, fmt.Errorf("query listing items %s: %w", key, err)
	}
	defer rows.Close()
	return scanArticles(rows, 0)
}

func scanArticles(rows *sql.Rows, capacity int) ([]feedapi.Article, error) {
	articles := make([]feedapi.Article, 0, capacity)
	for rows.Next() {
		var (
			article     feedapi.Article
			author      sql.NullString
			summary     sql.NullString
			feedID      sql.NullString
			feedTitle   sql.NullString
			folderID    sql.NullString
			tagIDs      string
			publishedAt string
		)
		if err := rows.Scan(
			&article.ID,
			&article.Title,
			&article.URL,
			&author,
			&summary,
			&feedID,
			&feedTitle,
			&folderID,
			&tagIDs,
			&article.IsRead,
			&article.IsStarred,
			&publishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan article: %w", err)
		}
		article.Author = author.String
		article.Summary = summary.String
		article.FeedID = feedID.String
		article.FeedTitle = feedTitle.String
		article.FolderID = folderID.String
		article.Excerpt = excerpt.FromHTML(article.Summary)
		if err := json.Unmarshal([]byte(tagIDs), &article.TagIDs); err != nil {
			return nil, fmt.Errorf("decode tags of article %s: %w", article.ID, err)
		}
		if len(article.TagIDs) == 0 {
			article.TagIDs = nil
		}

		var err error
		article.PublishedAt, err = time.Parse(time.RFC3339Nano, publishedAt)
		if err != nil {
			return nil, fmt.Errorf("parse article published_at %q: %w", publishedAt, err)
		}
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return articles, nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// Package feedapi talks to the feed reader's HTTP API: paged article
// listings, read/unread and folder mutations, and the folder tree summary.
package feedapi

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/glabrego/reeder-query/internal/excerpt"
)

// UnknownTotal marks a page whose response carried no total count.
const UnknownTotal = -1

// Article is the summary of one article as shown in listings.
type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Author      string    `json:"author"`
	FeedID      string    `json:"feed_id"`
	FeedTitle   string    `json:"feed_title"`
	FolderID    string    `json:"folder_id"`
	TagIDs      []string  `json:"tag_ids"`
	Summary     string    `json:"summary"`
	IsRead      bool      `json:"is_read"`
	IsStarred   bool      `json:"is_starred"`
	PublishedAt time.Time `json:"published"`

	Excerpt string `json:"-"`
}

// Clone returns a copy that shares no slices with a.
func (a Article) Clone() Article {
	a.TagIDs = slices.Clone(a.TagIDs)
	return a
}

// Page is one batch of articles plus its continuation cursor.
type Page struct {
	Articles   []Article
	NextCursor string
	IsLast     bool
	Total      int
}

type pageResponse struct {
	Articles   []Article `json:"articles"`
	NextCursor string    `json:"next_cursor"`
	IsLast     bool      `json:"is_last"`
	Total      *int      `json:"total"`
}

func (p pageResponse) page() Page {
	out := Page{
		Articles:   p.Articles,
		NextCursor: p.NextCursor,
		IsLast:     p.IsLast || p.NextCursor == "",
		Total:      UnknownTotal,
	}
	if p.Total != nil {
		out.Total = *p.Total
	}
	for i := range out.Articles {
		out.Articles[i].Excerpt = excerpt.FromHTML(out.Articles[i].Summary)
	}
	return out
}

// Tree is the folder and tag summary shown in the sidebar.
type Tree struct {
	Folders []Folder `json:"folders"`
	Tags    []Tag    `json:"tags"`
}

type Folder struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	UnreadCount int    `json:"unread_count"`
}

type Tag struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	UnreadCount int    `json:"unread_count"`
}

// NetworkError is a transient failure talking to the API. Callers surface it
// and let the user retry.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Unauthorized reports whether the server rejected the credentials.
func (e *NetworkError) Unauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized
}

// IsNetworkError reports whether err wraps a NetworkError.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

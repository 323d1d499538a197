// Package viewstate maps a listing's loading/error/item state onto the single
// presentation state a view renders.
package viewstate

import "github.com/glabrego/reeder-query/internal/query"

// ViewState is what a listing view should render.
type ViewState string

const (
	Loading     ViewState = "loading"
	ErrorState  ViewState = "error"
	EmptyAll    ViewState = "empty_all"
	EmptyUnread ViewState = "empty_unread"
	EmptyRead   ViewState = "empty_read"
	EmptySearch ViewState = "empty_search"
	Populated   ViewState = "populated"
)

// EmptyType selects which empty state an empty listing shows.
type EmptyType int

const (
	EmptyTypeAll EmptyType = iota
	EmptyTypeUnread
	EmptyTypeRead
	EmptyTypeSearch
)

// EmptyTypeFor derives the empty state for a filter. Search wins over read
// state because the search term is what the user typed last.
func EmptyTypeFor(spec query.FilterSpec) EmptyType {
	n := spec.Normalize()
	switch {
	case n.Search != "":
		return EmptyTypeSearch
	case n.ReadState == query.UnreadOnly:
		return EmptyTypeUnread
	case n.ReadState == query.ReadOnly:
		return EmptyTypeRead
	default:
		return EmptyTypeAll
	}
}

// Select is the one decision point for what a listing renders.
func Select(isLoading bool, err error, itemCount int, emptyType EmptyType) ViewState {
	switch {
	case isLoading && itemCount == 0:
		return Loading
	case err != nil:
		return ErrorState
	case itemCount > 0:
		return Populated
	}

	switch emptyType {
	case EmptyTypeUnread:
		return EmptyUnread
	case EmptyTypeRead:
		return EmptyRead
	case EmptyTypeSearch:
		return EmptySearch
	default:
		return EmptyAll
	}
}

// Message is a short human-readable line for non-populated states.
func (v ViewState) Message() string {
	switch v {
	case Loading:
		return "Loading articles..."
	case ErrorState:
		return "Could not load articles. Press r to retry."
	case EmptyUnread:
		return "No unread articles."
	case EmptyRead:
		return "No read articles yet."
	case EmptySearch:
		return "No articles match your search."
	case EmptyAll:
		return "No articles."
	default:
		return ""
	}
}

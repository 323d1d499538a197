package actions

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/glabrego/reeder-query/internal/foldertree"
	"github.com/glabrego/reeder-query/internal/invalidate"
	"github.com/glabrego/reeder-query/internal/pager"
)

type Service interface {
	Refresh(ctx context.Context) error
	ToggleRead(ctx context.Context, articleID string) (invalidate.Result, error)
	FolderRows(ctx context.Context, opts foldertree.BuildOptions) ([]foldertree.Row, error)
}

// Listing is the observer side of one article list.
type Listing interface {
	Start(ctx context.Context) error
	LoadMore(ctx context.Context) error
	Refresh(ctx context.Context) error
}

const (
	fetchTimeout = 12 * time.Second
	writeTimeout = 10 * time.Second
)

// SnapshotMsg carries a listing update delivered by the pager.
type SnapshotMsg struct {
	Snapshot pager.Snapshot
}

type ListingErrorMsg struct {
	Op  string
	Err error
}

type RefreshDoneMsg struct {
	Duration time.Duration
	Err      error
}

type ToggleReadSuccessMsg struct {
	ArticleID   string
	Invalidated int
	Status      string
}

type ToggleReadErrorMsg struct {
	ArticleID string
	Err       error
}

type TreeLoadedMsg struct {
	Rows []foldertree.Row
	Err  error
}

// WaitForSnapshot blocks until the pager pushes the next snapshot onto ch.
func WaitForSnapshot(ch <-chan pager.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-ch
		if !ok {
			return nil
		}
		return SnapshotMsg{Snapshot: snap}
	}
}

func StartCmd(listing Listing) tea.Cmd {
	return listingCmd("load", listing.Start)
}

func LoadMoreCmd(listing Listing) tea.Cmd {
	return listingCmd("load more", listing.LoadMore)
}

func RefreshListingCmd(listing Listing) tea.Cmd {
	return listingCmd("refresh", listing.Refresh)
}

// listingCmd reports only failures; successful results arrive as snapshots.
func listingCmd(op string, run func(context.Context) error) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		if err := run(ctx); err != nil {
			return ListingErrorMsg{Op: op, Err: err}
		}
		return nil
	}
}

func RefreshCmd(service Service) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		start := time.Now()

		err := service.Refresh(ctx)
		return RefreshDoneMsg{Duration: time.Since(start), Err: err}
	}
}

func ToggleReadCmd(service Service, articleID string, wasRead bool) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()

		result, err := service.ToggleRead(ctx, articleID)
		if err != nil {
			return ToggleReadErrorMsg{ArticleID: articleID, Err: err}
		}

		status := "Marked as read"
		if wasRead {
			status = "Marked as unread"
		}
		return ToggleReadSuccessMsg{ArticleID: articleID, Invalidated: len(result.Keys), Status: status}
	}
}

func LoadTreeCmd(service Service, opts foldertree.BuildOptions) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		rows, err := service.FolderRows(ctx, opts)
		return TreeLoadedMsg{Rows: rows, Err: err}
	}
}

package state

import (
	"github.com/glabrego/reeder-query/internal/feedapi"
)

// loadMoreThreshold is how close to the end of the list the cursor gets
// before the next page is requested.
const loadMoreThreshold = 5

func ClampCursor(cursor, size int) int {
	if size <= 0 {
		return 0
	}
	if cursor >= size {
		return size - 1
	}
	if cursor < 0 {
		return 0
	}
	return cursor
}

func PageStep(height int, hasStatus bool) int {
	if height <= 0 {
		return 10
	}
	headerLines := 6
	if hasStatus {
		headerLines += 2
	}
	step := height - headerLines
	if step < 3 {
		step = 3
	}
	return step
}

func CenteredWindow(totalRows, cursor, height int) (int, int) {
	if totalRows <= 0 {
		return 0, 0
	}
	if height <= 0 || totalRows <= height {
		return 0, totalRows
	}
	cursor = ClampCursor(cursor, totalRows)
	start := cursor - height/2
	if start < 0 {
		start = 0
	}
	maxStart := totalRows - height
	if start > maxStart {
		start = maxStart
	}
	return start, start + height
}

func ArticleIndexByID(articles []feedapi.Article, id string) int {
	for i, a := range articles {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// RestoreCursor keeps the selection on the same article across list
// replacements, falling back to the previous position.
func RestoreCursor(articles []feedapi.Article, anchorID string, previous int) int {
	if anchorID != "" {
		if idx := ArticleIndexByID(articles, anchorID); idx >= 0 {
			return idx
		}
	}
	return ClampCursor(previous, len(articles))
}

// NearEnd reports whether cursor is close enough to the end of a list of
// size items to prefetch the next page.
func NearEnd(cursor, size int) bool {
	if size == 0 {
		return false
	}
	return size-1-cursor < loadMoreThreshold
}

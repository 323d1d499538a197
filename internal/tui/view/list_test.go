package view

import (
	"strings"
	"testing"
	"time"

	"github.com/glabrego/reeder-query/internal/feedapi"
	"github.com/glabrego/reeder-query/internal/foldertree"
	tuitheme "github.com/glabrego/reeder-query/internal/tui/theme"
)

func TestRenderArticleLine_AbsoluteDateWhenRelativeDisabled(t *testing.T) {
	now := time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC)
	th := tuitheme.Default()

	line := RenderArticleLine(ArticleLineParams{
		Article: feedapi.Article{
			ID:          "A1",
			Title:       "Absolute date rendering",
			PublishedAt: now.Add(-2 * time.Hour),
		},
		Now:   now,
		Width: 60,
	}, th)
	plain := stripANSI(line)
	if !strings.HasSuffix(plain, "[2026-02-09]") {
		t.Fatalf("expected absolute date suffix at right edge, got %q", plain)
	}
	if !strings.HasPrefix(plain, "  • ") {
		t.Fatalf("expected unread marker, got %q", plain)
	}
}

func TestRenderArticleLine_RelativeNumberedActive(t *testing.T) {
	now := time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC)
	th := tuitheme.Default()

	line := RenderArticleLine(ArticleLineParams{
		Article: feedapi.Article{
			ID:          "A2",
			Title:       "A title long enough to be truncated by the narrow width",
			PublishedAt: now.Add(-3 * time.Hour),
			IsRead:      true,
		},
		Now:          now,
		RelativeTime: true,
		ShowNumbers:  true,
		VisiblePos:   4,
		Active:       true,
		Width:        40,
	}, th)
	plain := stripANSI(line)
	if !strings.HasPrefix(plain, " >  5. ") {
		t.Fatalf("expected active numbered prefix, got %q", plain)
	}
	if !strings.HasSuffix(plain, "[3 hours ago]") {
		t.Fatalf("expected relative date, got %q", plain)
	}
	if !strings.Contains(plain, "...") {
		t.Fatalf("expected truncated title, got %q", plain)
	}
}

func TestRenderExcerptLine(t *testing.T) {
	th := tuitheme.Default()
	if got := RenderExcerptLine(feedapi.Article{}, 40, th); got != "" {
		t.Fatalf("expected empty excerpt line, got %q", got)
	}
	got := stripANSI(RenderExcerptLine(feedapi.Article{Excerpt: "First paragraph"}, 40, th))
	if got != "     First paragraph" {
		t.Fatalf("unexpected excerpt line: %q", got)
	}
}

func TestCompactArticleLabel(t *testing.T) {
	if got := CompactArticleLabel(feedapi.Article{Title: "Article", FeedTitle: "Feed A"}); got != "Feed A | Article" {
		t.Fatalf("unexpected compact label: %q", got)
	}
	if got := CompactArticleLabel(feedapi.Article{}); got != "unknown feed | (untitled)" {
		t.Fatalf("unexpected compact label for empty article: %q", got)
	}
}

func TestRelativeTimeLabel(t *testing.T) {
	now := time.Date(2026, 2, 9, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		then time.Time
		want string
	}{
		{then: time.Time{}, want: "unknown"},
		{then: now.Add(time.Hour), want: "just now"},
		{then: now.Add(-30 * time.Second), want: "just now"},
		{then: now.Add(-1 * time.Minute), want: "1 minute ago"},
		{then: now.Add(-3 * time.Minute), want: "3 minutes ago"},
		{then: now.Add(-1 * time.Hour), want: "1 hour ago"},
		{then: now.Add(-7 * time.Hour), want: "7 hours ago"},
		{then: now.Add(-1 * 24 * time.Hour), want: "1 day ago"},
		{then: now.Add(-7 * 24 * time.Hour), want: "7 days ago"},
	}
	for _, tc := range cases {
		if got := RelativeTimeLabel(now, tc.then); got != tc.want {
			t.Fatalf("RelativeTimeLabel(%s) = %q, want %q", tc.then.UTC().Format(time.RFC3339), got, tc.want)
		}
	}
}

func TestRenderTreeNodeLine_UnreadRightAligned(t *testing.T) {
	th := tuitheme.Default()
	plain := stripANSI(RenderTreeNodeLine("  Tech", 12, 20, false, th))
	if len([]rune(plain)) != 20 || !strings.HasSuffix(plain, "12") {
		t.Fatalf("unexpected tree line: %q", plain)
	}
	plain = stripANSI(RenderTreeNodeLine("  Tech", 0, 20, false, th))
	if plain != "  Tech" {
		t.Fatalf("expected bare label without count, got %q", plain)
	}
}

func TestRenderSidebar(t *testing.T) {
	th := tuitheme.Default()
	rows := foldertree.BuildRows(feedapi.Tree{
		Folders: []feedapi.Folder{{ID: "f1", Title: "Tech", UnreadCount: 3}},
		Tags:    []feedapi.Tag{{ID: "t1", Name: "go", UnreadCount: 1}},
	}, foldertree.BuildOptions{})

	out := stripANSI(RenderSidebar(SidebarRenderInput{
		Rows:     rows,
		Cursor:   1,
		Selected: "f1",
		RenderSectionLine: func(label string, unread int, active bool) string {
			return RenderSectionLine(label, unread, 30, active, th)
		},
		RenderTreeNodeLine: func(left string, unread int, active bool) string {
			return RenderTreeNodeLine(left, unread, 30, active, th)
		},
	}))
	for _, want := range []string{"Folders", "▸ Tech", "Tags", "#go"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in sidebar, got %q", want, out)
		}
	}
}

func TestRenderListBody(t *testing.T) {
	out := RenderListBody(ListRenderInput{
		Count:       3,
		Start:       1,
		End:         5,
		Cursor:      2,
		ShowExcerpt: true,
		RenderArticleLine: func(i int, active bool) string {
			if active {
				return "*" + string(rune('a'+i))
			}
			return string(rune('a' + i))
		},
		RenderExcerptLine: func(i int) string {
			if i == 1 {
				return "  excerpt"
			}
			return ""
		},
	})
	if out != "b\n  excerpt\n*c\n" {
		t.Fatalf("unexpected list body: %q", out)
	}
	if got := RenderListBody(ListRenderInput{}); got != "" {
		t.Fatalf("expected empty body, got %q", got)
	}
}

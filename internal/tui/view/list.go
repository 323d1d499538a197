package view

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"

	"github.com/glabrego/reeder-query/internal/feedapi"
	tuitheme "github.com/glabrego/reeder-query/internal/tui/theme"
)

type ArticleLineParams struct {
	Article      feedapi.Article
	Now          time.Time
	RelativeTime bool
	Compact      bool
	ShowNumbers  bool
	VisiblePos   int
	Active       bool
	Width        int
}

func RenderArticleLine(p ArticleLineParams, th tuitheme.Theme) string {
	date := p.Article.PublishedAt.UTC().Format(time.DateOnly)
	if p.RelativeTime {
		date = RelativeTimeLabel(p.Now, p.Article.PublishedAt)
	}

	cursorMarker := " "
	if p.Active {
		cursorMarker = ">"
	}
	readMarker := "•"
	if p.Article.IsRead {
		readMarker = " "
	}

	prefix := fmt.Sprintf(" %s%s ", cursorMarker, readMarker)
	if p.ShowNumbers {
		prefix = fmt.Sprintf(" %s%s%2d. ", cursorMarker, readMarker, p.VisiblePos+1)
	}
	dateLabel := "[" + date + "]"
	available := p.Width - visibleLen(prefix) - 1 - visibleLen(dateLabel)
	if available < 1 {
		available = 1
	}

	label := strings.TrimSpace(p.Article.Title)
	if p.Compact {
		label = CompactArticleLabel(p.Article)
	}
	label = truncateRunes(label, available)
	styledTitle := th.StyleArticleTitle(p.Article, label)
	gap := p.Width - visibleLen(prefix) - visibleLen(label) - visibleLen(dateLabel)
	if gap < 1 {
		gap = 1
	}
	return th.RenderActiveLine(p.Active, prefix+styledTitle+strings.Repeat(" ", gap)+dateLabel)
}

// RenderExcerptLine indents an article's excerpt under its title line.
func RenderExcerptLine(article feedapi.Article, width int, th tuitheme.Theme) string {
	const indent = "     "
	text := strings.TrimSpace(article.Excerpt)
	if text == "" {
		return ""
	}
	return indent + th.Excerpt.Render(truncateRunes(text, width-len(indent)))
}

func RenderTreeNodeLine(left string, unreadCount, width int, active bool, th tuitheme.Theme) string {
	if unreadCount <= 0 {
		return th.RenderActiveLine(active, truncateRunes(left, width))
	}
	right := th.UnreadCount.Render(fmt.Sprintf("%d", unreadCount))
	available := width - visibleLen(right) - 1
	if available < 1 {
		available = 1
	}
	left = truncateRunes(left, available)
	gap := width - visibleLen(left) - visibleLen(right)
	if gap < 1 {
		gap = 1
	}
	return th.RenderActiveLine(active, left+strings.Repeat(" ", gap)+right)
}

func RenderSectionLine(label string, unreadCount, width int, active bool, th tuitheme.Theme) string {
	icon := "■"
	if label == "Folders" {
		icon = "▦"
	}
	left := fmt.Sprintf("%s %s", icon, label)
	return RenderTreeNodeLine(th.Section.Render(left), unreadCount, width, active, th)
}

func CompactArticleLabel(article feedapi.Article) string {
	title := strings.TrimSpace(article.Title)
	if title == "" {
		title = "(untitled)"
	}
	feed := strings.TrimSpace(article.FeedTitle)
	if feed == "" {
		feed = "unknown feed"
	}
	return feed + " | " + title
}

func RelativeTimeLabel(now, then time.Time) string {
	if now.IsZero() {
		now = time.Now()
	}
	if then.IsZero() {
		return "unknown"
	}
	if then.After(now) {
		return "just now"
	}
	d := now.Sub(then)
	if d < time.Minute {
		return "just now"
	}
	if d < time.Hour {
		n := int(d / time.Minute)
		if n == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", n)
	}
	if d < 24*time.Hour {
		n := int(d / time.Hour)
		if n == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", n)
	}
	n := int(d / (24 * time.Hour))
	if n == 1 {
		return "1 day ago"
	}
	return fmt.Sprintf("%d days ago", n)
}

func truncateRunes(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return strings.Repeat(".", maxLen)
	}
	runes := []rune(s)
	return string(runes[:maxLen-3]) + "..."
}

func visibleLen(s string) int {
	return ansi.StringWidth(s)
}

package view

import (
	"strings"

	"github.com/glabrego/reeder-query/internal/foldertree"
)

type SidebarRenderInput struct {
	Rows              []foldertree.Row
	Cursor            int
	Selected          string
	CollapsedSections map[string]bool

	RenderSectionLine  func(label string, unreadCount int, active bool) string
	RenderTreeNodeLine func(left string, unreadCount int, active bool) string
}

// RenderSidebar draws folder and tag rows. Selected is the id of the row the
// current listing is scoped to.
func RenderSidebar(in SidebarRenderInput) string {
	if len(in.Rows) == 0 {
		return ""
	}
	var b strings.Builder
	for i, row := range in.Rows {
		active := i == in.Cursor
		switch row.Kind {
		case foldertree.RowSection:
			b.WriteString(in.RenderSectionLine(row.Label, row.Unread, active))
		default:
			prefix := "  "
			if row.ID != "" && row.ID == in.Selected {
				prefix = "▸ "
			}
			if row.Kind == foldertree.RowTag {
				prefix += "#"
			}
			b.WriteString(in.RenderTreeNodeLine(prefix+row.Label, row.Unread, active))
		}
		b.WriteString("\n")
	}
	return b.String()
}

type ListRenderInput struct {
	Count       int
	Start       int
	End         int
	Cursor      int
	ShowExcerpt bool

	RenderArticleLine func(index int, active bool) string
	RenderExcerptLine func(index int) string
}

func RenderListBody(in ListRenderInput) string {
	if in.Count == 0 || in.Start >= in.End || in.Start < 0 {
		return ""
	}
	end := min(in.End, in.Count)
	var b strings.Builder
	for i := in.Start; i < end; i++ {
		b.WriteString(in.RenderArticleLine(i, i == in.Cursor))
		b.WriteString("\n")
		if in.ShowExcerpt && in.RenderExcerptLine != nil {
			if line := in.RenderExcerptLine(i); line != "" {
				b.WriteString(line)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

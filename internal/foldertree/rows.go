package foldertree

import (
	"sort"
	"strings"

	"github.com/glabrego/reeder-query/internal/feedapi"
	"github.com/glabrego/reeder-query/internal/query"
)

type RowKind string

const (
	RowSection RowKind = "section"
	RowFolder  RowKind = "folder"
	RowTag     RowKind = "tag"
)

const (
	SectionFolders = "Folders"
	SectionTags    = "Tags"
)

type Row struct {
	Kind   RowKind
	Label  string
	ID     string
	Unread int
}

// Spec is the listing filter selecting this row, combined with base's read
// state and search. Section rows return base unchanged.
func (r Row) Spec(base query.FilterSpec) query.FilterSpec {
	spec := query.FilterSpec{ReadState: base.ReadState, Search: base.Search, Limit: base.Limit}
	switch r.Kind {
	case RowFolder:
		spec.FolderIDs = []string{r.ID}
	case RowTag:
		spec.TagIDs = []string{r.ID}
	default:
		return base
	}
	return spec
}

type BuildOptions struct {
	CollapsedSections map[string]bool
	HideEmpty         bool
}

func BuildRows(tree feedapi.Tree, opts BuildOptions) []Row {
	folders := make([]Row, 0, len(tree.Folders))
	for _, f := range tree.Folders {
		if opts.HideEmpty && f.UnreadCount == 0 {
			continue
		}
		folders = append(folders, Row{Kind: RowFolder, Label: label(f.Title, f.ID), ID: f.ID, Unread: f.UnreadCount})
	}
	tags := make([]Row, 0, len(tree.Tags))
	for _, tg := range tree.Tags {
		if opts.HideEmpty && tg.UnreadCount == 0 {
			continue
		}
		tags = append(tags, Row{Kind: RowTag, Label: label(tg.Name, tg.ID), ID: tg.ID, Unread: tg.UnreadCount})
	}
	sortRows(folders)
	sortRows(tags)

	rows := make([]Row, 0, len(folders)+len(tags)+2)
	rows = appendSection(rows, SectionFolders, folders, opts)
	rows = appendSection(rows, SectionTags, tags, opts)
	return rows
}

func appendSection(rows []Row, name string, children []Row, opts BuildOptions) []Row {
	if len(children) == 0 {
		return rows
	}
	unread := 0
	for _, child := range children {
		unread += child.Unread
	}
	rows = append(rows, Row{Kind: RowSection, Label: name, Unread: unread})
	if opts.CollapsedSections[name] {
		return rows
	}
	return append(rows, children...)
}

func FirstSelectableRow(rows []Row) int {
	for i, row := range rows {
		if row.Kind != RowSection {
			return i
		}
	}
	return 0
}

func label(title, id string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return id
}

func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		li := strings.ToLower(rows[i].Label)
		lj := strings.ToLower(rows[j].Label)
		if li != lj {
			return li < lj
		}
		return rows[i].ID < rows[j].ID
	})
}

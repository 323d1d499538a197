package invalidate

import (
	"slices"

	"github.com/glabrego/reeder-query/internal/feedapi"
	"github.com/glabrego/reeder-query/internal/pagestore"
	"github.com/glabrego/reeder-query/internal/query"
)

// Field names an article attribute a mutation changed.
type Field string

const (
	FieldIsRead    Field = "is_read"
	FieldIsStarred Field = "is_starred"
	FieldFolderID  Field = "folder_id"
	FieldTagIDs    Field = "tag_ids"
	FieldContent   Field = "content"
)

// MutationEvent describes a completed write to one article. Current is the
// article after the write when the writer knows it.
type MutationEvent struct {
	ArticleID     string
	ChangedFields []Field
	Current       *feedapi.Article
}

// Changed reports whether f is among the changed fields.
func (m MutationEvent) Changed(f Field) bool {
	return slices.Contains(m.ChangedFields, f)
}

func (m MutationEvent) changedOther() bool {
	for _, f := range m.ChangedFields {
		if f != FieldIsRead && f != FieldFolderID && f != FieldTagIDs {
			return true
		}
	}
	return false
}

// Decision is what a mutation does to the cache.
type Decision struct {
	Invalidate []query.Key
	Adjust     map[query.Key]int
	Patch      bool
	TreeStale  bool
	TreeDelta  int
	Conflict   bool
}

// Select decides which keys a mutation invalidates. previous is the cached
// copy of the article before the write, nil when no entry holds it.
//
// Keys whose membership may change are invalidated. Read-state keys whose
// membership is unaffected only get an optimistic total adjustment, and
// every holder gets the new content patched in place. Counts are adjusted
// only when previous shows the read state flipped.
func Select(m MutationEvent, previous *feedapi.Article, candidates []pagestore.Candidate) Decision {
	d := Decision{Adjust: make(map[query.Key]int)}
	readChanged := m.Changed(FieldIsRead)
	folderChanged := m.Changed(FieldFolderID)
	tagsChanged := m.Changed(FieldTagIDs)
	current := m.Current
	flipped := readChanged && current != nil && previous != nil && previous.IsRead != current.IsRead

	holders := 0
	for _, c := range candidates {
		if c.Holds {
			holders++
		}
		spec := c.Spec
		invalidate := false

		if readChanged {
			switch {
			case spec.ReadState == query.ReadAny:
			case current == nil:
				invalidate = c.Holds
			case c.Holds && !spec.ReadState.Matches(current.IsRead):
				invalidate = true
			case !c.Holds && !spec.Scoped() && flipped:
				if spec.ReadState.Matches(current.IsRead) {
					d.Adjust[c.Key]++
				} else {
					d.Adjust[c.Key]--
				}
			}
			if spec.Scoped() && (c.Holds || memberOf(spec, previous) || memberOf(spec, current)) {
				invalidate = true
			}
		}
		if folderChanged && len(spec.FolderIDs) > 0 {
			if c.Holds || inFolder(spec, previous) || inFolder(spec, current) {
				invalidate = true
			}
		}
		if tagsChanged && len(spec.TagIDs) > 0 {
			if c.Holds || hasTag(spec, previous) || hasTag(spec, current) {
				invalidate = true
			}
		}
		if m.changedOther() && spec.Search != "" && c.Holds {
			invalidate = true
		}

		if invalidate {
			d.Invalidate = append(d.Invalidate, c.Key)
			delete(d.Adjust, c.Key)
		}
	}

	for key, delta := range d.Adjust {
		if delta == 0 {
			delete(d.Adjust, key)
		}
	}
	d.Patch = current != nil && holders > 0
	d.TreeStale = readChanged || folderChanged || tagsChanged
	if flipped {
		d.TreeDelta = 1
		if current.IsRead {
			d.TreeDelta = -1
		}
	}
	d.Conflict = holders == 0 && len(d.Invalidate) == 0 && len(d.Adjust) == 0
	return d
}

func memberOf(spec query.FilterSpec, article *feedapi.Article) bool {
	return inFolder(spec, article) || hasTag(spec, article)
}

func inFolder(spec query.FilterSpec, article *feedapi.Article) bool {
	return article != nil && spec.HasFolder(article.FolderID)
}

func hasTag(spec query.FilterSpec, article *feedapi.Article) bool {
	return article != nil && spec.HasAnyTag(article.TagIDs)
}

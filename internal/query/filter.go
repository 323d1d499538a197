// Package query turns article filters into canonical cache keys
// and into the key=value parameter strings sent to the articles endpoint.
package query

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrInvalidFilterSpec reports a malformed filter. It is a programming error:
// call sites build specs from typed values and should never trigger it.
var ErrInvalidFilterSpec = errors.New("invalid filter spec")

// ReadState constrains a listing to read or unread articles.
type ReadState string

const (
	ReadAny    ReadState = ""
	ReadOnly   ReadState = "read"
	UnreadOnly ReadState = "unread"
)

func (r ReadState) valid() bool {
	return r == ReadAny || r == ReadOnly || r == UnreadOnly
}

// Matches reports whether an article with the given read flag belongs to a
// listing constrained by r.
func (r ReadState) Matches(isRead bool) bool {
	switch r {
	case ReadOnly:
		return isRead
	case UnreadOnly:
		return !isRead
	default:
		return true
	}
}

// FilterSpec is the set of constraints defining one article listing.
// Treat it as immutable: build a new spec instead of editing one in place.
type FilterSpec struct {
	ReadState ReadState
	FolderIDs []string
	TagIDs    []string
	Search    string
	Limit     int
}

// Key identifies one page store entry. It is derived from a normalized
// FilterSpec and never contains a pagination cursor.
type Key string

func (k Key) String() string { return string(k) }

const keyPrefix = "articles?"

// Validate reports ErrInvalidFilterSpec for values the server cannot accept.
func (s FilterSpec) Validate() error {
	if !s.ReadState.valid() {
		return fmt.Errorf("%w: unknown read state %q", ErrInvalidFilterSpec, s.ReadState)
	}
	if s.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidFilterSpec, s.Limit)
	}
	if err := validateIDs("folder", s.FolderIDs); err != nil {
		return err
	}
	return validateIDs("tag", s.TagIDs)
}

// Ids are opaque server values, so surrounding whitespace is rejected rather
// than trimmed away into another spec's key.
func validateIDs(kind string, ids []string) error {
	for _, id := range ids {
		switch {
		case strings.TrimSpace(id) == "":
			return fmt.Errorf("%w: empty %s id", ErrInvalidFilterSpec, kind)
		case strings.TrimSpace(id) != id:
			return fmt.Errorf("%w: %s id %q has surrounding whitespace", ErrInvalidFilterSpec, kind, id)
		}
	}
	return nil
}

// Normalize returns the canonical form of s: sets sorted and deduplicated,
// search trimmed, empty collections nil.
func (s FilterSpec) Normalize() FilterSpec {
	return FilterSpec{
		ReadState: s.ReadState,
		FolderIDs: normalizeSet(s.FolderIDs),
		TagIDs:    normalizeSet(s.TagIDs),
		Search:    strings.TrimSpace(s.Search),
		Limit:     s.Limit,
	}
}

// Key returns the cache key for s. Structurally equal specs share a key
// regardless of set ordering; any differing value yields a different key.
func (s FilterSpec) Key() (Key, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	return Key(keyPrefix + Encode(s, "")), nil
}

// MustKey is Key for specs known to be valid. It panics on a malformed spec.
func (s FilterSpec) MustKey() Key {
	key, err := s.Key()
	if err != nil {
		panic(err)
	}
	return key
}

// Equal reports structural equality, ignoring set ordering and duplicates.
func (s FilterSpec) Equal(other FilterSpec) bool {
	a, b := s.Normalize(), other.Normalize()
	return a.ReadState == b.ReadState &&
		a.Search == b.Search &&
		a.Limit == b.Limit &&
		slices.Equal(a.FolderIDs, b.FolderIDs) &&
		slices.Equal(a.TagIDs, b.TagIDs)
}

// Scoped reports whether s narrows the listing by folder, tag or search.
func (s FilterSpec) Scoped() bool {
	n := s.Normalize()
	return len(n.FolderIDs) > 0 || len(n.TagIDs) > 0 || n.Search != ""
}

// HasFolder reports whether folderID is one of the spec's folders.
func (s FilterSpec) HasFolder(folderID string) bool {
	return folderID != "" && slices.Contains(s.FolderIDs, folderID)
}

// HasAnyTag reports whether any of tagIDs is one of the spec's tags.
func (s FilterSpec) HasAnyTag(tagIDs []string) bool {
	for _, id := range tagIDs {
		if id != "" && slices.Contains(s.TagIDs, id) {
			return true
		}
	}
	return false
}

// PageKey identifies a single page request: the spec's key plus the cursor.
func PageKey(s FilterSpec, cursor string) string {
	return keyPrefix + Encode(s, cursor)
}

func normalizeSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil
	}
	slices.Sort(out)
	return slices.Compact(out)
}

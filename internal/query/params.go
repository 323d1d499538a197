package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	paramReadState = "is_read"
	paramFolderIDs = "folder_ids"
	paramTagIDs    = "tag_ids"
	paramSearch    = "search"
	paramLimit     = "limit"
	paramCursor    = "cursor"
)

// Encode serializes s and an optional cursor into a key=value parameter
// string. Set fields repeat their key once per element; empty values and
// empty collections are omitted. Keys are emitted in sorted order.
func Encode(s FilterSpec, cursor string) string {
	return Values(s, cursor).Encode()
}

// Values is Encode before string serialization.
func Values(s FilterSpec, cursor string) url.Values {
	n := s.Normalize()
	q := make(url.Values)
	if n.ReadState != ReadAny {
		q.Set(paramReadState, string(n.ReadState))
	}
	for _, id := range n.FolderIDs {
		q.Add(paramFolderIDs, id)
	}
	for _, id := range n.TagIDs {
		q.Add(paramTagIDs, id)
	}
	if n.Search != "" {
		q.Set(paramSearch, n.Search)
	}
	if n.Limit > 0 {
		q.Set(paramLimit, strconv.Itoa(n.Limit))
	}
	if cursor = strings.TrimSpace(cursor); cursor != "" {
		q.Set(paramCursor, cursor)
	}
	return q
}

// Decode parses a parameter string produced by Encode. Set ordering is not
// preserved; every semantic value is.
func Decode(params string) (FilterSpec, string, error) {
	q, err := url.ParseQuery(strings.TrimPrefix(params, keyPrefix))
	if err != nil {
		return FilterSpec{}, "", fmt.Errorf("%w: %v", ErrInvalidFilterSpec, err)
	}

	spec := FilterSpec{
		ReadState: ReadState(q.Get(paramReadState)),
		FolderIDs: q[paramFolderIDs],
		TagIDs:    q[paramTagIDs],
		Search:    q.Get(paramSearch),
	}
	if raw := q.Get(paramLimit); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return FilterSpec{}, "", fmt.Errorf("%w: limit %q", ErrInvalidFilterSpec, raw)
		}
		spec.Limit = limit
	}
	if err := spec.Validate(); err != nil {
		return FilterSpec{}, "", err
	}
	return spec.Normalize(), q.Get(paramCursor), nil
}

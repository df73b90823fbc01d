// Package filter implements relay-style structural prefilters. A prefilter
// is checked before any predicate module runs, so records it rejects never
// cross the sandbox boundary.
package filter

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strconv"
	"strings"

	"mercator-hq/sieve/pkg/record"
)

// Filter selects records by identity, author, kind, time window and tags.
// Each non-empty criterion must hold; within a criterion any listed value
// may match.
type Filter struct {
	IDs     []string `yaml:"ids" json:"ids,omitempty"`
	Authors []string `yaml:"authors" json:"authors,omitempty"`
	Kinds   []int64  `yaml:"kinds" json:"kinds,omitempty"`

	// Since and Until bound created_at inclusively.
	Since *int64 `yaml:"since" json:"since,omitempty"`
	Until *int64 `yaml:"until" json:"until,omitempty"`

	// Tags maps a single-letter tag name (without '#') to accepted values.
	Tags map[string][]string `yaml:"tags" json:"tags,omitempty"`

	// Limit caps the number of accepted records. Zero means unlimited.
	Limit int `yaml:"limit" json:"limit,omitempty"`
}

// IsEmpty reports whether f accepts every record.
func (f *Filter) IsEmpty() bool {
	if f == nil {
		return true
	}
	return len(f.IDs) == 0 && len(f.Authors) == 0 && len(f.Kinds) == 0 &&
		f.Since == nil && f.Until == nil && len(f.Tags) == 0 && f.Limit == 0
}

// Matches reports whether r satisfies every criterion of f. Limit is not
// consulted; callers that stream records enforce it.
func (f *Filter) Matches(r record.Record) bool {
	if f == nil {
		return true
	}
	if len(f.IDs) > 0 && !slices.Contains(f.IDs, r.ID) {
		return false
	}
	if len(f.Authors) > 0 && !slices.Contains(f.Authors, r.Author) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, r.Kind) {
		return false
	}
	if f.Since != nil && r.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && r.CreatedAt > *f.Until {
		return false
	}
	for name, values := range f.Tags {
		if len(values) == 0 {
			continue
		}
		if !slices.ContainsFunc(values, func(v string) bool { return r.HasTag(name, v) }) {
			return false
		}
	}
	return true
}

// Validate checks f for contradictory or out-of-range criteria.
func (f *Filter) Validate() error {
	if f == nil {
		return nil
	}
	if f.Limit < 0 {
		return fmt.Errorf("limit must be >= 0, got %d", f.Limit)
	}
	if f.Since != nil && f.Until != nil && *f.Since > *f.Until {
		return fmt.Errorf("since (%d) is after until (%d)", *f.Since, *f.Until)
	}
	for name := range f.Tags {
		if name == "" || strings.HasPrefix(name, "#") {
			return fmt.Errorf("invalid tag filter name %q", name)
		}
	}
	return nil
}

// String renders f in its tag form for logs.
func (f *Filter) String() string {
	if f.IsEmpty() {
		return "{}"
	}
	parts := make([]string, 0, 8)
	for _, t := range f.ToTags() {
		parts = append(parts, strings.Join(t, ":"))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// FromTags parses the tag encoding used by noscript envelopes:
//
//	["ids", …] ["authors", …] ["kinds", "1", "6"] ["since", "…"]
//	["until", "…"] ["limit", "…"] ["#t", …]
//
// Only the first tag of each name is used. Unrelated tags are ignored.
func FromTags(tags [][]string) (*Filter, error) {
	r := record.Record{Tags: tags}
	f := &Filter{}

	f.IDs = r.TagValues("ids")
	f.Authors = r.TagValues("authors")

	for _, k := range r.TagValues("kinds") {
		kind, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid kind %q: %w", k, err)
		}
		f.Kinds = append(f.Kinds, kind)
	}

	var err error
	if f.Since, err = intTag(r, "since"); err != nil {
		return nil, err
	}
	if f.Until, err = intTag(r, "until"); err != nil {
		return nil, err
	}
	limit, err := intTag(r, "limit")
	if err != nil {
		return nil, err
	}
	if limit != nil {
		f.Limit = int(*limit)
	}

	for _, t := range tags {
		if len(t) < 2 || len(t[0]) < 2 || t[0][0] != '#' {
			continue
		}
		name := t[0][1:]
		if f.Tags == nil {
			f.Tags = make(map[string][]string)
		}
		if _, seen := f.Tags[name]; seen {
			continue
		}
		f.Tags[name] = slices.Clone(t[1:])
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// ToTags is the inverse of FromTags. Tag filters are emitted in name order.
func (f *Filter) ToTags() [][]string {
	if f == nil {
		return nil
	}
	var tags [][]string
	if len(f.IDs) > 0 {
		tags = append(tags, append([]string{"ids"}, f.IDs...))
	}
	if len(f.Authors) > 0 {
		tags = append(tags, append([]string{"authors"}, f.Authors...))
	}
	if len(f.Kinds) > 0 {
		t := []string{"kinds"}
		for _, k := range f.Kinds {
			t = append(t, strconv.FormatInt(k, 10))
		}
		tags = append(tags, t)
	}
	if f.Limit > 0 {
		tags = append(tags, []string{"limit", strconv.Itoa(f.Limit)})
	}
	if f.Since != nil {
		tags = append(tags, []string{"since", strconv.FormatInt(*f.Since, 10)})
	}
	if f.Until != nil {
		tags = append(tags, []string{"until", strconv.FormatInt(*f.Until, 10)})
	}
	names := slices.Collect(maps.Keys(f.Tags))
	sort.Strings(names)
	for _, name := range names {
		if len(f.Tags[name]) == 0 {
			continue
		}
		tags = append(tags, append([]string{"#" + name}, f.Tags[name]...))
	}
	return tags
}

func intTag(r record.Record, name string) (*int64, error) {
	v, ok := r.FirstTagValue(name)
	if !ok {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return &n, nil
}

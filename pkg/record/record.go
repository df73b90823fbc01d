package record

import (
	"iter"
	"slices"
)

// Record is a single event. Records are values; nothing in this module
// mutates one after construction.
type Record struct {
	ID        string     `json:"id"`
	Author    string     `json:"author"`
	CreatedAt int64      `json:"created_at"`
	Kind      int64      `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Signature string     `json:"signature"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	c := r
	if r.Tags != nil {
		c.Tags = make([][]string, len(r.Tags))
		for i, t := range r.Tags {
			c.Tags[i] = slices.Clone(t)
		}
	}
	return c
}

// Equal reports whether r and o carry the same field values. Nil and empty tag
// lists compare equal.
func (r Record) Equal(o Record) bool {
	if r.ID != o.ID || r.Author != o.Author || r.CreatedAt != o.CreatedAt ||
		r.Kind != o.Kind || r.Content != o.Content || r.Signature != o.Signature {
		return false
	}
	if len(r.Tags) != len(o.Tags) {
		return false
	}
	for i := range r.Tags {
		if !slices.Equal(r.Tags[i], o.Tags[i]) {
			return false
		}
	}
	return true
}

// FirstTagValue returns the second element of the first tag named name.
func (r Record) FirstTagValue(name string) (string, bool) {
	for _, t := range r.Tags {
		if len(t) > 1 && t[0] == name {
			return t[1], true
		}
	}
	return "", false
}

// TagValues returns the elements following the name of the first tag named
// name, or nil if there is no such tag.
func (r Record) TagValues(name string) []string {
	for _, t := range r.Tags {
		if len(t) > 0 && t[0] == name {
			return slices.Clone(t[1:])
		}
	}
	return nil
}

// HasTag reports whether r has a tag named name whose second element is value.
func (r Record) HasTag(name, value string) bool {
	for _, t := range r.Tags {
		if len(t) > 1 && t[0] == name && t[1] == value {
			return true
		}
	}
	return false
}

// Seq returns a sequence over records. The sequence can be ranged over more
// than once.
func Seq(records ...Record) iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for _, r := range records {
			if !yield(r) {
				return
			}
		}
	}
}

// Package noscript encodes and decodes predicate modules published as
// records. An envelope carries a base64 WebAssembly module in its content,
// descriptive metadata in its tags, and optionally a prefilter. Loaded
// through the registry or engine, the prefilter is attached to the module's
// handle and records it rejects never reach the module.
package noscript

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"mercator-hq/sieve/pkg/filter"
	"mercator-hq/sieve/pkg/record"
)

// Kind is the record kind of a noscript envelope.
const Kind int64 = 32043

const (
	labelTag    = "noscript"
	filterLabel = "wasm:msg:filter"
)

var (
	// ErrWrongKind is returned when decoding a record of another kind.
	ErrWrongKind = errors.New("record is not a noscript envelope")

	// ErrMissingIdentifier is returned when the d tag is absent or empty.
	ErrMissingIdentifier = errors.New("noscript envelope has no identifier")

	// ErrInvalidModule is returned when the content is not valid base64.
	ErrInvalidModule = errors.New("noscript module is not valid base64")
)

// Mode selects whose records a filter script is applied to.
type Mode int

const (
	ModeGlobal Mode = iota
	ModeFollow
	ModeTrustNetwork
	ModeSignInUser
	ModeVisitingUser
	ModeCustom
)

var modeNames = [...]string{"global", "follow", "trust_network", "sign_in_user", "visiting_user", "custom"}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return "mode(" + strconv.Itoa(int(m)) + ")"
	}
	return modeNames[m]
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m >= ModeGlobal && m <= ModeCustom }

// Script is a decoded envelope.
type Script struct {
	Identifier  string
	Title       string
	Description string
	Picture     string
	Version     string
	SourceCode  string
	PublishedAt int64

	// Module holds the raw WebAssembly bytes.
	Module []byte

	// IsFilter is set when the envelope is labelled as a message filter.
	// Filter and Mode are only meaningful then.
	IsFilter bool
	Filter   *filter.Filter
	Mode     Mode

	Author    string
	CreatedAt int64
}

// Address returns the replaceable address "<kind>:<author>:<identifier>".
func (s *Script) Address() string {
	return fmt.Sprintf("%d:%s:%s", Kind, s.Author, s.Identifier)
}

// Decode parses a noscript envelope. A missing mode tag on a filter script
// selects ModeCustom. A missing title falls back to the identifier.
func Decode(r record.Record) (*Script, error) {
	if r.Kind != Kind {
		return nil, fmt.Errorf("%w: kind %d", ErrWrongKind, r.Kind)
	}

	id, _ := r.FirstTagValue("d")
	if id == "" {
		return nil, ErrMissingIdentifier
	}

	module, err := base64.StdEncoding.DecodeString(strings.TrimSpace(r.Content))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModule, err)
	}

	s := &Script{
		Identifier: id,
		Module:     module,
		Author:     r.Author,
		CreatedAt:  r.CreatedAt,
	}
	s.Title, _ = r.FirstTagValue("title")
	if s.Title == "" {
		s.Title = id
	}
	s.Description, _ = r.FirstTagValue("description")
	s.Picture, _ = r.FirstTagValue("picture")
	s.Version, _ = r.FirstTagValue("version")
	s.SourceCode, _ = r.FirstTagValue("source_code")
	if v, ok := r.FirstTagValue("published_at"); ok {
		if s.PublishedAt, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid published_at %q: %w", v, err)
		}
	}

	label, _ := r.FirstTagValue(labelTag)
	if label != filterLabel {
		return s, nil
	}

	s.IsFilter = true
	if s.Filter, err = filter.FromTags(r.Tags); err != nil {
		return nil, fmt.Errorf("invalid prefilter: %w", err)
	}
	s.Mode = ModeCustom
	if v, ok := r.FirstTagValue("mode"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid mode %q: %w", v, err)
		}
		if !Mode(n).Valid() {
			return nil, fmt.Errorf("unknown mode %d", n)
		}
		s.Mode = Mode(n)
	}
	return s, nil
}

// Encode builds the envelope record for s. The record is unsigned and has
// no id; Author and CreatedAt are taken from s.
func Encode(s *Script) (record.Record, error) {
	if s.Identifier == "" {
		return record.Record{}, ErrMissingIdentifier
	}

	tags := [][]string{{"d", s.Identifier}}
	add := func(name, value string) {
		if value != "" {
			tags = append(tags, []string{name, value})
		}
	}
	add("title", s.Title)
	add("description", s.Description)
	add("picture", s.Picture)
	add("source_code", s.SourceCode)
	add("version", s.Version)
	if s.PublishedAt != 0 {
		add("published_at", strconv.FormatInt(s.PublishedAt, 10))
	}

	if s.IsFilter {
		if s.Filter != nil {
			if err := s.Filter.Validate(); err != nil {
				return record.Record{}, fmt.Errorf("invalid prefilter: %w", err)
			}
			tags = append(tags, s.Filter.ToTags()...)
		}
		if !s.Mode.Valid() {
			return record.Record{}, fmt.Errorf("unknown mode %d", s.Mode)
		}
		tags = append(tags,
			[]string{"mode", strconv.Itoa(int(s.Mode))},
			[]string{labelTag, filterLabel},
		)
	}

	return record.Record{
		Author:    s.Author,
		CreatedAt: s.CreatedAt,
		Kind:      Kind,
		Tags:      tags,
		Content:   base64.StdEncoding.EncodeToString(s.Module),
	}, nil
}

// IsFilterScript reports whether r is an envelope labelled as a message
// filter, without decoding the module.
func IsFilterScript(r record.Record) bool {
	if r.Kind != Kind {
		return false
	}
	v, _ := r.FirstTagValue(labelTag)
	return v == filterLabel
}

// Query returns a prefilter selecting envelopes by the given authors, or by
// any author when none are given.
func Query(authors []string, limit int) *filter.Filter {
	f := &filter.Filter{Kinds: []int64{Kind}, Limit: limit}
	if len(authors) > 0 {
		f.Authors = append([]string(nil), authors...)
	}
	return f
}

// QueryByIdentifier narrows Query to a single identifier.
func QueryByIdentifier(authors []string, identifier string, limit int) *filter.Filter {
	f := Query(authors, limit)
	f.Tags = map[string][]string{"d": {identifier}}
	return f
}

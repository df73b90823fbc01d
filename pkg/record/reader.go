package record

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Dialect selects the field names of JSON Lines input.
type Dialect string

const (
	// DialectBoundary uses the boundary field names (author, signature).
	DialectBoundary Dialect = "boundary"

	// DialectNostr uses relay field names (pubkey, sig).
	DialectNostr Dialect = "nostr"
)

// ParseDialect validates a dialect name. The empty string selects
// DialectBoundary.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(strings.ToLower(s)) {
	case "", DialectBoundary:
		return DialectBoundary, nil
	case DialectNostr:
		return DialectNostr, nil
	default:
		return "", fmt.Errorf("unknown record dialect %q (want boundary or nostr)", s)
	}
}

const recordSchemaTemplate = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "%[1]s", "created_at", "kind", "tags", "content"],
  "properties": {
    "id": {"type": "string"},
    "%[1]s": {"type": "string"},
    "created_at": {"type": "integer"},
    "kind": {"type": "integer"},
    "tags": {
      "type": "array",
      "items": {"type": "array", "items": {"type": "string"}}
    },
    "content": {"type": "string"},
    "%[2]s": {"type": "string"}
  }
}`

var (
	schemaMu sync.Mutex
	schemas  = map[Dialect]*jsonschema.Schema{}
)

func schemaFor(d Dialect) (*jsonschema.Schema, error) {
	schemaMu.Lock()
	defer schemaMu.Unlock()

	if s, ok := schemas[d]; ok {
		return s, nil
	}

	author, signature := "author", "signature"
	if d == DialectNostr {
		author, signature = "pubkey", "sig"
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := "https://sieve.schemas.local/record/" + string(d) + ".schema.json"
	if err := c.AddResource(schemaURL, strings.NewReader(fmt.Sprintf(recordSchemaTemplate, author, signature))); err != nil {
		return nil, fmt.Errorf("failed to load record schema: %w", err)
	}
	s, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile record schema: %w", err)
	}
	schemas[d] = s
	return s, nil
}

type nostrWire struct {
	ID        string     `json:"id"`
	Pubkey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int64      `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// LineError reports an input line that failed validation or decoding.
type LineError struct {
	Line  int
	Cause error
}

// Error returns the error message.
func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *LineError) Unwrap() error {
	return e.Cause
}

// Reader reads records from JSON Lines input. Blank lines are skipped.
// Fields outside the dialect's schema are ignored.
type Reader struct {
	br      *bufio.Reader
	dialect Dialect
	line    int
	err     error
}

// NewReader returns a Reader for the given dialect.
func NewReader(r io.Reader, dialect Dialect) *Reader {
	if dialect == "" {
		dialect = DialectBoundary
	}
	return &Reader{br: bufio.NewReader(r), dialect: dialect}
}

// Next returns the next record, or io.EOF when the input is exhausted.
func (r *Reader) Next() (Record, error) {
	if r.err != nil {
		return Record{}, r.err
	}
	rec, err := r.next()
	if err != nil {
		r.err = err
	}
	return rec, err
}

func (r *Reader) next() (Record, error) {
	schema, err := schemaFor(r.dialect)
	if err != nil {
		return Record{}, err
	}

	for {
		line, err := r.br.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return Record{}, err
		}
		r.line++

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return Record{}, err
			}
			continue
		}

		rec, decodeErr := decode(schema, r.dialect, line)
		if decodeErr != nil {
			return Record{}, &LineError{Line: r.line, Cause: decodeErr}
		}
		return rec, nil
	}
}

func decode(schema *jsonschema.Schema, dialect Dialect, line []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return Record{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return Record{}, fmt.Errorf("schema validation failed: %w", err)
	}

	if dialect == DialectNostr {
		var w nostrWire
		if err := json.Unmarshal(line, &w); err != nil {
			return Record{}, err
		}
		return Record{
			ID:        w.ID,
			Author:    w.Pubkey,
			CreatedAt: w.CreatedAt,
			Kind:      w.Kind,
			Tags:      w.Tags,
			Content:   w.Content,
			Signature: w.Sig,
		}, nil
	}

	var w wire
	if err := json.Unmarshal(line, &w); err != nil {
		return Record{}, err
	}
	return Record(w), nil
}

// All returns a single-use sequence over the remaining records. Iteration
// stops at the first error, which is then available from Err.
func (r *Reader) All() iter.Seq[Record] {
	return func(yield func(Record) bool) {
		for {
			rec, err := r.Next()
			if err != nil {
				return
			}
			if !yield(rec) {
				return
			}
		}
	}
}

// Err returns the first non-EOF error encountered by the reader.
func (r *Reader) Err() error {
	if errors.Is(r.err, io.EOF) {
		return nil
	}
	return r.err
}

// ReadAll reads every record from r.
func ReadAll(r io.Reader, dialect Dialect) ([]Record, error) {
	rd := NewReader(r, dialect)
	var out []Record
	for rec := range rd.All() {
		out = append(out, rec)
	}
	return out, rd.Err()
}

// Decode parses a single JSON document, which may span several lines, in
// the given dialect. Unlike Unmarshal it validates against the dialect's
// schema and ignores unknown fields.
func Decode(data []byte, dialect Dialect) (Record, error) {
	if dialect == "" {
		dialect = DialectBoundary
	}
	schema, err := schemaFor(dialect)
	if err != nil {
		return Record{}, err
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, bytes.TrimSpace(data)); err != nil {
		return Record{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return decode(schema, dialect, buf.Bytes())
}

// Encode writes r as a single JSON document in the given dialect, the
// inverse of Decode.
func Encode(r Record, dialect Dialect) ([]byte, error) {
	if dialect != DialectNostr {
		return Marshal(r)
	}
	w := nostrWire{
		ID:        r.ID,
		Pubkey:    r.Author,
		CreatedAt: r.CreatedAt,
		Kind:      r.Kind,
		Tags:      normalizeTags(r.Tags),
		Content:   r.Content,
		Sig:       r.Signature,
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&w); err != nil {
		return nil, fmt.Errorf("encode record %q: %w", r.ID, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

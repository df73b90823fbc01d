package record

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/gowebpki/jcs"
)

// wire fixes the field order of the boundary representation.
type wire struct {
	ID        string     `json:"id"`
	Author    string     `json:"author"`
	CreatedAt int64      `json:"created_at"`
	Kind      int64      `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Signature string     `json:"signature"`
}

// Marshal encodes r in the boundary representation.
func Marshal(r Record) ([]byte, error) {
	w := wire(r)
	w.Tags = normalizeTags(r.Tags)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&w); err != nil {
		return nil, fmt.Errorf("encode record %q: %w", r.ID, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// Unmarshal decodes a boundary representation produced by Marshal.
func Unmarshal(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wire
	if err := dec.Decode(&w); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Record{}, fmt.Errorf("decode record: trailing data after object")
	}
	if w.Tags == nil {
		w.Tags = [][]string{}
	}
	return Record(w), nil
}

// Digest returns the hex SHA-256 of the RFC 8785 canonical form of r.
func Digest(r Record) (string, error) {
	b, err := Marshal(r)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(b)
	if err != nil {
		return "", fmt.Errorf("canonicalize record %q: %w", r.ID, err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// normalizeTags replaces nil slices with empty ones so they encode as arrays.
// The input is copied before any element is replaced.
func normalizeTags(tags [][]string) [][]string {
	if tags == nil {
		return [][]string{}
	}
	for i, t := range tags {
		if t != nil {
			continue
		}
		out := make([][]string, len(tags))
		copy(out, tags)
		for j := i; j < len(out); j++ {
			if out[j] == nil {
				out[j] = []string{}
			}
		}
		return out
	}
	return tags
}

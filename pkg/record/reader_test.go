package record

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_Boundary(t *testing.T) {
	input := `{"id":"1","author":"a","created_at":1,"kind":1,"tags":[["t","x"]],"content":"one","signature":"s"}

{"id":"2","author":"b","created_at":-3,"kind":7,"tags":[],"content":""}
`
	records, err := ReadAll(strings.NewReader(input), DialectBoundary)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "1", records[0].ID)
	assert.Equal(t, [][]string{{"t", "x"}}, records[0].Tags)
	assert.Equal(t, int64(-3), records[1].CreatedAt)
	assert.Equal(t, int64(7), records[1].Kind)
}

func TestReader_Nostr(t *testing.T) {
	input := `{"id":"ev","pubkey":"pk","created_at":1700000000,"kind":32043,"tags":[["d","f"]],"content":"AGFzbQ==","sig":"deadbeef","relay":"ignored"}`

	records, err := ReadAll(strings.NewReader(input), DialectNostr)
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, "pk", records[0].Author)
	assert.Equal(t, "deadbeef", records[0].Signature)
	assert.Equal(t, int64(32043), records[0].Kind)
}

func TestReader_InvalidLine(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  int
	}{
		{"not json", "{\"id\":\"1\",\"author\":\"a\",\"created_at\":1,\"kind\":1,\"tags\":[],\"content\":\"\"}\nnot json\n", 2},
		{"missing field", `{"id":"1","created_at":1,"kind":1,"tags":[],"content":""}`, 1},
		{"fractional kind", `{"id":"1","author":"a","created_at":1,"kind":1.5,"tags":[],"content":""}`, 1},
		{"non-string tag", `{"id":"1","author":"a","created_at":1,"kind":1,"tags":[[1]],"content":""}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadAll(strings.NewReader(tt.input), DialectBoundary)
			require.Error(t, err)

			var lineErr *LineError
			require.True(t, errors.As(err, &lineErr))
			assert.Equal(t, tt.line, lineErr.Line)
		})
	}
}

func TestReader_NoTrailingNewline(t *testing.T) {
	input := `{"id":"1","author":"a","created_at":1,"kind":1,"tags":[],"content":""}`
	records, err := ReadAll(strings.NewReader(input), "")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("")
	require.NoError(t, err)
	assert.Equal(t, DialectBoundary, d)

	d, err = ParseDialect("NOSTR")
	require.NoError(t, err)
	assert.Equal(t, DialectNostr, d)

	_, err = ParseDialect("xml")
	assert.Error(t, err)
}

func TestDecode_MultiLineDocument(t *testing.T) {
	doc := `{
  "id": "e1",
  "pubkey": "p1",
  "created_at": 5,
  "kind": 32043,
  "tags": [["d", "spam"]],
  "content": "AGFzbQ==",
  "sig": "s1",
  "relay": "ignored"
}`
	rec, err := Decode([]byte(doc), DialectNostr)
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.Author)
	assert.Equal(t, "s1", rec.Signature)
	assert.Equal(t, int64(32043), rec.Kind)

	_, err = Decode([]byte(doc), DialectBoundary)
	assert.Error(t, err, "boundary schema requires author")

	_, err = Decode([]byte(`{"id":`), "")
	assert.Error(t, err)
}

func TestEncode_RoundTripsThroughDecode(t *testing.T) {
	rec := Record{ID: "ev", Author: "pk", CreatedAt: -5, Kind: 1, Tags: [][]string{{"t", "x"}, nil}, Content: "<hi>", Signature: "sig"}

	for _, d := range []Dialect{DialectBoundary, DialectNostr} {
		t.Run(string(d), func(t *testing.T) {
			data, err := Encode(rec, d)
			require.NoError(t, err)
			assert.Contains(t, string(data), "<hi>")
			if d == DialectNostr {
				assert.Contains(t, string(data), `"pubkey":"pk"`)
			}

			got, err := Decode(data, d)
			require.NoError(t, err)
			assert.Equal(t, [][]string{{"t", "x"}, {}}, got.Tags)
			got.Tags = rec.Tags
			assert.Equal(t, rec, got)
		})
	}
}

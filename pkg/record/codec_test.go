package record

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_FieldOrder(t *testing.T) {
	r := Record{
		ID:        "abc",
		Author:    "alice",
		CreatedAt: -5,
		Kind:      1,
		Tags:      [][]string{{"t", "nostr"}, {"e"}},
		Content:   "<b>hi</b> & bye",
		Signature: "sig",
	}

	b, err := Marshal(r)
	require.NoError(t, err)
	assert.Equal(t,
		`{"id":"abc","author":"alice","created_at":-5,"kind":1,"tags":[["t","nostr"],["e"]],"content":"<b>hi</b> & bye","signature":"sig"}`,
		string(b))
}

func TestMarshal_EmptyTags(t *testing.T) {
	tests := []struct {
		name string
		tags [][]string
		want string
	}{
		{"nil tags", nil, `"tags":[]`},
		{"empty tags", [][]string{}, `"tags":[]`},
		{"nil inner tag", [][]string{nil, {"p", "x"}}, `"tags":[[],["p","x"]]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Marshal(Record{Tags: tt.tags})
			require.NoError(t, err)
			assert.Contains(t, string(b), tt.want)
		})
	}
}

func TestMarshal_DoesNotMutateInput(t *testing.T) {
	tags := [][]string{{"a"}, nil}
	_, err := Marshal(Record{Tags: tags})
	require.NoError(t, err)
	assert.Nil(t, tags[1])
}

func TestUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr string
	}{
		{"valid", `{"id":"a","author":"b","created_at":1,"kind":2,"tags":[],"content":"","signature":""}`, ""},
		{"unknown field", `{"id":"a","extra":true}`, "unknown field"},
		{"trailing data", `{"id":"a"} {"id":"b"}`, "trailing data"},
		{"not an object", `[1,2]`, "decode record"},
		{"wrong type", `{"kind":"one"}`, "decode record"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tt.input))
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDigest_Stable(t *testing.T) {
	r := Record{ID: "1", Author: "a", CreatedAt: 1700000000, Kind: 1, Tags: [][]string{{"t", "x"}}, Content: "héllo"}

	d1, err := Digest(r)
	require.NoError(t, err)
	d2, err := Digest(r.Clone())
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
	assert.Len(t, d1, 64)

	other := r.Clone()
	other.Content = "hello"
	d3, err := Digest(other)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d3)
}

func genTags() gopter.Gen {
	return gen.SliceOf(gen.SliceOf(gen.AnyString()))
}

func TestBoundaryRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("Unmarshal(Marshal(r)) equals r", prop.ForAll(
		func(id, author, content string, createdAt, kind int64, tags [][]string) bool {
			r := Record{
				ID:        id,
				Author:    author,
				CreatedAt: createdAt,
				Kind:      kind,
				Tags:      tags,
				Content:   content,
			}
			b, err := Marshal(r)
			if err != nil {
				return false
			}
			back, err := Unmarshal(b)
			if err != nil {
				return false
			}
			return back.Equal(r)
		},
		gen.AlphaString(),
		gen.AlphaString(),
		gen.AnyString(),
		gen.Int64(),
		gen.Int64(),
		genTags(),
	))

	properties.TestingRun(t)
}

func TestMarshal_LargeContent(t *testing.T) {
	content := strings.Repeat("x", 1<<20)
	b, err := Marshal(Record{Content: content})
	require.NoError(t, err)

	back, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, content, back.Content)
}

package expr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"mercator-hq/sieve/pkg/predicate"
	"mercator-hq/sieve/pkg/record"
)

func manifest(expr string) []byte {
	return []byte(fmt.Sprintf("name: test\nexports:\n  is_valid_event: %q\n", expr))
}

func newLoader(t *testing.T) *predicate.Loader {
	t.Helper()
	b, err := NewBackend(DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	return predicate.NewLoader(nil, b)
}

func TestBackend_Evaluate(t *testing.T) {
	l := newLoader(t)
	host := predicate.NewHost()

	note := record.Record{ID: "1", Author: "alice", Kind: 1, CreatedAt: -10, Tags: [][]string{{"t", "nostr"}}, Content: "gm"}
	article := record.Record{ID: "2", Author: "bob", Kind: 30023}

	tests := []struct {
		name     string
		expr     string
		rec      record.Record
		want     bool
		wantDiag predicate.DiagnosticKind
	}{
		{"kind match", "record.kind == 1", note, true, ""},
		{"kind mismatch", "record.kind == 1", article, false, ""},
		{"negative created_at", "record.created_at < 0", note, true, ""},
		{"tag exists", `record.tags.exists(t, size(t) > 1 && t[0] == "t" && t[1] == "nostr")`, note, true, ""},
		{"tag missing", `record.tags.exists(t, size(t) > 1 && t[0] == "t")`, article, false, ""},
		{"string extension", `record.author.upperAscii() == "ALICE"`, note, true, ""},
		{"content size", "size(record.content) > 0", note, true, ""},
		{"constant true", "true", record.Record{}, true, ""},
		{"dyn non-boolean result", "record.kind", note, false, predicate.DiagnosticCoercionWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := l.Load(context.Background(), tt.name, manifest(tt.expr))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if h.Format() != predicate.FormatExpr {
				t.Errorf("Format() = %s", h.Format())
			}

			v, err := host.Evaluate(context.Background(), h, tt.rec, predicate.DefaultLimits())
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if v.Match != tt.want {
				t.Errorf("Match = %v, want %v", v.Match, tt.want)
			}
			if tt.wantDiag != "" && (v.Diagnostic == nil || v.Diagnostic.Kind != tt.wantDiag) {
				t.Errorf("Diagnostic = %v, want %s", v.Diagnostic, tt.wantDiag)
			}
		})
	}
}

func TestBackend_LoadErrors(t *testing.T) {
	l := newLoader(t)

	tests := []struct {
		name    string
		module  string
		wantErr error
	}{
		{"missing entry point", "exports:\n  other: \"true\"\n", predicate.ErrMissingEntryPoint},
		{"empty exports", "exports: {}\n", predicate.ErrMissingEntryPoint},
		{"empty expression", "exports:\n  is_valid_event: \"  \"\n", predicate.ErrMalformedModule},
		{"syntax error", string(manifest("record.kind ==")), predicate.ErrMalformedModule},
		{"undeclared variable", string(manifest("event.kind == 1")), predicate.ErrMalformedModule},
		{"string result", string(manifest(`"yes"`)), predicate.ErrSignatureMismatch},
		{"int result", string(manifest("1 + 2")), predicate.ErrSignatureMismatch},
		{"no exports key", "name: nothing\n", predicate.ErrMalformedModule},
		{"not yaml", "\x01\x02\x03", predicate.ErrMalformedModule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := l.Load(context.Background(), tt.name, []byte(tt.module))
			if h != nil {
				t.Errorf("Load() returned a handle")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Load() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBackend_Faults(t *testing.T) {
	l := newLoader(t)
	host := predicate.NewHost()

	tests := []struct {
		name     string
		expr     string
		limits   predicate.Limits
		wantErr  error
		resource predicate.Resource
	}{
		{
			name:    "index out of range",
			expr:    `record.tags[0][1] == "x"`,
			limits:  predicate.DefaultLimits(),
			wantErr: predicate.ErrExecutionTrap,
		},
		{
			name:     "cost limit",
			expr:     "[1,2,3,4,5,6,7,8,9,10].all(x, [1,2,3,4,5,6,7,8,9,10].all(y, x * y >= 0))",
			limits:   predicate.Limits{MaxInstructions: 10},
			wantErr:  predicate.ErrResourceExceeded,
			resource: predicate.ResourceInstructions,
		},
		{
			name:     "payload over memory limit",
			expr:     "true",
			limits:   predicate.Limits{MaxMemoryBytes: 10},
			wantErr:  predicate.ErrResourceExceeded,
			resource: predicate.ResourceMemory,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := l.Load(context.Background(), tt.name, manifest(tt.expr))
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}

			v, err := host.Evaluate(context.Background(), h, record.Record{ID: "x"}, tt.limits)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Evaluate() error = %v, want %v", err, tt.wantErr)
			}
			if v.Match {
				t.Error("verdict should be false")
			}
			var ee *predicate.EvalError
			if tt.resource != "" && (!errors.As(err, &ee) || ee.Resource != tt.resource) {
				t.Errorf("resource = %v, want %s", ee, tt.resource)
			}
		})
	}
}

func TestBackend_ProgramCachePerCostLimit(t *testing.T) {
	b, err := NewBackend(DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	m, err := b.Compile(context.Background(), "cache", manifest("record.kind == 1"))
	if err != nil {
		t.Fatal(err)
	}
	em := m.(*exprModule)

	payload, _ := record.Marshal(record.Record{Kind: 1})
	for _, limit := range []uint64{0, 100, 100, 0} {
		if _, err := em.Invoke(context.Background(), payload, predicate.Limits{MaxInstructions: limit}); err != nil {
			t.Fatalf("Invoke() error = %v", err)
		}
	}
	if len(em.programs) != 2 {
		t.Errorf("cached programs = %d, want 2", len(em.programs))
	}
}

func TestConfig_Validate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v", err)
	}
	for _, cfg := range []Config{
		{InterruptCheckFrequency: 1, MaxExpressionLength: 1},
		{EntryPoint: "x", MaxExpressionLength: 1},
		{EntryPoint: "x", InterruptCheckFrequency: 1},
	} {
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Validate(%+v) = %v, want ErrInvalidConfig", cfg, err)
		}
	}
}

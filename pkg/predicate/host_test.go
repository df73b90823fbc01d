package predicate

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/sieve/pkg/filter"
	"mercator-hq/sieve/pkg/record"
)

type recordingObserver struct {
	mu           sync.Mutex
	observations []Observation
	loads        []error
}

func (o *recordingObserver) ObserveLoad(_ Format, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loads = append(o.loads, err)
}

func (o *recordingObserver) ObserveEvaluation(obs Observation) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observations = append(o.observations, obs)
}

func constant(v bool) Func {
	return func(context.Context, []byte) (RawResult, error) { return BoolResult(v), nil }
}

func TestHost_Evaluate(t *testing.T) {
	ctx := context.Background()
	rec := record.Record{ID: "r1", Kind: 1}

	tests := []struct {
		name       string
		module     Module
		wantMatch  bool
		wantErr    error
		wantDiag   DiagnosticKind
		wantResult Outcome
	}{
		{
			name:       "always true",
			module:     constant(true),
			wantMatch:  true,
			wantResult: OutcomeMatch,
		},
		{
			name:       "always false",
			module:     constant(false),
			wantResult: OutcomeNoMatch,
		},
		{
			name: "non-boolean result",
			module: Func(func(context.Context, []byte) (RawResult, error) {
				return MalformedResult("i32 7"), nil
			}),
			wantDiag:   DiagnosticCoercionWarning,
			wantResult: OutcomeCoerced,
		},
		{
			name: "trap",
			module: Func(func(context.Context, []byte) (RawResult, error) {
				return RawResult{}, Trap("unreachable", nil)
			}),
			wantErr:    ErrExecutionTrap,
			wantDiag:   DiagnosticExecutionTrap,
			wantResult: OutcomeTrap,
		},
		{
			name: "untyped error becomes trap",
			module: Func(func(context.Context, []byte) (RawResult, error) {
				return RawResult{}, errors.New("boom")
			}),
			wantErr:    ErrExecutionTrap,
			wantDiag:   DiagnosticExecutionTrap,
			wantResult: OutcomeTrap,
		},
		{
			name: "panic becomes trap",
			module: Func(func(context.Context, []byte) (RawResult, error) {
				panic("bad module")
			}),
			wantErr:    ErrExecutionTrap,
			wantDiag:   DiagnosticExecutionTrap,
			wantResult: OutcomeTrap,
		},
		{
			name: "resource exceeded",
			module: Func(func(context.Context, []byte) (RawResult, error) {
				return RawResult{}, Exceeded(ResourceInstructions, "fuel exhausted")
			}),
			wantErr:    ErrResourceExceeded,
			wantDiag:   DiagnosticResourceExceeded,
			wantResult: OutcomeResourceExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs := &recordingObserver{}
			host := NewHost(WithObserver(obs))
			h := NewHandle("p", FormatNative, "", tt.module)

			v, err := host.Evaluate(ctx, h, rec, DefaultLimits())
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Evaluate() unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Evaluate() error = %v, want %v", err, tt.wantErr)
			}
			if v.Match != tt.wantMatch {
				t.Errorf("Match = %v, want %v", v.Match, tt.wantMatch)
			}
			if tt.wantDiag == "" && v.Diagnostic != nil {
				t.Errorf("unexpected diagnostic %v", v.Diagnostic)
			}
			if tt.wantDiag != "" && (v.Diagnostic == nil || v.Diagnostic.Kind != tt.wantDiag) {
				t.Errorf("Diagnostic = %v, want kind %s", v.Diagnostic, tt.wantDiag)
			}
			if len(obs.observations) != 1 || obs.observations[0].Outcome != tt.wantResult {
				t.Errorf("observations = %+v, want outcome %s", obs.observations, tt.wantResult)
			}
		})
	}
}

func TestHost_EvaluateSetsPredicateName(t *testing.T) {
	h := NewHandle("named", FormatNative, "", Func(func(context.Context, []byte) (RawResult, error) {
		return RawResult{}, Trap("boom", nil)
	}))

	_, err := NewHost().Evaluate(context.Background(), h, record.Record{}, Limits{})

	var ee *EvalError
	if !errors.As(err, &ee) {
		t.Fatalf("expected *EvalError, got %T", err)
	}
	if ee.Predicate != "named" {
		t.Errorf("Predicate = %q, want %q", ee.Predicate, "named")
	}
}

func TestHost_WallTimeLimit(t *testing.T) {
	slow := Func(func(ctx context.Context, _ []byte) (RawResult, error) {
		<-ctx.Done()
		return RawResult{}, ctx.Err()
	})
	h := NewHandle("slow", FormatNative, "", slow)
	limits := Limits{MaxWallTime: 10 * time.Millisecond}

	v, err := NewHost().Evaluate(context.Background(), h, record.Record{}, limits)
	if !errors.Is(err, ErrResourceExceeded) {
		t.Fatalf("error = %v, want ErrResourceExceeded", err)
	}

	var ee *EvalError
	if !errors.As(err, &ee) || ee.Resource != ResourceWallTime {
		t.Errorf("Resource = %v, want wall_time", ee)
	}
	if v.Match {
		t.Error("verdict should be false")
	}
}

func TestHost_CancelledContextIsNotResourceExceeded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := NewHandle("waits", FormatNative, "", Func(func(ctx context.Context, _ []byte) (RawResult, error) {
		<-ctx.Done()
		return RawResult{}, ctx.Err()
	}))

	_, err := NewHost().Evaluate(ctx, h, record.Record{}, DefaultLimits())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrResourceExceeded) || errors.Is(err, ErrExecutionTrap) {
		t.Errorf("cancellation misclassified: %v", err)
	}
}

func TestHost_PayloadIsBoundaryRepresentation(t *testing.T) {
	rec := record.Record{ID: "x", Kind: 42, Tags: [][]string{{"t", "a"}}}

	var got record.Record
	h := NewHandle("capture", FormatNative, "", Func(func(_ context.Context, payload []byte) (RawResult, error) {
		r, err := record.Unmarshal(payload)
		got = r
		return BoolResult(err == nil), err
	}))

	v, err := NewHost().Evaluate(context.Background(), h, rec, DefaultLimits())
	if err != nil || !v.Match {
		t.Fatalf("Evaluate() = %v, %v", v, err)
	}
	if !got.Equal(rec) {
		t.Errorf("module saw %+v, want %+v", got, rec)
	}
}

func TestHost_Deterministic(t *testing.T) {
	h := NewHandle("kind-one", FormatNative, "", RecordFunc(func(r record.Record) bool { return r.Kind == 1 }))
	host := NewHost()
	rec := record.Record{ID: "a", Kind: 1, CreatedAt: -100}

	first, err := host.Evaluate(context.Background(), h, rec, DefaultLimits())
	if err != nil {
		t.Fatal(err)
	}
	for range 50 {
		v, err := host.Evaluate(context.Background(), h, rec, DefaultLimits())
		if err != nil || v != first {
			t.Fatalf("Evaluate() = %v, %v; want %v", v, err, first)
		}
	}
}

func TestHandle_SerializesNonReentrantModules(t *testing.T) {
	var active, maxActive int32
	m := Func(func(context.Context, []byte) (RawResult, error) {
		n := atomic.AddInt32(&active, 1)
		for {
			cur := atomic.LoadInt32(&maxActive)
			if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&active, -1)
		return BoolResult(true), nil
	})
	h := NewHandle("serial", FormatNative, "", m)
	host := NewHost()

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = host.Evaluate(context.Background(), h, record.Record{}, Limits{})
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Errorf("max concurrent invocations = %d, want 1", maxActive)
	}
}

func TestHandle_WallTimeStartsAfterQueueing(t *testing.T) {
	m := Func(func(ctx context.Context, _ []byte) (RawResult, error) {
		select {
		case <-time.After(80 * time.Millisecond):
			return BoolResult(true), nil
		case <-ctx.Done():
			return RawResult{}, ctx.Err()
		}
	})
	h := NewHandle("slow", FormatNative, "", m)
	host := NewHost()
	limits := Limits{MaxWallTime: 120 * time.Millisecond}

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = host.Evaluate(context.Background(), h, record.Record{}, limits)
		}()
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("call %d: error = %v, want nil", i, err)
		}
	}
}

func TestHandle_Prefilter(t *testing.T) {
	var calls atomic.Int32
	m := Func(func(context.Context, []byte) (RawResult, error) {
		calls.Add(1)
		return BoolResult(true), nil
	})
	h := NewHandle("notes", FormatNative, "", m)
	h.SetPrefilter(&filter.Filter{Kinds: []int64{1}})

	obs := &recordingObserver{}
	host := NewHost(WithObserver(obs))

	v, err := host.Evaluate(context.Background(), h, record.Record{ID: "r2", Kind: 2}, Limits{})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if v.Match {
		t.Error("record outside the prefilter was accepted")
	}
	if v.Diagnostic == nil || v.Diagnostic.Kind != DiagnosticPrefilterRejected || v.Diagnostic.Predicate != "notes" {
		t.Errorf("diagnostic = %+v, want prefilter_rejected for notes", v.Diagnostic)
	}
	if calls.Load() != 0 {
		t.Errorf("module invoked %d times for a rejected record", calls.Load())
	}

	v, err = host.Evaluate(context.Background(), h, record.Record{ID: "r1", Kind: 1}, Limits{})
	if err != nil || !v.Match || v.Diagnostic != nil {
		t.Errorf("Evaluate(kind 1) = %+v, %v; want clean accept", v, err)
	}
	if calls.Load() != 1 {
		t.Errorf("module invoked %d times, want 1", calls.Load())
	}

	if len(obs.observations) != 2 || obs.observations[0].Outcome != OutcomeFiltered {
		t.Errorf("observations = %+v, want filtered first", obs.observations)
	}
}

func TestHandle_Close(t *testing.T) {
	h := NewHandle("c", FormatNative, "", constant(true))
	if err := h.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(context.Background()); err != nil {
		t.Errorf("second Close() = %v", err)
	}
	if !h.Closed() {
		t.Error("Closed() = false")
	}

	v, err := NewHost().Evaluate(context.Background(), h, record.Record{}, Limits{})
	if !errors.Is(err, ErrHandleClosed) {
		t.Errorf("error = %v, want ErrHandleClosed", err)
	}
	if v.Match || v.Diagnostic == nil || v.Diagnostic.Kind != DiagnosticHostError {
		t.Errorf("verdict = %+v", v)
	}
}

func TestHost_InvalidLimits(t *testing.T) {
	h := NewHandle("c", FormatNative, "", constant(true))
	_, err := NewHost().Evaluate(context.Background(), h, record.Record{}, Limits{MaxMemoryBytes: -1})
	if !errors.Is(err, ErrInvalidLimits) {
		t.Errorf("error = %v, want ErrInvalidLimits", err)
	}
}

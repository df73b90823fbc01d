package pipeline

import (
	"context"
	"iter"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/sieve/pkg/filter"
	"mercator-hq/sieve/pkg/predicate"
	"mercator-hq/sieve/pkg/record"
)

func handle(name string, fn func(record.Record) bool) *predicate.Handle {
	return predicate.NewHandle(name, predicate.FormatNative, name, predicate.RecordFunc(fn))
}

func counting(name string, calls *atomic.Int64, fn func(record.Record) bool) *predicate.Handle {
	return handle(name, func(r record.Record) bool {
		calls.Add(1)
		return fn(r)
	})
}

func failing(name string, err error) *predicate.Handle {
	return predicate.NewHandle(name, predicate.FormatNative, name, predicate.Func(
		func(context.Context, []byte) (predicate.RawResult, error) { return predicate.RawResult{}, err },
	))
}

func kindIs(k int64) func(record.Record) bool {
	return func(r record.Record) bool { return r.Kind == k }
}

type pair struct {
	rec record.Record
	res Result
}

func collect(seq iter.Seq2[record.Record, Result]) []pair {
	var out []pair
	for rec, res := range seq {
		out = append(out, pair{rec, res})
	}
	return out
}

func TestApply_AllKindFilter(t *testing.T) {
	r1 := record.Record{ID: "1", Kind: 1}
	r2 := record.Record{ID: "2", Kind: 2}

	got := collect(Apply(context.Background(), nil, record.Seq(r1, r2),
		[]*predicate.Handle{handle("kind1", kindIs(1))}, All))

	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].rec.ID != "1" || !got[0].res.Match {
		t.Errorf("first = (%s, %v), want (1, true)", got[0].rec.ID, got[0].res.Match)
	}
	if got[1].rec.ID != "2" || got[1].res.Match {
		t.Errorf("second = (%s, %v), want (2, false)", got[1].rec.ID, got[1].res.Match)
	}
}

func TestApply_ShortCircuit(t *testing.T) {
	tests := []struct {
		name      string
		combine   Combine
		first     bool
		second    bool
		want      bool
		wantThird int64
	}{
		{"any stops at first true", Any, false, true, true, 0},
		{"any continues on false", Any, false, false, true, 1},
		{"all stops at first false", All, true, false, false, 0},
		{"all continues on true", All, true, true, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var third atomic.Int64
			preds := []*predicate.Handle{
				handle("a", func(record.Record) bool { return tt.first }),
				handle("b", func(record.Record) bool { return tt.second }),
				counting("c", &third, func(record.Record) bool { return true }),
			}

			got := collect(Apply(context.Background(), nil, record.Seq(record.Record{ID: "x"}), preds, tt.combine))
			if len(got) != 1 {
				t.Fatalf("got %d results", len(got))
			}
			if got[0].res.Match != tt.want {
				t.Errorf("Match = %v, want %v", got[0].res.Match, tt.want)
			}
			if third.Load() != tt.wantThird {
				t.Errorf("third predicate invoked %d times, want %d", third.Load(), tt.wantThird)
			}
			if n := len(got[0].res.Evaluations); n != 2+int(tt.wantThird) {
				t.Errorf("evaluations = %d", n)
			}
		})
	}
}

func TestApply_AnyNeverInvokesAfterTrue(t *testing.T) {
	var calls atomic.Int64
	preds := []*predicate.Handle{
		handle("false", func(record.Record) bool { return false }),
		handle("true", func(record.Record) bool { return true }),
		counting("trap", &calls, func(record.Record) bool { panic("must not run") }),
	}
	for _, res := range Apply(context.Background(), nil, record.Seq(record.Record{}, record.Record{}), preds, Any) {
		if !res.Match {
			t.Error("expected match")
		}
	}
	if calls.Load() != 0 {
		t.Errorf("third predicate invoked %d times", calls.Load())
	}
}

func TestApply_EmptyPredicateList(t *testing.T) {
	recs := record.Seq(record.Record{ID: "a"})
	for _, res := range Apply(context.Background(), nil, recs, nil, All) {
		if !res.Match {
			t.Error("all over no predicates should accept")
		}
	}
	for _, res := range Apply(context.Background(), nil, recs, nil, Any) {
		if res.Match {
			t.Error("any over no predicates should reject")
		}
	}
}

func TestApply_FailureIsolation(t *testing.T) {
	exceeded := predicate.NewHandle("budget", predicate.FormatNative, "budget", predicate.Func(
		func(_ context.Context, payload []byte) (predicate.RawResult, error) {
			r, _ := record.Unmarshal(payload)
			if r.ID == "1" {
				return predicate.RawResult{}, predicate.Exceeded(predicate.ResourceInstructions, "exceeded 10")
			}
			return predicate.BoolResult(true), nil
		},
	))

	got := collect(Apply(context.Background(), nil,
		record.Seq(record.Record{ID: "1"}, record.Record{ID: "2"}),
		[]*predicate.Handle{exceeded}, All))

	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	first := got[0].res
	if first.Match {
		t.Error("breached record should be rejected")
	}
	if len(first.Diagnostics) != 1 || first.Diagnostics[0].Kind != predicate.DiagnosticResourceExceeded {
		t.Errorf("diagnostics = %v", first.Diagnostics)
	}
	if first.Diagnostics[0].Predicate != "budget" {
		t.Errorf("diagnostic predicate = %q", first.Diagnostics[0].Predicate)
	}
	if first.Evaluations[0].Err == nil {
		t.Error("evaluation error not recorded")
	}
	if !got[1].res.Match {
		t.Error("second record should still be evaluated and accepted")
	}
}

func TestApply_TrapUnderAnyFallsThrough(t *testing.T) {
	preds := []*predicate.Handle{
		failing("trap", predicate.Trap("unreachable", nil)),
		handle("ok", func(record.Record) bool { return true }),
	}
	got := collect(Apply(context.Background(), nil, record.Seq(record.Record{}), preds, Any))
	if !got[0].res.Match {
		t.Error("trap in first predicate should not prevent the second from accepting")
	}
	if len(got[0].res.Diagnostics) != 1 || got[0].res.Diagnostics[0].Kind != predicate.DiagnosticExecutionTrap {
		t.Errorf("diagnostics = %v", got[0].res.Diagnostics)
	}
}

func TestApply_Lazy(t *testing.T) {
	var pulled int
	records := func(yield func(record.Record) bool) {
		for i := range 100 {
			pulled++
			if !yield(record.Record{Kind: int64(i)}) {
				return
			}
		}
	}

	var n int
	for range Apply(context.Background(), nil, records, []*predicate.Handle{handle("t", kindIs(0))}, All) {
		n++
		if n == 3 {
			break
		}
	}
	if pulled != 3 {
		t.Errorf("pulled %d records, want 3", pulled)
	}
}

func TestApply_Restartable(t *testing.T) {
	seq := Apply(context.Background(), nil,
		record.Seq(record.Record{Kind: 1}, record.Record{Kind: 2}, record.Record{Kind: 1}),
		[]*predicate.Handle{handle("k", kindIs(1))}, All)

	first := collect(seq)
	second := collect(seq)
	if len(first) != 3 || len(second) != 3 {
		t.Fatalf("lengths = %d, %d", len(first), len(second))
	}
	for i := range first {
		if first[i].res.Match != second[i].res.Match {
			t.Errorf("result %d differs between runs", i)
		}
	}
}

func TestApply_ParallelPreservesOrder(t *testing.T) {
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(1))
	jitter := func() time.Duration {
		mu.Lock()
		defer mu.Unlock()
		return time.Duration(rng.Intn(2000)) * time.Microsecond
	}

	slow := predicate.NewHandle("slow", predicate.FormatNative, "slow", reentrantFunc(
		func(_ context.Context, payload []byte) (predicate.RawResult, error) {
			time.Sleep(jitter())
			r, _ := record.Unmarshal(payload)
			return predicate.BoolResult(r.Kind%2 == 0), nil
		},
	))

	var recs []record.Record
	for i := range 101 {
		recs = append(recs, record.Record{Kind: int64(i)})
	}

	p := New(nil, WithWorkers(8))
	got := collect(p.Apply(context.Background(), record.Seq(recs...), []*predicate.Handle{slow}, All))
	if len(got) != len(recs) {
		t.Fatalf("got %d results, want %d", len(got), len(recs))
	}
	for i, g := range got {
		if g.rec.Kind != int64(i) {
			t.Fatalf("position %d holds kind %d", i, g.rec.Kind)
		}
		if g.res.Match != (i%2 == 0) {
			t.Errorf("kind %d: Match = %v", i, g.res.Match)
		}
	}
}

type reentrantFunc predicate.Func

func (f reentrantFunc) Invoke(ctx context.Context, payload []byte, _ predicate.Limits) (predicate.RawResult, error) {
	return f(ctx, payload)
}
func (f reentrantFunc) Close(context.Context) error { return nil }
func (f reentrantFunc) Reentrant() bool             { return true }

func TestApply_PrefilterAndLimit(t *testing.T) {
	var calls atomic.Int64
	pred := counting("any", &calls, func(record.Record) bool { return true })

	f := &filter.Filter{Kinds: []int64{1}, Limit: 2}
	p := New(nil, WithPrefilter(f))

	recs := record.Seq(
		record.Record{ID: "a", Kind: 1},
		record.Record{ID: "b", Kind: 7},
		record.Record{ID: "c", Kind: 1},
		record.Record{ID: "d", Kind: 1},
	)
	got := collect(p.Apply(context.Background(), recs, []*predicate.Handle{pred}, All))

	if len(got) != 3 {
		t.Fatalf("got %d results, want 3 (stop after limit)", len(got))
	}
	if got[1].res.Match || got[1].res.Diagnostics[0].Kind != predicate.DiagnosticPrefilterRejected {
		t.Errorf("kind 7 should be rejected by prefilter, got %+v", got[1].res)
	}
	if calls.Load() != 2 {
		t.Errorf("predicate invoked %d times, want 2", calls.Load())
	}
}

type recordingReporter struct {
	mu   sync.Mutex
	seen []string
}

func (r *recordingReporter) Report(_ context.Context, rec record.Record, _ Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, rec.ID)
}

func TestApply_Reporter(t *testing.T) {
	rep := &recordingReporter{}
	p := New(nil, WithReporter(rep), WithWorkers(3))

	recs := record.Seq(record.Record{ID: "1"}, record.Record{ID: "2"}, record.Record{ID: "3"})
	for range p.Apply(context.Background(), recs, nil, All) {
	}

	if len(rep.seen) != 3 || rep.seen[0] != "1" || rep.seen[2] != "3" {
		t.Errorf("reported = %v", rep.seen)
	}
}

func TestReporters_FanOut(t *testing.T) {
	a, b := &recordingReporter{}, &recordingReporter{}
	rep := Reporters(a, nil, b)

	rep.Report(context.Background(), record.Record{ID: "x"}, Result{})

	if len(a.seen) != 1 || len(b.seen) != 1 {
		t.Errorf("a = %v, b = %v", a.seen, b.seen)
	}
}

func TestApply_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	records := func(yield func(record.Record) bool) {
		for i := 0; ; i++ {
			if i == 5 {
				cancel()
			}
			if !yield(record.Record{Kind: int64(i)}) {
				return
			}
		}
	}

	n := 0
	for range Apply(ctx, nil, records, nil, All) {
		n++
	}
	if n != 5 {
		t.Errorf("yielded %d records before cancellation, want 5", n)
	}
}

func TestApply_CancelledDuringEvaluation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pred := handle("cancels", func(r record.Record) bool {
		if r.ID == "2" {
			cancel()
		}
		return true
	})
	rep := &recordingReporter{}
	p := New(nil, WithReporter(rep))

	recs := record.Seq(record.Record{ID: "1"}, record.Record{ID: "2"}, record.Record{ID: "3"})
	got := collect(p.Apply(ctx, recs, []*predicate.Handle{pred}, All))

	if len(got) != 1 || got[0].rec.ID != "1" {
		t.Errorf("yielded %d records, want only record 1", len(got))
	}
	if len(rep.seen) != 1 || rep.seen[0] != "1" {
		t.Errorf("reported = %v, want [1]", rep.seen)
	}
}

func TestApply_HandlePrefilter(t *testing.T) {
	var calls atomic.Int64
	pred := counting("notes", &calls, func(record.Record) bool { return true })
	pred.SetPrefilter(&filter.Filter{Kinds: []int64{1}})

	recs := record.Seq(record.Record{ID: "1", Kind: 1}, record.Record{ID: "2", Kind: 2})
	got := collect(Apply(context.Background(), nil, recs, []*predicate.Handle{pred}, All))

	if !got[0].res.Match {
		t.Error("kind 1 should pass the handle prefilter")
	}
	res := got[1].res
	if res.Match {
		t.Error("kind 2 should be rejected by the handle prefilter")
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Kind != predicate.DiagnosticPrefilterRejected || res.Diagnostics[0].Predicate != "notes" {
		t.Errorf("diagnostics = %v", res.Diagnostics)
	}
	if len(res.Evaluations) != 1 || res.Evaluations[0].Predicate != "notes" {
		t.Errorf("evaluations = %+v", res.Evaluations)
	}
	if calls.Load() != 1 {
		t.Errorf("module invoked %d times, want 1", calls.Load())
	}
}

func TestApply_NilHandle(t *testing.T) {
	got := collect(Apply(context.Background(), nil, record.Seq(record.Record{ID: "1"}),
		[]*predicate.Handle{nil}, Any))

	res := got[0].res
	if res.Match {
		t.Error("nil handle should not accept")
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Kind != predicate.DiagnosticHostError {
		t.Errorf("diagnostics = %v", res.Diagnostics)
	}
	if len(res.Evaluations) != 1 || res.Evaluations[0].Err == nil {
		t.Errorf("evaluations = %+v", res.Evaluations)
	}
}

func TestApply_UnknownCombine(t *testing.T) {
	got := collect(Apply(context.Background(), nil, record.Seq(record.Record{}), nil, Combine("xor")))
	if got[0].res.Match {
		t.Error("unknown combine mode should reject")
	}
	if len(got[0].res.Diagnostics) != 1 || got[0].res.Diagnostics[0].Kind != predicate.DiagnosticHostError {
		t.Errorf("diagnostics = %v", got[0].res.Diagnostics)
	}
}

func TestParseCombine(t *testing.T) {
	for in, want := range map[string]Combine{"all": All, "ANY": Any, "Any": Any} {
		got, err := ParseCombine(in)
		if err != nil || got != want {
			t.Errorf("ParseCombine(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseCombine("both"); err == nil {
		t.Error("expected error")
	}
}

func TestMatches(t *testing.T) {
	seq := Apply(context.Background(), nil,
		record.Seq(record.Record{ID: "a", Kind: 1}, record.Record{ID: "b", Kind: 2}, record.Record{ID: "c", Kind: 1}),
		[]*predicate.Handle{handle("k", kindIs(1))}, All)

	var ids []string
	for r := range Matches(seq) {
		ids = append(ids, r.ID)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "c" {
		t.Errorf("Matches = %v", ids)
	}
}

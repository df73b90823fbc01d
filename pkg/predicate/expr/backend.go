// Package expr runs predicates written as CEL expressions. A module is a
// YAML manifest naming the expression that implements each export:
//
//	name: long-form
//	description: articles only
//	exports:
//	  is_valid_event: record.kind == 30023 && size(record.content) > 0
//
// The variable record holds the boundary fields of the evaluated record:
// id, author, created_at, kind, tags, content and signature.
package expr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"
	"gopkg.in/yaml.v3"

	"mercator-hq/sieve/pkg/predicate"
	"mercator-hq/sieve/pkg/record"
)

// ErrInvalidConfig indicates invalid backend configuration.
var ErrInvalidConfig = errors.New("invalid expr backend configuration")

// Manifest is the module format understood by the backend.
type Manifest struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Exports     map[string]string `yaml:"exports"`
}

// Config configures the expression backend.
type Config struct {
	// EntryPoint is the export evaluated per record.
	// Default: "is_valid_event".
	EntryPoint string

	// InterruptCheckFrequency is how many comprehension iterations run
	// between deadline checks. Default: 100.
	InterruptCheckFrequency uint

	// MaxExpressionLength bounds the source length of an export.
	// Default: 16384.
	MaxExpressionLength int
}

// DefaultConfig returns the default backend configuration.
func DefaultConfig() Config {
	return Config{
		EntryPoint:              "is_valid_event",
		InterruptCheckFrequency: 100,
		MaxExpressionLength:     16 << 10,
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.EntryPoint == "" {
		return fmt.Errorf("%w: entry point is required", ErrInvalidConfig)
	}
	if c.InterruptCheckFrequency == 0 {
		return fmt.Errorf("%w: interrupt check frequency must be positive", ErrInvalidConfig)
	}
	if c.MaxExpressionLength <= 0 {
		return fmt.Errorf("%w: max expression length must be positive", ErrInvalidConfig)
	}
	return nil
}

// Backend compiles expression manifests.
type Backend struct {
	cfg    Config
	env    *cel.Env
	logger *slog.Logger
}

// NewBackend creates an expression backend.
func NewBackend(cfg Config, logger *slog.Logger) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Backend{
		cfg:    cfg,
		env:    env,
		logger: logger.With("component", "predicate.expr"),
	}, nil
}

// Format returns predicate.FormatExpr.
func (b *Backend) Format() predicate.Format { return predicate.FormatExpr }

// Detect reports whether module is a YAML mapping with an exports key.
func (b *Backend) Detect(module []byte) bool {
	if len(bytes.TrimSpace(module)) == 0 || bytes.HasPrefix(module, []byte{0x00}) {
		return false
	}
	var probe map[string]any
	if err := yaml.Unmarshal(module, &probe); err != nil {
		return false
	}
	_, ok := probe["exports"]
	return ok
}

// Compile type-checks the entry point expression.
func (b *Backend) Compile(_ context.Context, name string, module []byte) (predicate.Module, error) {
	var man Manifest
	if err := yaml.Unmarshal(module, &man); err != nil {
		return nil, predicate.Malformed(name, "parse manifest", err)
	}

	src, ok := man.Exports[b.cfg.EntryPoint]
	if !ok {
		return nil, predicate.MissingEntryPoint(name, b.cfg.EntryPoint)
	}
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, predicate.Malformed(name, fmt.Sprintf("export %q is empty", b.cfg.EntryPoint), nil)
	}
	if len(src) > b.cfg.MaxExpressionLength {
		return nil, predicate.Malformed(name,
			fmt.Sprintf("export %q is %d bytes, limit %d", b.cfg.EntryPoint, len(src), b.cfg.MaxExpressionLength), nil)
	}

	ast, issues := b.env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, predicate.Malformed(name, "CEL compile error", issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, predicate.SignatureMismatch(name, b.cfg.EntryPoint, "bool", out.String())
	}

	b.logger.Debug("expression compiled", "module", name, "manifest", man.Name)
	return &exprModule{
		backend:  b,
		ast:      ast,
		programs: make(map[uint64]cel.Program),
	}, nil
}

// Close is a no-op; expression modules hold no external resources.
func (b *Backend) Close(context.Context) error { return nil }

type exprModule struct {
	backend *Backend
	ast     *cel.Ast

	mu       sync.Mutex
	programs map[uint64]cel.Program // keyed by cost limit
}

func (m *exprModule) Reentrant() bool { return true }

func (m *exprModule) program(costLimit uint64) (cel.Program, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p, ok := m.programs[costLimit]; ok {
		return p, nil
	}
	opts := []cel.ProgramOption{cel.InterruptCheckFrequency(m.backend.cfg.InterruptCheckFrequency)}
	if costLimit > 0 {
		opts = append(opts, cel.CostLimit(costLimit))
	}
	p, err := m.backend.env.Program(m.ast, opts...)
	if err != nil {
		return nil, err
	}
	m.programs[costLimit] = p
	return p, nil
}

// Invoke decodes payload and evaluates the entry point against it.
func (m *exprModule) Invoke(ctx context.Context, payload []byte, limits predicate.Limits) (predicate.RawResult, error) {
	if limits.MaxMemoryBytes > 0 && int64(len(payload)) > limits.MaxMemoryBytes {
		return predicate.RawResult{}, predicate.Exceeded(predicate.ResourceMemory,
			fmt.Sprintf("payload of %d bytes exceeds %d", len(payload), limits.MaxMemoryBytes))
	}

	rec, err := record.Unmarshal(payload)
	if err != nil {
		return predicate.RawResult{}, predicate.Trap("decode payload", err)
	}

	prg, err := m.program(limits.MaxInstructions)
	if err != nil {
		return predicate.RawResult{}, predicate.Trap("plan program", err)
	}

	out, _, err := prg.ContextEval(ctx, map[string]any{"record": activation(rec)})
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return predicate.RawResult{}, predicate.Exceeded(predicate.ResourceWallTime, fmt.Sprintf("exceeded %v", limits.MaxWallTime))
		case ctx.Err() != nil:
			return predicate.RawResult{}, ctx.Err()
		case strings.Contains(err.Error(), "cost limit exceeded"):
			return predicate.RawResult{}, predicate.Exceeded(predicate.ResourceInstructions,
				fmt.Sprintf("exceeded cost %d", limits.MaxInstructions))
		default:
			return predicate.RawResult{}, predicate.Trap("evaluation failed", err)
		}
	}

	if v, ok := out.Value().(bool); ok {
		return predicate.BoolResult(v), nil
	}
	return predicate.MalformedResult(fmt.Sprintf("%s %v", out.Type(), out.Value())), nil
}

func (m *exprModule) Close(context.Context) error { return nil }

func activation(r record.Record) map[string]any {
	tags := r.Tags
	if tags == nil {
		tags = [][]string{}
	}
	return map[string]any{
		"id":         r.ID,
		"author":     r.Author,
		"created_at": r.CreatedAt,
		"kind":       r.Kind,
		"tags":       tags,
		"content":    r.Content,
		"signature":  r.Signature,
	}
}

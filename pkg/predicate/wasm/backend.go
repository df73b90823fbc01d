package wasm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"mercator-hq/sieve/pkg/predicate"
)

var magic = []byte{0x00, 'a', 's', 'm'}

var (
	entrySignature = signature{params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, results: []api.ValueType{api.ValueTypeI32}}
	allocSignature = signature{params: []api.ValueType{api.ValueTypeI32}, results: []api.ValueType{api.ValueTypeI32}}
	initSignature  = signature{}
)

// Backend compiles WebAssembly predicates into a shared wazero runtime.
//
// The runtime is deny-by-default: only wasi_snapshot_preview1 is linked, and
// instances get no filesystem, environment, arguments or stdio. Clocks and
// randomness are wazero's deterministic defaults.
type Backend struct {
	cfg     Config
	runtime wazero.Runtime
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewBackend creates a backend with its own runtime.
func NewBackend(ctx context.Context, cfg Config, logger *slog.Logger) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	var rc wazero.RuntimeConfig
	if cfg.Metering {
		rc = wazero.NewRuntimeConfigInterpreter()
	} else {
		rc = wazero.NewRuntimeConfig()
	}
	rc = rc.
		WithMemoryLimitPages(cfg.MemoryLimitPages).
		WithCloseOnContextDone(true)

	r := wazero.NewRuntimeWithConfig(ctx, rc)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}

	return &Backend{
		cfg:     cfg,
		runtime: r,
		logger:  logger.With("component", "predicate.wasm"),
	}, nil
}

// Format returns predicate.FormatWASM.
func (b *Backend) Format() predicate.Format { return predicate.FormatWASM }

// Detect reports whether module starts with the WebAssembly magic number.
func (b *Backend) Detect(module []byte) bool { return bytes.HasPrefix(module, magic) }

// Compile validates the module's imports and exports, then performs one
// probe instantiation so that link and init failures surface at load time.
func (b *Backend) Compile(ctx context.Context, name string, module []byte) (predicate.Module, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, predicate.Malformed(name, "backend closed", nil)
	}

	cctx := ctx
	if b.cfg.Metering {
		cctx = experimental.WithFunctionListenerFactory(ctx, meterFactory{})
	}

	compiled, err := b.runtime.CompileModule(cctx, module)
	if err != nil {
		return nil, predicate.Malformed(name, "compile", err)
	}

	m := &wasmModule{backend: b, name: name, compiled: compiled}
	if err := b.validate(name, compiled); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}
	if err := m.probe(ctx); err != nil {
		_ = compiled.Close(ctx)
		return nil, predicate.Malformed(name, "initialization failed", err)
	}

	b.logger.Debug("module compiled",
		"module", name,
		"exports", len(compiled.ExportedFunctions()),
		"imports", len(compiled.ImportedFunctions()),
	)
	return m, nil
}

func (b *Backend) validate(name string, compiled wazero.CompiledModule) error {
	for _, def := range compiled.ImportedFunctions() {
		mod, fn, _ := def.Import()
		if mod != wasi_snapshot_preview1.ModuleName {
			return predicate.Malformed(name, fmt.Sprintf("unsupported import %s.%s", mod, fn), nil)
		}
	}
	if imported := compiled.ImportedMemories(); len(imported) > 0 {
		mod, mem, _ := imported[0].Import()
		return predicate.Malformed(name, fmt.Sprintf("unsupported memory import %s.%s", mod, mem), nil)
	}

	fns := compiled.ExportedFunctions()
	if err := checkExport(name, fns, b.cfg.EntryPoint, entrySignature, true); err != nil {
		return err
	}
	if err := checkExport(name, fns, b.cfg.AllocExport, allocSignature, true); err != nil {
		return err
	}
	for _, export := range b.cfg.InitExports {
		if err := checkExport(name, fns, export, initSignature, false); err != nil {
			return err
		}
	}

	if _, ok := compiled.ExportedMemories()[b.cfg.MemoryExport]; !ok {
		return predicate.MissingEntryPoint(name, b.cfg.MemoryExport)
	}
	return nil
}

func checkExport(module string, fns map[string]api.FunctionDefinition, export string, want signature, required bool) error {
	def, ok := fns[export]
	if !ok {
		if required {
			return predicate.MissingEntryPoint(module, export)
		}
		return nil
	}
	got := signature{params: def.ParamTypes(), results: def.ResultTypes()}
	if !got.equal(want) {
		return predicate.SignatureMismatch(module, export, want.String(), got.String())
	}
	return nil
}

// Close closes the runtime and every module compiled by it.
func (b *Backend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.runtime.Close(ctx)
}

// wasmModule is a compiled predicate. Every invocation gets a fresh
// instance, so calls never share guest state and may run concurrently.
type wasmModule struct {
	backend  *Backend
	name     string
	compiled wazero.CompiledModule
}

func (m *wasmModule) Reentrant() bool { return true }

func (m *wasmModule) moduleConfig() wazero.ModuleConfig {
	// An empty name lets the same compiled module be instantiated
	// concurrently.
	return wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions(m.backend.cfg.InitExports...)
}

// probe instantiates the module once, running its init exports.
func (m *wasmModule) probe(ctx context.Context) error {
	limits := m.backend.cfg.ProbeLimits
	if limits.MaxWallTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limits.MaxWallTime)
		defer cancel()
	}
	var mt *meter
	if m.backend.cfg.Metering && limits.MaxInstructions > 0 {
		ctx, mt = withMeter(ctx, limits.MaxInstructions)
	}
	inst, err := m.backend.runtime.InstantiateModule(ctx, m.compiled, m.moduleConfig())
	if err != nil {
		return classify(err, mt, limits)
	}
	return inst.Close(context.Background())
}

// Invoke copies payload into a fresh instance and calls the entry point.
// Nothing but the i32 result leaves the instance.
func (m *wasmModule) Invoke(ctx context.Context, payload []byte, limits predicate.Limits) (predicate.RawResult, error) {
	if limits.MaxMemoryBytes > 0 && int64(len(payload)) > limits.MaxMemoryBytes {
		return predicate.RawResult{}, predicate.Exceeded(predicate.ResourceMemory,
			fmt.Sprintf("payload of %d bytes exceeds %d", len(payload), limits.MaxMemoryBytes))
	}

	var mt *meter
	if m.backend.cfg.Metering && limits.MaxInstructions > 0 {
		ctx, mt = withMeter(ctx, limits.MaxInstructions)
	}

	inst, err := m.backend.runtime.InstantiateModule(ctx, m.compiled, m.moduleConfig())
	if err != nil {
		return predicate.RawResult{}, classify(err, mt, limits)
	}
	defer func() { _ = inst.Close(context.Background()) }()

	mem := inst.ExportedMemory(m.backend.cfg.MemoryExport)
	if mem == nil {
		return predicate.RawResult{}, predicate.Trap("memory export missing after instantiation", nil)
	}
	if err := checkMemory(mem, limits); err != nil {
		return predicate.RawResult{}, err
	}

	res, err := inst.ExportedFunction(m.backend.cfg.AllocExport).Call(ctx, uint64(len(payload)))
	if err != nil {
		return predicate.RawResult{}, classify(err, mt, limits)
	}
	ptr := uint32(res[0])
	if !mem.Write(ptr, payload) {
		return predicate.RawResult{}, predicate.Trap(
			fmt.Sprintf("alloc returned out-of-bounds region [%d, %d) for memory of %d bytes", ptr, uint64(ptr)+uint64(len(payload)), mem.Size()), nil)
	}

	out, err := inst.ExportedFunction(m.backend.cfg.EntryPoint).Call(ctx, uint64(ptr), uint64(len(payload)))
	if err != nil {
		return predicate.RawResult{}, classify(err, mt, limits)
	}
	if err := checkMemory(mem, limits); err != nil {
		return predicate.RawResult{}, err
	}

	switch v := uint32(out[0]); v {
	case 0:
		return predicate.BoolResult(false), nil
	case 1:
		return predicate.BoolResult(true), nil
	default:
		return predicate.MalformedResult(fmt.Sprintf("i32 %d", int32(v))), nil
	}
}

// Close releases the compiled module.
func (m *wasmModule) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

func checkMemory(mem api.Memory, limits predicate.Limits) error {
	if limits.MaxMemoryBytes > 0 && int64(mem.Size()) > limits.MaxMemoryBytes {
		return predicate.Exceeded(predicate.ResourceMemory,
			fmt.Sprintf("memory of %d bytes exceeds %d", mem.Size(), limits.MaxMemoryBytes))
	}
	return nil
}

// classify maps a wazero error onto the evaluation taxonomy.
func classify(err error, mt *meter, limits predicate.Limits) error {
	if mt != nil && mt.exhausted {
		return predicate.Exceeded(predicate.ResourceInstructions,
			fmt.Sprintf("exceeded %d function calls", limits.MaxInstructions))
	}

	var exit *sys.ExitError
	if errors.As(err, &exit) {
		switch exit.ExitCode() {
		case sys.ExitCodeDeadlineExceeded:
			return predicate.Exceeded(predicate.ResourceWallTime, fmt.Sprintf("exceeded %v", limits.MaxWallTime))
		case sys.ExitCodeContextCanceled:
			return context.Canceled
		case exitCodeFuelExhausted:
			return predicate.Exceeded(predicate.ResourceInstructions,
				fmt.Sprintf("exceeded %d function calls", limits.MaxInstructions))
		default:
			return predicate.Trap(fmt.Sprintf("module exited with code %d", exit.ExitCode()), nil)
		}
	}
	return predicate.Trap("runtime fault", err)
}

type signature struct {
	params  []api.ValueType
	results []api.ValueType
}

func (s signature) equal(o signature) bool {
	return slices.Equal(s.params, o.params) && slices.Equal(s.results, o.results)
}

func (s signature) String() string {
	names := func(ts []api.ValueType) string {
		parts := make([]string, len(ts))
		for i, t := range ts {
			parts[i] = api.ValueTypeName(t)
		}
		return strings.Join(parts, ", ")
	}
	return fmt.Sprintf("(%s) -> (%s)", names(s.params), names(s.results))
}

// Package wasmtest assembles small WebAssembly binaries for tests so that
// predicate modules can be exercised without an external toolchain.
package wasmtest

// ValType is a WebAssembly value type.
type ValType byte

const (
	I32 ValType = 0x7f
	I64 ValType = 0x7e
)

// Instruction opcodes used by the canned modules.
const (
	OpUnreachable = 0x00
	OpIf          = 0x04
	OpEnd         = 0x0b
	OpReturn      = 0x0f
	OpDrop        = 0x1a
	OpI32Eq       = 0x46
	OpI32GtS      = 0x4a
	OpI32Add      = 0x6a
	OpI32Sub      = 0x6b
	OpI32DivS     = 0x6d
	OpI32ShrU     = 0x76
	blockEmpty    = 0x40
)

// Func is a function definition.
type Func struct {
	Params  []ValType
	Results []ValType
	Locals  []ValType

	// Body holds the instructions without the terminating end.
	Body []byte

	// Export names the function in the export section when non-empty.
	Export string
}

// Import is an imported function.
type Import struct {
	Module  string
	Name    string
	Params  []ValType
	Results []ValType
}

// Module describes a binary to assemble. Imported functions take the first
// function indices.
type Module struct {
	Imports []Import

	Funcs []Func

	// MemoryPages declares a memory with this minimum when non-zero.
	MemoryPages uint32

	// ExportMemory exports the memory as "memory".
	ExportMemory bool
}

// Bytes assembles m.
func (m Module) Bytes() []byte {
	out := []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}

	var types [][]byte
	for _, imp := range m.Imports {
		types = append(types, funcType(imp.Params, imp.Results))
	}
	for _, f := range m.Funcs {
		types = append(types, funcType(f.Params, f.Results))
	}
	out = append(out, section(1, vec(types))...)

	if len(m.Imports) > 0 {
		var imports [][]byte
		for i, imp := range m.Imports {
			entry := append(name(imp.Module), name(imp.Name)...)
			entry = append(entry, 0x00)
			entry = append(entry, uleb(uint32(i))...)
			imports = append(imports, entry)
		}
		out = append(out, section(2, vec(imports))...)
	}

	base := uint32(len(m.Imports))
	var funcs [][]byte
	for i := range m.Funcs {
		funcs = append(funcs, uleb(base+uint32(i)))
	}
	out = append(out, section(3, vec(funcs))...)

	if m.MemoryPages > 0 {
		mem := append([]byte{0x00}, uleb(m.MemoryPages)...)
		out = append(out, section(5, vec([][]byte{mem}))...)
	}

	var exports [][]byte
	if m.MemoryPages > 0 && m.ExportMemory {
		exports = append(exports, append(name("memory"), 0x02, 0x00))
	}
	for i, f := range m.Funcs {
		if f.Export == "" {
			continue
		}
		e := append(name(f.Export), 0x00)
		exports = append(exports, append(e, uleb(base+uint32(i))...))
	}
	out = append(out, section(7, vec(exports))...)

	var codes [][]byte
	for _, f := range m.Funcs {
		var locals [][]byte
		for _, l := range f.Locals {
			locals = append(locals, []byte{0x01, byte(l)})
		}
		body := vec(locals)
		body = append(body, f.Body...)
		body = append(body, OpEnd)
		codes = append(codes, append(uleb(uint32(len(body))), body...))
	}
	out = append(out, section(10, vec(codes))...)

	return out
}

// Ops concatenates instruction sequences.
func Ops(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// Op wraps single-byte opcodes.
func Op(codes ...byte) []byte { return codes }

// I32Const pushes v.
func I32Const(v int32) []byte { return append([]byte{0x41}, sleb(v)...) }

// LocalGet pushes local i.
func LocalGet(i uint32) []byte { return append([]byte{0x20}, uleb(i)...) }

// LocalTee stores to local i and keeps the value.
func LocalTee(i uint32) []byte { return append([]byte{0x22}, uleb(i)...) }

// Call calls function index i.
func Call(i uint32) []byte { return append([]byte{0x10}, uleb(i)...) }

// I32Load8U loads one byte at the address on the stack plus offset.
func I32Load8U(offset uint32) []byte { return append([]byte{0x2d, 0x00}, uleb(offset)...) }

// MemorySize pushes the memory size in pages.
func MemorySize() []byte { return []byte{0x3f, 0x00} }

// MemoryGrow grows memory by the page count on the stack.
func MemoryGrow() []byte { return []byte{0x40, 0x00} }

// Loop wraps body in a loop block with no result.
func Loop(body []byte) []byte {
	return Ops([]byte{0x03, blockEmpty}, body, []byte{OpEnd})
}

// If wraps body in an if block with no result.
func If(body []byte) []byte {
	return Ops([]byte{OpIf, blockEmpty}, body, []byte{OpEnd})
}

// Br branches to the enclosing block at depth.
func Br(depth uint32) []byte { return append([]byte{0x0c}, uleb(depth)...) }

func funcType(params, results []ValType) []byte {
	out := []byte{0x60}
	out = append(out, valTypes(params)...)
	return append(out, valTypes(results)...)
}

func valTypes(ts []ValType) []byte {
	out := uleb(uint32(len(ts)))
	for _, t := range ts {
		out = append(out, byte(t))
	}
	return out
}

func section(id byte, content []byte) []byte {
	out := append([]byte{id}, uleb(uint32(len(content)))...)
	return append(out, content...)
}

func vec(items [][]byte) []byte {
	out := uleb(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func name(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

func sleb(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

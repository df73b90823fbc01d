package wasmtest

// EntryPoint is the export name of the evaluation function.
const EntryPoint = "is_valid_event"

// PayloadOffset is where Alloc places the payload.
const PayloadOffset = 1024

// Alloc returns the alloc export: it grows memory until PayloadOffset+len
// fits and returns PayloadOffset.
func Alloc() Func {
	return Func{
		Params:  []ValType{I32},
		Results: []ValType{I32},
		Locals:  []ValType{I32},
		Body: Ops(
			LocalGet(0), I32Const(PayloadOffset+65535), Op(OpI32Add),
			I32Const(16), Op(OpI32ShrU),
			MemorySize(), Op(OpI32Sub),
			LocalTee(1), I32Const(0), Op(OpI32GtS),
			If(Ops(LocalGet(1), MemoryGrow(), Op(OpDrop))),
			I32Const(PayloadOffset),
		),
		Export: "alloc",
	}
}

// Entry returns an is_valid_event(ptr, len) -> i32 function with body.
func Entry(body []byte) Func {
	return Func{
		Params:  []ValType{I32, I32},
		Results: []ValType{I32},
		Body:    body,
		Export:  EntryPoint,
	}
}

// Predicate assembles a module exporting memory, alloc and an entry point
// with body. Extra functions follow at indices 2, 3, ...
func Predicate(body []byte, extra ...Func) []byte {
	return Module{
		Funcs:        append([]Func{Alloc(), Entry(body)}, extra...),
		MemoryPages:  1,
		ExportMemory: true,
	}.Bytes()
}

// Constant returns a module whose entry point always returns v.
func Constant(v int32) []byte {
	return Predicate(I32Const(v))
}

// FirstByteIs returns a module that matches when the payload starts with c.
func FirstByteIs(c byte) []byte {
	return Predicate(Ops(LocalGet(0), I32Load8U(0), I32Const(int32(c)), Op(OpI32Eq)))
}

// Trap returns a module whose entry point executes unreachable.
func Trap() []byte {
	return Predicate(Op(OpUnreachable))
}

// DivideByZero returns a module whose entry point traps on i32.div_s.
func DivideByZero() []byte {
	return Predicate(Ops(I32Const(1), I32Const(0), Op(OpI32DivS)))
}

// Recurse returns a module whose entry point calls itself forever.
func Recurse() []byte {
	return Predicate(Ops(LocalGet(0), LocalGet(1), Call(1)))
}

// CallLoop returns a module that calls an empty function in an endless loop.
func CallLoop() []byte {
	return Predicate(Ops(Loop(Ops(Call(2), Br(0))), I32Const(0)), Func{})
}

// Spin returns a module that loops forever without calling anything.
func Spin() []byte {
	return Predicate(Ops(Loop(Br(0)), I32Const(0)))
}

// Grow returns a module that grows memory by pages and returns true.
func Grow(pages int32) []byte {
	return Predicate(Ops(I32Const(pages), MemoryGrow(), Op(OpDrop), I32Const(1)))
}

// WithInit returns a constant-true module that also exports pre_validate
// with body.
func WithInit(body []byte) []byte {
	return Predicate(I32Const(1), Func{Body: body, Export: "pre_validate"})
}

// MissingEntryPoint returns a module with memory and alloc but no entry point.
func MissingEntryPoint() []byte {
	return Module{Funcs: []Func{Alloc()}, MemoryPages: 1, ExportMemory: true}.Bytes()
}

// MissingMemory returns a module with alloc and an entry point but no
// exported memory.
func MissingMemory() []byte {
	return Module{Funcs: []Func{Alloc(), Entry(I32Const(1))}, MemoryPages: 1}.Bytes()
}

// WrongSignature returns a module whose entry point takes no parameters.
func WrongSignature() []byte {
	return Module{
		Funcs: []Func{
			Alloc(),
			{Results: []ValType{I32}, Body: I32Const(1), Export: EntryPoint},
		},
		MemoryPages:  1,
		ExportMemory: true,
	}.Bytes()
}

// WithImport returns a constant-true module that imports module.name as a
// () -> () function.
func WithImport(module, name string) []byte {
	return Module{
		Imports:      []Import{{Module: module, Name: name}},
		Funcs:        []Func{Alloc(), Entry(I32Const(1))},
		MemoryPages:  1,
		ExportMemory: true,
	}.Bytes()
}

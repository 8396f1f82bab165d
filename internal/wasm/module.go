// Package wasm holds the module IR this core consumes: the frozen output of
// a (not implemented here) Wasm binary parser. Types here are borrowed by
// the runtime for the lifetime of a run; nothing in this package mutates
// after a Module is constructed.
package wasm

import "github.com/taka231/wasm-jit/api"

// FunctionType is a function signature: ordered parameter and result value
// types.
type FunctionType struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// ExportKind distinguishes what an export name refers to. Only Func is
// meaningful to this core; other kinds exist so ExportKindMismatch can be
// raised the way a fuller implementation's export table would produce one.
type ExportKind byte

const (
	ExportKindFunc ExportKind = iota
	ExportKindTable
	ExportKindMemory
	ExportKindGlobal
)

func (k ExportKind) String() string {
	switch k {
	case ExportKindFunc:
		return "func"
	case ExportKindTable:
		return "table"
	case ExportKindMemory:
		return "memory"
	case ExportKindGlobal:
		return "global"
	default:
		return "unknown"
	}
}

// Export maps a name to an index within the kind's namespace.
type Export struct {
	Name  string
	Kind  ExportKind
	Index uint32
}

// Local is a run of `Count` locals all of the same value type, the shape
// the Wasm binary format stores locals in (to save space when many
// consecutive locals share a type).
type Local struct {
	Count uint32
	Type  api.ValueType
}

// Code is a defined function's body: its locals and its operator sequence.
type Code struct {
	Locals []Local
	Body   []Operator
}

// Module is the parsed, immutable input to the runtime.
type Module struct {
	// Types is the deduplicated table of function signatures.
	Types []FunctionType
	// Funcs maps function index -> type index, one entry per defined
	// function (this core has no imported functions).
	Funcs []uint32
	// Code maps function index -> body, same length as Funcs.
	Code []Code
	// Exports maps export name -> (kind, index).
	Exports []Export
}

// TypeOf returns the FunctionType of the defined function at funcIndex.
func (m *Module) TypeOf(funcIndex uint32) (FunctionType, bool) {
	if int(funcIndex) >= len(m.Funcs) {
		return FunctionType{}, false
	}
	typeIndex := m.Funcs[funcIndex]
	if int(typeIndex) >= len(m.Types) {
		return FunctionType{}, false
	}
	return m.Types[typeIndex], true
}

package wasm

import "github.com/taka231/wasm-jit/api"

// OperatorKind is the tag of the operator subset this core's generator
// accepts. Any operator outside this set is a translation failure
// (UnsupportedInstruction), not a parse-time concern.
type OperatorKind byte

const (
	OpLocalGet OperatorKind = iota
	OpI32Const
	OpI64Const
	OpI32Add
	OpI64Add
	OpI32Sub
	OpI64Sub
	OpI32Eq
	OpI64Eq
	OpIf
	OpElse
	OpEnd
	OpCall
)

func (k OperatorKind) String() string {
	switch k {
	case OpLocalGet:
		return "local.get"
	case OpI32Const:
		return "i32.const"
	case OpI64Const:
		return "i64.const"
	case OpI32Add:
		return "i32.add"
	case OpI64Add:
		return "i64.add"
	case OpI32Sub:
		return "i32.sub"
	case OpI64Sub:
		return "i64.sub"
	case OpI32Eq:
		return "i32.eq"
	case OpI64Eq:
		return "i64.eq"
	case OpIf:
		return "if"
	case OpElse:
		return "else"
	case OpEnd:
		return "end"
	case OpCall:
		return "call"
	default:
		return "unknown"
	}
}

// BlockType carries the parameter and result arity of an `if` block. This
// core only needs arities (not full types) since values are moved, not
// type-checked, at block boundaries.
type BlockType struct {
	Params  []api.ValueType
	Results []api.ValueType
}

func (b BlockType) ArityIn() int  { return len(b.Params) }
func (b BlockType) ArityOut() int { return len(b.Results) }

// Operator is one instruction in a function body. Only the fields relevant
// to Kind are populated; this mirrors wasmparser's tagged-union Operator
// the way the teacher's IR consumes it, simplified to a single struct since
// Go has no compact sum type for this.
type Operator struct {
	Kind OperatorKind

	// LocalGet, Call
	Index uint32

	// I32Const
	I32Value int32
	// I64Const
	I64Value int64

	// If
	Block BlockType
}

func LocalGet(index uint32) Operator  { return Operator{Kind: OpLocalGet, Index: index} }
func I32Const(v int32) Operator       { return Operator{Kind: OpI32Const, I32Value: v} }
func I64Const(v int64) Operator       { return Operator{Kind: OpI64Const, I64Value: v} }
func Call(funcIndex uint32) Operator  { return Operator{Kind: OpCall, Index: funcIndex} }
func If(block BlockType) Operator     { return Operator{Kind: OpIf, Block: block} }

var (
	I32Add = Operator{Kind: OpI32Add}
	I64Add = Operator{Kind: OpI64Add}
	I32Sub = Operator{Kind: OpI32Sub}
	I64Sub = Operator{Kind: OpI64Sub}
	I32Eq  = Operator{Kind: OpI32Eq}
	I64Eq  = Operator{Kind: OpI64Eq}
	Else   = Operator{Kind: OpElse}
	End    = Operator{Kind: OpEnd}
)

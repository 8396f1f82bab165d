// Package api holds the types that cross the boundary between the host
// process and the core: value types and values exchanged with JITed
// functions, independent of how a module was produced.
package api

import "fmt"

// ValueType is one of the four Wasm value types this core recognizes.
//
// Only i32/i64/f32/f64 are defined; any other encountered value type is a
// parse-time concern and never reaches the core.
type ValueType byte

const (
	ValueTypeI32 ValueType = iota
	ValueTypeI64
	ValueTypeF32
	ValueTypeF64
)

func (t ValueType) String() string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

// Value is a host-side Wasm value, packed losslessly into a 64-bit slot
// when it crosses into the native value stack.
type Value struct {
	vType ValueType
	bits  uint64
}

func I32(v int32) Value { return Value{vType: ValueTypeI32, bits: uint64(int64(v))} }
func I64(v int64) Value { return Value{vType: ValueTypeI64, bits: uint64(v)} }

func (v Value) Type() ValueType { return v.vType }

// I32Value returns the value as a signed 32-bit integer. Panics if Type() != ValueTypeI32.
func (v Value) I32Value() int32 {
	if v.vType != ValueTypeI32 {
		panic(fmt.Sprintf("value is %s, not i32", v.vType))
	}
	return int32(uint32(v.bits))
}

// I64Value returns the value as a signed 64-bit integer. Panics if Type() != ValueTypeI64.
func (v Value) I64Value() int64 {
	if v.vType != ValueTypeI64 {
		panic(fmt.Sprintf("value is %s, not i64", v.vType))
	}
	return int64(v.bits)
}

// Bits returns the raw 64-bit encoding used on the native value stack:
// i32 sign-extended, i64 verbatim, f32/f64 bit-cast (not used by this
// core's operator subset but kept for a complete Value implementation).
func (v Value) Bits() uint64 { return v.bits }

// ValueFromBits reconstructs a Value from a native-value-stack slot given
// its declared Wasm type.
func ValueFromBits(bits uint64, t ValueType) Value {
	switch t {
	case ValueTypeI32:
		return Value{vType: ValueTypeI32, bits: uint64(int64(int32(uint32(bits))))}
	case ValueTypeI64:
		return Value{vType: ValueTypeI64, bits: bits}
	default:
		// f32/f64 bit-cast: stored verbatim, Non-goal to interpret further.
		return Value{vType: t, bits: bits}
	}
}

func (v Value) String() string {
	switch v.vType {
	case ValueTypeI32:
		return fmt.Sprintf("i32:%d", v.I32Value())
	case ValueTypeI64:
		return fmt.Sprintf("i64:%d", v.I64Value())
	default:
		return fmt.Sprintf("%s:0x%x", v.vType, v.bits)
	}
}

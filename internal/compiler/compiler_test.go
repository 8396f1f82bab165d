package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taka231/wasm-jit/api"
	"github.com/taka231/wasm-jit/internal/asm/amd64"
	"github.com/taka231/wasm-jit/internal/wasm"
)

func TestVirtualStack_pushPopRoundTrip(t *testing.T) {
	v := newVirtualStack()
	v.pushImm(42)
	v.pushReg(amd64.RDI)

	top, ok := v.popTop()
	require.True(t, ok)
	assert.Equal(t, StackValueReg, top.Kind)
	assert.Equal(t, amd64.RDI, top.Reg)

	top, ok = v.popTop()
	require.True(t, ok)
	assert.Equal(t, StackValueImm, top.Kind)
	assert.EqualValues(t, 42, top.Imm)

	_, ok = v.popTop()
	assert.False(t, ok, "popping an empty stack must report false, not panic")
}

func TestVirtualStack_allocSpillsOldestWhenPoolExhausted(t *testing.T) {
	v := newVirtualStack()
	for range scratchPool {
		r, err := v.allocReg(func(StackValue) error { t.Fatal("pool is not exhausted yet"); return nil })
		require.NoError(t, err)
		v.pushReg(r)
	}

	var spilled []StackValue
	r, err := v.allocReg(func(sv StackValue) error {
		spilled = append(spilled, sv)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, spilled, 1, "exhausted pool must spill exactly the oldest entry to free one register")
	// allocReg hands out free registers LIFO, so the first entry pushed (the
	// stack's oldest/bottom) holds the last register in scratchPool.
	oldest := scratchPool[len(scratchPool)-1]
	assert.Equal(t, oldest, spilled[0].Reg, "the oldest pushed entry is the bottom of the stack")
	assert.Equal(t, oldest, r, "the freed register is handed straight back to the caller")
}

func TestVirtualStack_materializeAllResetsPoolAndClearsEntries(t *testing.T) {
	v := newVirtualStack()
	v.pushImm(1)
	v.pushReg(scratchPool[0])
	_, _ = v.allocReg(func(StackValue) error { return nil }) // shrink the free pool by one

	var spilled int
	err := v.materializeAll(func(StackValue) error {
		spilled++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, spilled)
	assert.Equal(t, 0, v.len())
	assert.Len(t, v.freeRegs, len(scratchPool), "materializeAll must restore the full pool, including registers allocReg had handed out")
}

func i64FuncType() wasm.FunctionType {
	return wasm.FunctionType{Results: []api.ValueType{api.ValueTypeI64}}
}

func newTestBuffer(t *testing.T) *CodeBuffer {
	t.Helper()
	buf, err := NewCodeBuffer(DefaultCodeBufferPages)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, buf.Release()) })
	return buf
}

func TestCompileFunction_smoke(t *testing.T) {
	module := &wasm.Module{
		Types: []wasm.FunctionType{i64FuncType()},
		Funcs: []uint32{0},
		Code: []wasm.Code{{Body: []wasm.Operator{
			wasm.I64Const(1),
			wasm.I64Const(2),
			wasm.I64Add,
			wasm.End,
		}}},
	}
	buf := newTestBuffer(t)
	entry, err := CompileFunction(buf, module, 0, 0)
	require.NoError(t, err)
	assert.NotZero(t, entry)
}

func TestCompileFunction_unknownFunctionIndex(t *testing.T) {
	module := &wasm.Module{Types: []wasm.FunctionType{i64FuncType()}, Funcs: []uint32{0}, Code: []wasm.Code{{}}}
	buf := newTestBuffer(t)
	_, err := CompileFunction(buf, module, 5, 0)
	assert.Error(t, err)
}

func TestCompileFunction_unclosedBlockIsRejected(t *testing.T) {
	module := &wasm.Module{
		Types: []wasm.FunctionType{i64FuncType()},
		Funcs: []uint32{0},
		Code: []wasm.Code{{Body: []wasm.Operator{
			wasm.I64Const(0),
			wasm.I64Const(0),
			wasm.I64Eq,
			wasm.If(wasm.BlockType{Results: []api.ValueType{api.ValueTypeI64}}),
			wasm.I64Const(1),
			// missing End for the if block and for the function itself
		}}},
	}
	buf := newTestBuffer(t)
	_, err := CompileFunction(buf, module, 0, 0)
	assert.Error(t, err)
}

func TestCompileFunction_mismatchedBlockArityIsRejected(t *testing.T) {
	module := &wasm.Module{
		Types: []wasm.FunctionType{i64FuncType()},
		Funcs: []uint32{0},
		Code: []wasm.Code{{Body: []wasm.Operator{
			wasm.I64Const(0),
			wasm.I64Const(0),
			wasm.I64Eq,
			// declares a block producing one i64 result but the body leaves nothing
			wasm.If(wasm.BlockType{Results: []api.ValueType{api.ValueTypeI64}}),
			wasm.End,
			wasm.End,
		}}},
	}
	buf := newTestBuffer(t)
	_, err := CompileFunction(buf, module, 0, 0)
	assert.ErrorIs(t, err, ErrUnsupportedBlockShape)
}

func TestCompileFunction_unsupportedInstruction(t *testing.T) {
	module := &wasm.Module{
		Types: []wasm.FunctionType{i64FuncType()},
		Funcs: []uint32{0},
		Code: []wasm.Code{{Body: []wasm.Operator{
			{Kind: wasm.OperatorKind(255)},
			wasm.End,
		}}},
	}
	buf := newTestBuffer(t)
	_, err := CompileFunction(buf, module, 0, 0)
	var unsupported *UnsupportedInstructionError
	assert.ErrorAs(t, err, &unsupported)
}

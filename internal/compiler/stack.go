package compiler

import "github.com/taka231/wasm-jit/internal/asm/amd64"

// scratchPool is the callee-usable register pool the virtual stack draws
// from, exactly the set spec.md §4.4 names.
var scratchPool = [...]amd64.Reg64{
	amd64.RDI, amd64.RSI, amd64.RDX, amd64.RCX, amd64.R8, amd64.R9, amd64.R10,
}

// StackValueKind tags a virtual-stack entry.
type StackValueKind byte

const (
	StackValueImm StackValueKind = iota
	StackValueReg
)

// StackValue is one entry of the register-allocating virtual stack: either
// a not-yet-materialized constant or a value currently resident in a
// scratch register.
type StackValue struct {
	Kind StackValueKind
	Imm  int64
	Reg  amd64.Reg64
}

// virtualStack is the deferred-materialisation view of the top of the
// operand stack (spec.md §4.4's CompileState.virtual_stack). Entries are
// ordered oldest (bottom) first, newest (top) last.
//
// This implementation fully materializes the virtual stack at every
// control-flow boundary (entering `if`, `else`, `end`, and any `call`),
// rather than threading symbolic state across branches. spec.md's Else
// rule calls for preserving a snapshot of virtual-stack state across the
// `if`/`else` split specifically so both arms see the same baseline; full
// materialization at the `if` itself trivially satisfies that (both arms
// start from an empty, purely memory-resident virtual stack), and is the
// same "materialise fully and copy from memory" design spec.md's own
// Design Notes recommend for the harder >7-result merge case. See
// DESIGN.md for the reasoning.
type virtualStack struct {
	entries  []StackValue
	freeRegs []amd64.Reg64
}

func newVirtualStack() *virtualStack {
	free := make([]amd64.Reg64, len(scratchPool))
	copy(free, scratchPool[:])
	return &virtualStack{freeRegs: free}
}

func (v *virtualStack) len() int { return len(v.entries) }

func (v *virtualStack) pushImm(val int64) {
	v.entries = append(v.entries, StackValue{Kind: StackValueImm, Imm: val})
}

func (v *virtualStack) pushReg(r amd64.Reg64) {
	v.entries = append(v.entries, StackValue{Kind: StackValueReg, Reg: r})
}

// popTop removes and returns the newest entry, if any.
func (v *virtualStack) popTop() (StackValue, bool) {
	if len(v.entries) == 0 {
		return StackValue{}, false
	}
	top := v.entries[len(v.entries)-1]
	v.entries = v.entries[:len(v.entries)-1]
	return top, true
}

// releaseReg returns r to the free pool (used once a value in r has been
// consumed, e.g. popped as an operator's operand).
func (v *virtualStack) releaseReg(r amd64.Reg64) {
	v.freeRegs = append(v.freeRegs, r)
}

// allocReg returns a free scratch register, spilling the oldest entries to
// the native value stack (via emitStore) if the pool is exhausted — rule 2
// of spec.md §4.4's virtual-stack policy: spill from the oldest until a
// register is freed.
func (v *virtualStack) allocReg(emitStore func(StackValue) error) (amd64.Reg64, error) {
	if len(v.freeRegs) > 0 {
		r := v.freeRegs[len(v.freeRegs)-1]
		v.freeRegs = v.freeRegs[:len(v.freeRegs)-1]
		return r, nil
	}
	for len(v.entries) > 0 {
		oldest := v.entries[0]
		v.entries = v.entries[1:]
		if err := emitStore(oldest); err != nil {
			return 0, err
		}
		if oldest.Kind == StackValueReg {
			return oldest.Reg, nil
		}
	}
	return 0, ErrUnsupportedBlockShape
}

// materializeAll spills every remaining entry to the native value stack in
// bottom-to-top order via emitStore, then restores the free-register pool
// to its full size (spec.md §4.4 rules 3 and 4).
func (v *virtualStack) materializeAll(emitStore func(StackValue) error) error {
	for _, e := range v.entries {
		if err := emitStore(e); err != nil {
			return err
		}
	}
	v.entries = nil
	free := make([]amd64.Reg64, len(scratchPool))
	copy(free, scratchPool[:])
	v.freeRegs = free
	return nil
}

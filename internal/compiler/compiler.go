package compiler

import (
	"fmt"

	"github.com/taka231/wasm-jit/internal/asm/amd64"
	"github.com/taka231/wasm-jit/internal/wasm"
)

// Dedicated registers held fixed for a compiled function's entire body.
// None of these are in scratchPool, so the virtual stack never allocates
// them for ordinary values. argBaseReg deliberately avoids R14: on amd64,
// Go's internal ABI keeps the goroutine pointer `g` cached in R14, and
// JITed code's `call` into bridgeEntry re-enters ordinary Go code
// (bridgeCallback) that expects that convention — see DESIGN.md's
// "Resolved risk: `argBaseReg` and Go's reserved `g` register" section.
const (
	sReg       = amd64.RBX // native value stack pointer ("S" in spec.md §4.4)
	argBaseReg = amd64.R13 // this call's argument base on the native value stack
	zeroReg    = amd64.R11 // holds 0 for the whole function; only `je`/`jmp` exist, so every
	// conditional branch is phrased as "compare against zeroReg, je to skip"
)

// emitter wraps CodeBuffer.Append with the sticky-error idiom so a long
// run of unconditional emits doesn't need an `if err != nil` after each one.
type emitter struct {
	buf *CodeBuffer
	err error
}

func (e *emitter) emit(code []byte) int {
	if e.err != nil {
		return -1
	}
	off, err := e.buf.Append(code)
	if err != nil {
		e.err = err
		return -1
	}
	return off
}

// CompileState is the per-function code generator, spec.md §4.4's
// CompileState — minus the virtual-stack snapshot/restore bookkeeping
// stack.go's doc comment explains this core doesn't need.
type CompileState struct {
	buf        *CodeBuffer
	module     *wasm.Module
	funcIndex  uint32
	fnType     wasm.FunctionType
	code       wasm.Code
	bridgeAddr uintptr
	selfEntry  uintptr

	em         *emitter
	vstack     *virtualStack
	labels     *labelStack
	stackCount int
	numParams  int
}

// CompileFunction translates module's function funcIndex into machine code
// appended to buf, returning its entry address. bridgeAddr is the address
// of the runtime's call_func_internal re-entry point (see
// BridgeEntryAddr), embedded as an immediate for every non-self Call.
func CompileFunction(buf *CodeBuffer, module *wasm.Module, funcIndex uint32, bridgeAddr uintptr) (uintptr, error) {
	fnType, ok := module.TypeOf(funcIndex)
	if !ok {
		return 0, fmt.Errorf("compiler: function %d: no type", funcIndex)
	}
	if int(funcIndex) >= len(module.Code) {
		return 0, fmt.Errorf("compiler: function %d: no code", funcIndex)
	}
	code := module.Code[funcIndex]

	entryOffset := buf.StartFunction()
	cs := &CompileState{
		buf:        buf,
		module:     module,
		funcIndex:  funcIndex,
		fnType:     fnType,
		code:       code,
		bridgeAddr: bridgeAddr,
		selfEntry:  buf.EntryAddress(entryOffset),
		em:         &emitter{buf: buf},
		vstack:     newVirtualStack(),
		labels:     newLabelStack(),
		numParams:  len(fnType.Params),
	}

	cs.prologue()
	for _, op := range code.Body {
		if err := cs.compileOp(op); err != nil {
			return 0, fmt.Errorf("compiler: function %d: %w", funcIndex, err)
		}
	}
	if cs.labels.depth() != 1 {
		return 0, fmt.Errorf("compiler: function %d: body ended without closing all blocks", funcIndex)
	}
	if cs.em.err != nil {
		return 0, fmt.Errorf("compiler: function %d: %w", funcIndex, cs.em.err)
	}
	return buf.EntryAddress(entryOffset), nil
}

func (cs *CompileState) declaredLocalsCount() int {
	n := 0
	for _, l := range cs.code.Locals {
		n += int(l.Count)
	}
	return n
}

// localOffset returns the rbp-relative address of local i (params first,
// then declared locals, in order), per spec.md §4.4's
// "rbp - (8*(LOCAL_BASE+1) + 8*i)" formula with LOCAL_BASE=1 (the one
// reserved slot for the saved runtime pointer).
func localOffset(i int) amd64.Mem {
	return amd64.Mem{Base: amd64.RBP, Disp: -int32(16 + 8*i)}
}

// prologue implements spec.md §4.4's five-step function entry: save the
// frame pointer, save the runtime pointer, copy arguments and zero
// declared locals into rbp-relative slots, fix 16-byte stack alignment,
// and move the incoming native stack pointer into the dedicated S
// register. It also computes this call's argument base (for the
// epilogue's result write-back) and zeroes the register every
// conditional branch compares against, since only `je`/`jmp` exist.
func (cs *CompileState) prologue() {
	e := cs.em
	nParams := cs.numParams
	nLocals := cs.declaredLocalsCount()

	e.emit(amd64.PushReg64(amd64.RBP))
	e.emit(amd64.MovReg64Reg64(amd64.RBP, amd64.RSP))
	e.emit(amd64.PushReg64(amd64.RDI)) // runtime pointer, now at [rbp-8]

	for i := 0; i < nParams; i++ {
		disp := -int32(8 * (nParams - i))
		e.emit(amd64.MovReg64Mem(amd64.RAX, amd64.Mem{Base: amd64.RSI, Disp: disp}))
		e.emit(amd64.PushReg64(amd64.RAX))
	}
	for i := 0; i < nLocals; i++ {
		e.emit(amd64.PushImm32(0))
	}

	// 1 (runtime pointer) + params + locals pushes since `push rbp`;
	// generalizes spec.md §4.4's "if argument count is odd, subtract 8"
	// to cover declared locals too (see DESIGN.md).
	if (1+nParams+nLocals)%2 == 1 {
		e.emit(amd64.AddReg64Imm32(amd64.RSP, -8))
	}

	e.emit(amd64.MovReg64Reg64(argBaseReg, amd64.RSI))
	e.emit(amd64.AddReg64Imm32(argBaseReg, -int32(8*nParams)))

	e.emit(amd64.MovReg64Reg64(sReg, amd64.RSI))
	e.emit(amd64.MovReg64Imm64(zeroReg, 0))
}

func (cs *CompileState) compileOp(op wasm.Operator) error {
	switch op.Kind {
	case wasm.OpLocalGet:
		return cs.compileLocalGet(op)
	case wasm.OpI32Const:
		cs.vstack.pushImm(int64(op.I32Value))
		cs.stackCount++
		return nil
	case wasm.OpI64Const:
		cs.vstack.pushImm(op.I64Value)
		cs.stackCount++
		return nil
	case wasm.OpI32Add:
		return cs.compileBinOp(amd64.AddReg32Reg32, nil)
	case wasm.OpI64Add:
		return cs.compileBinOp(nil, amd64.AddReg64Reg64)
	case wasm.OpI32Sub:
		return cs.compileBinOp(amd64.SubReg32Reg32, nil)
	case wasm.OpI64Sub:
		return cs.compileBinOp(nil, amd64.SubReg64Reg64)
	case wasm.OpI32Eq:
		return cs.compileEq(amd64.CmpReg32Reg32, nil)
	case wasm.OpI64Eq:
		return cs.compileEq(nil, amd64.CmpReg64Reg64)
	case wasm.OpIf:
		return cs.compileIf(op)
	case wasm.OpElse:
		return cs.compileElse()
	case wasm.OpEnd:
		return cs.compileEnd()
	case wasm.OpCall:
		return cs.compileCall(op)
	default:
		return newUnsupportedInstruction(op.Kind)
	}
}

func (cs *CompileState) compileLocalGet(op wasm.Operator) error {
	r, err := cs.vstack.allocReg(cs.emitSpill)
	if err != nil {
		return err
	}
	cs.em.emit(amd64.MovReg64Mem(r, localOffset(int(op.Index))))
	cs.vstack.pushReg(r)
	cs.stackCount++
	return nil
}

// emitSpill writes sv to the native value stack at the current S and
// advances S by 8 — used both by virtualStack.allocReg's spill path and by
// materializeAll.
func (cs *CompileState) emitSpill(sv StackValue) error {
	switch sv.Kind {
	case StackValueReg:
		cs.em.emit(amd64.MovMemReg64(amd64.Mem{Base: sReg}, sv.Reg))
	default:
		cs.em.emit(amd64.MovReg64Imm64(amd64.RAX, sv.Imm))
		cs.em.emit(amd64.MovMemReg64(amd64.Mem{Base: sReg}, amd64.RAX))
	}
	cs.em.emit(amd64.AddReg64Imm32(sReg, 8))
	return nil
}

func (cs *CompileState) materialize() error {
	return cs.vstack.materializeAll(cs.emitSpill)
}

// toReg returns sv's value in a scratch-pool register, materializing an
// immediate into a freshly allocated one if necessary.
func (cs *CompileState) toReg(sv StackValue) (amd64.Reg64, error) {
	if sv.Kind == StackValueReg {
		return sv.Reg, nil
	}
	r, err := cs.vstack.allocReg(cs.emitSpill)
	if err != nil {
		return 0, err
	}
	cs.em.emit(amd64.MovReg64Imm64(r, sv.Imm))
	return r, nil
}

// emitJe emits a placeholder `je rel32` and returns its patch site (the
// offset immediately after the 4-byte displacement field).
func (cs *CompileState) emitJe() int {
	off := cs.em.emit(amd64.Je(0))
	return off + 2 + amd64.RelDisplacementLen
}

// emitJmp emits a placeholder `jmp rel32` and returns its patch site.
func (cs *CompileState) emitJmp() int {
	off := cs.em.emit(amd64.Jmp(0))
	return off + 1 + amd64.RelDisplacementLen
}

// popReg pops the top operand into a register. When the virtual stack is
// empty this falls back to popping a slot already materialized on the
// native value stack (spec.md §4.4 rule 1: "only when it is empty is a
// slot popped from the machine's native value stack into a freshly
// allocated register") — the case a `call`'s result always hits, since
// compileCall leaves it resident in S-relative memory without ever
// re-pushing it onto vstack.
func (cs *CompileState) popReg() (amd64.Reg64, error) {
	sv, ok := cs.vstack.popTop()
	if ok {
		return cs.toReg(sv)
	}
	r, err := cs.vstack.allocReg(cs.emitSpill)
	if err != nil {
		return 0, err
	}
	cs.em.emit(amd64.AddReg64Imm32(sReg, -8))
	cs.em.emit(amd64.MovReg64Mem(r, amd64.Mem{Base: sReg}))
	return r, nil
}

// compileBinOp handles the four arithmetic binary operators. Exactly one
// of op32/op64 is non-nil depending on the operator's value type.
func (cs *CompileState) compileBinOp(op32 func(amd64.Reg32, amd64.Reg32) []byte, op64 func(amd64.Reg64, amd64.Reg64) []byte) error {
	rhs, err := cs.popReg()
	if err != nil {
		return err
	}
	lhs, err := cs.popReg()
	if err != nil {
		return err
	}
	if op64 != nil {
		cs.em.emit(op64(lhs, rhs))
	} else {
		cs.em.emit(op32(amd64.Reg32(lhs), amd64.Reg32(rhs)))
	}
	cs.vstack.releaseReg(rhs)
	cs.vstack.pushReg(lhs)
	cs.stackCount--
	return nil
}

// compileEq handles i32.eq/i64.eq. The result of `sete` can only target
// al/cl/dl/bl/ah/ch/dh/bh (registers.go's Reg8 deliberately excludes
// spl/bpl/sil/dil/r8b..r15b, which the virtual stack's scratch pool can
// easily hand out as lhs/rhs), so the comparison always routes its 0/1
// result through al, then copies it into a freshly allocated pool
// register rather than assuming lhs/rhs themselves have a byte form.
func (cs *CompileState) compileEq(op32 func(amd64.Reg32, amd64.Reg32) []byte, op64 func(amd64.Reg64, amd64.Reg64) []byte) error {
	rhs, err := cs.popReg()
	if err != nil {
		return err
	}
	lhs, err := cs.popReg()
	if err != nil {
		return err
	}
	if op64 != nil {
		cs.em.emit(op64(lhs, rhs))
	} else {
		cs.em.emit(op32(amd64.Reg32(lhs), amd64.Reg32(rhs)))
	}
	cs.em.emit(amd64.SeteReg8(amd64.AL))
	cs.em.emit(amd64.MovzxReg32Reg8(amd64.EAX, amd64.AL))
	cs.vstack.releaseReg(rhs)
	cs.vstack.releaseReg(lhs)

	r, err := cs.vstack.allocReg(cs.emitSpill)
	if err != nil {
		return err
	}
	cs.em.emit(amd64.MovReg64Reg64(r, amd64.RAX))
	cs.vstack.pushReg(r)
	cs.stackCount--
	return nil
}

func (cs *CompileState) compileIf(op wasm.Operator) error {
	// The condition must come off the virtual stack before materializing,
	// since materializing clears it.
	condReg, err := cs.popReg()
	if err != nil {
		return err
	}
	cs.stackCount--
	if err := cs.materialize(); err != nil {
		return err
	}
	// materialize already reset the free-register pool to its full size,
	// which implicitly reclaims condReg too — no separate release needed.
	cs.em.emit(amd64.CmpReg64Reg64(condReg, zeroReg))

	site := cs.emitJe()
	if cs.em.err != nil {
		return cs.em.err
	}
	cs.labels.push(&frame{
		kind:            frameIfEnd,
		block:           op.Block,
		stackCheckpoint: cs.stackCount,
		pendingJumps:    []int{site},
	})
	return nil
}

func (cs *CompileState) compileElse() error {
	top := cs.labels.top()
	if top.kind != frameIfEnd || top.sawElse {
		return ErrUnsupportedBlockShape
	}
	if err := cs.materialize(); err != nil {
		return err
	}
	jmpSite := cs.emitJmp()
	if cs.em.err != nil {
		return cs.em.err
	}

	// The original `je` skips to here — the else-branch's first
	// instruction — now that we know where that is.
	jeSite := top.pendingJumps[0]
	cs.buf.PatchRel32(jeSite, int32(cs.buf.Cursor()-jeSite))

	top.pendingJumps = []int{jmpSite}
	top.sawElse = true
	cs.stackCount = top.stackCheckpoint
	return nil
}

func (cs *CompileState) compileEnd() error {
	if cs.labels.depth() == 1 {
		return cs.compileFuncEnd()
	}
	top := cs.labels.top()
	if err := cs.materialize(); err != nil {
		return err
	}
	if cs.stackCount != top.stackCheckpoint+top.block.ArityOut() {
		return ErrUnsupportedBlockShape
	}
	for _, site := range top.pendingJumps {
		cs.buf.PatchRel32(site, int32(cs.buf.Cursor()-site))
	}
	cs.labels.pop()
	return nil
}

// compileFuncEnd closes the implicit function-level block: writes the
// function's results to the argument base, zeroes rax for the
// success-only path, and only then establishes the join point every
// Call's error check and every pending return jump to — so the error
// path skips both the result write-back and the zeroing, carrying
// whatever error handle it already set in rax straight to the restore
// sequence (spec.md §4.4's epilogue, "an error path sets rax to the
// error handle before the same epilogue sequence").
func (cs *CompileState) compileFuncEnd() error {
	if err := cs.materialize(); err != nil {
		return err
	}
	resultLen := len(cs.fnType.Results)
	for j := 0; j < resultLen; j++ {
		disp := -int32(8 * (resultLen - j))
		cs.em.emit(amd64.MovReg64Mem(amd64.R15, amd64.Mem{Base: sReg, Disp: disp}))
		cs.em.emit(amd64.MovMemReg64(amd64.Mem{Base: argBaseReg, Disp: int32(8 * j)}, amd64.R15))
	}
	cs.em.emit(amd64.MovReg32Imm32(amd64.EAX, 0))

	tail := cs.buf.Cursor()
	for _, site := range cs.labels.funcEnd().pendingJumps {
		cs.buf.PatchRel32(site, int32(tail-site))
	}

	cs.em.emit(amd64.MovReg64Reg64(amd64.RSP, amd64.RBP))
	cs.em.emit(amd64.PopReg64(amd64.RBP))
	cs.em.emit(amd64.Ret())
	return nil
}

// compileCall emits the spec.md §4.4/§4.5 call_func_internal sequence for
// a cross-function call, or a direct call to this function's own entry
// address for self-recursion. Every `call`, successful or not, is
// followed by a compare-and-skip against zeroReg: `je` past an
// unconditional `jmp` to the function-end join point, since only those
// two conditional/unconditional jump forms exist.
func (cs *CompileState) compileCall(op wasm.Operator) error {
	if err := cs.materialize(); err != nil {
		return err
	}
	calleeType, ok := cs.module.TypeOf(op.Index)
	if !ok {
		return fmt.Errorf("compiler: call to function %d: no type", op.Index)
	}
	paramsIn := len(calleeType.Params)
	paramsOut := len(calleeType.Results)

	// Both sReg and argBaseReg are live across the call (the callee's own
	// prologue resets both to its own S/argBase), so both must be saved and
	// restored, the same protection the runtime pointer gets at [rbp-8].
	// Pushing the pair (16 bytes) also preserves the 16-byte host stack
	// alignment spec.md §6 requires immediately before any native `call` —
	// a single push would leave it misaligned.
	cs.em.emit(amd64.PushReg64(sReg))
	cs.em.emit(amd64.PushReg64(argBaseReg))
	cs.em.emit(amd64.MovReg64Mem(amd64.RDI, amd64.Mem{Base: amd64.RBP, Disp: -8}))
	cs.em.emit(amd64.MovReg64Reg64(amd64.RSI, sReg))

	if op.Index == cs.funcIndex {
		cs.em.emit(amd64.MovReg64Imm64(amd64.RAX, int64(cs.selfEntry)))
	} else {
		cs.em.emit(amd64.MovReg32Imm32(amd64.EDX, int32(op.Index)))
		cs.em.emit(amd64.MovReg64Imm64(amd64.RAX, int64(cs.bridgeAddr)))
	}
	cs.em.emit(amd64.CallReg64(amd64.RAX))
	cs.em.emit(amd64.PopReg64(argBaseReg))
	cs.em.emit(amd64.PopReg64(sReg))

	cs.em.emit(amd64.CmpReg64Reg64(amd64.RAX, zeroReg))
	jeSite := cs.emitJe()
	jmpSite := cs.emitJmp()
	if cs.em.err != nil {
		return cs.em.err
	}
	cs.labels.funcEnd().pendingJumps = append(cs.labels.funcEnd().pendingJumps, jmpSite)
	cs.buf.PatchRel32(jeSite, int32(cs.buf.Cursor()-jeSite))

	cs.em.emit(amd64.AddReg64Imm32(sReg, int32(8*(paramsOut-paramsIn))))
	cs.stackCount += paramsOut - paramsIn
	return nil
}

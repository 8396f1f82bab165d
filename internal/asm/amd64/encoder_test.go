package amd64

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/arch/x86/x86asm"
)

// decode feeds code through the reference disassembler and returns the
// decoded instruction's string form, asserting the whole slice was
// consumed by exactly one instruction (our encoder never emits more than
// one instruction per call).
func decode(t *testing.T, code []byte) string {
	t.Helper()
	inst, err := x86asm.Decode(code, 64)
	require.NoError(t, err)
	require.Equal(t, len(code), inst.Len, "disassembled length must match emitted length")
	return x86asm.GNUSyntax(inst, 0, nil)
}

func TestPushReg64(t *testing.T) {
	require.Contains(t, decode(t, PushReg64(RAX)), "rax")
	require.Contains(t, decode(t, PushReg64(R15)), "r15")
}

func TestPopReg64(t *testing.T) {
	require.Contains(t, decode(t, PopReg64(RBX)), "rbx")
	require.Contains(t, decode(t, PopReg64(R8)), "r8")
}

func TestPushImm32_signExtensionBoundaries(t *testing.T) {
	for _, v := range []int32{-128, 127, -129, 128} {
		s := decode(t, PushImm32(v))
		require.Contains(t, s, "push")
	}
	// -128 and 127 fit the 8-bit immediate form (2-byte encoding).
	require.Len(t, PushImm32(-128), 2)
	require.Len(t, PushImm32(127), 2)
	// -129 and 128 need the 32-bit immediate form (5-byte encoding).
	require.Len(t, PushImm32(-129), 5)
	require.Len(t, PushImm32(128), 5)
}

func TestPushMem_sibOnRspAndR12(t *testing.T) {
	for _, base := range []Reg64{RSP, R12} {
		code := PushMem(Mem{Base: base, Disp: 16})
		s := decode(t, code)
		require.Contains(t, s, "push")
		// A SIB-requiring encoding is one byte longer than the equivalent
		// non-SIB form for every other base register.
		require.True(t, len(code) >= 4)
	}
}

func TestMovReg64Mem_forcedZeroDisplacementOnRbpAndR13(t *testing.T) {
	for _, base := range []Reg64{RBP, R13} {
		code := MovReg64Mem(RAX, Mem{Base: base, Disp: 0})
		s := decode(t, code)
		require.Contains(t, s, "mov")
		// mod=01 (8-bit forced displacement) always adds exactly one
		// displacement byte versus the mod=00 "no displacement" form.
		require.Contains(t, []int{4}, len(code))
	}
}

func TestRegistersR8ToR15_needRex(t *testing.T) {
	for r := R8; r <= R15; r++ {
		code := MovReg64Reg64(RAX, r)
		require.Equal(t, byte(0x48|0x04), code[0], "REX.W|REX.R expected for %s", r)
		decode(t, code)
	}
}

func TestMovReg64Reg64(t *testing.T) {
	s := decode(t, MovReg64Reg64(RCX, RDX))
	require.Contains(t, s, "mov")
	require.Contains(t, s, "rcx")
	require.Contains(t, s, "rdx")
}

func TestMovReg32Imm32(t *testing.T) {
	s := decode(t, MovReg32Imm32(EAX, 0x12345678))
	require.Contains(t, s, "mov")
}

func TestMovReg64Imm64(t *testing.T) {
	code := MovReg64Imm64(RAX, 0x0102030405060708)
	require.Len(t, code, 10)
	decode(t, code)
}

func TestMovReg64Mem_displacementForms(t *testing.T) {
	decode(t, MovReg64Mem(RAX, Mem{Base: RDI, Disp: 0}))
	decode(t, MovReg64Mem(RAX, Mem{Base: RDI, Disp: 100}))
	decode(t, MovReg64Mem(RAX, Mem{Base: RDI, Disp: 10000}))
}

func TestMovMemReg64(t *testing.T) {
	decode(t, MovMemReg64(Mem{Base: RSI, Disp: -8}, RAX))
}

func TestAddSubCmp(t *testing.T) {
	decode(t, AddReg64Reg64(RAX, RDI))
	decode(t, AddReg32Reg32(EAX, EDI))
	decode(t, SubReg64Reg64(RAX, RDI))
	decode(t, SubReg32Reg32(EAX, EDI))
	decode(t, CmpReg64Reg64(RAX, RDI))
	decode(t, CmpReg32Reg32(EAX, EDI))
}

func TestAddReg64Imm32(t *testing.T) {
	decode(t, AddReg64Imm32(RSP, -8))
}

func TestSeteMovzx(t *testing.T) {
	decode(t, SeteReg8(AL))
	decode(t, MovzxReg32Reg8(EAX, AL))
}

func TestJeJmp(t *testing.T) {
	decode(t, Je(0))
	decode(t, Jmp(100))
}

func TestPatchRel32(t *testing.T) {
	code := Je(0)
	PatchRel32(code, len(code), 42)
	s := decode(t, code)
	require.Contains(t, s, "je")
}

func TestCallReg64(t *testing.T) {
	decode(t, CallReg64(RAX))
	decode(t, CallReg64(R9))
}

func TestRet(t *testing.T) {
	s := decode(t, Ret())
	require.Contains(t, s, "ret")
}

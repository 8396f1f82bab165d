package amd64

import "encoding/binary"

// REX prefix bits. https://wiki.osdev.org/X86-64_Instruction_Encoding#REX_prefix
const (
	rexBase byte = 0b0100_0000
	rexW    byte = 0b0000_1000 // 64-bit operand size
	rexR    byte = 0b0000_0100 // extends ModR/M.reg
	rexX    byte = 0b0000_0010 // extends SIB.index
	rexB    byte = 0b0000_0001 // extends ModR/M.rm or SIB.base or opcode reg
)

func modRM(mod, reg, rm byte) byte {
	return (mod&3)<<6 | (reg&7)<<3 | (rm & 7)
}

func sib(scale, index, base byte) byte {
	return (scale&3)<<6 | (index&7)<<3 | (base & 7)
}

// memoryOperand returns the ModR/M byte (with regField already placed in
// its reg field), optional SIB byte, and little-endian displacement bytes
// for addressing m, plus whether the base register needs REX.B.
func memoryOperand(m Mem, regField byte) (mrm byte, sibByte *byte, disp []byte, needsRexB bool) {
	base := m.Base.num()
	needsRexB = m.Base.needsRex()

	useSIB := m.Base == RSP || m.Base == R12
	noDisplacement := m.Disp == 0 && m.Base != RBP && m.Base != R13

	var mod byte
	switch {
	case noDisplacement:
		mod = 0b00
	case fitsInt8(m.Disp):
		mod = 0b01
	default:
		mod = 0b10
	}

	if useSIB {
		mrm = modRM(mod, regField, 0b100)
		s := sib(0, 0b100, base)
		sibByte = &s
	} else {
		mrm = modRM(mod, regField, base)
	}

	switch mod {
	case 0b00:
		disp = nil
	case 0b01:
		disp = []byte{byte(int8(m.Disp))}
	default:
		disp = le32(m.Disp)
	}
	return
}

func fitsInt8(v int32) bool { return v >= -128 && v <= 127 }

func le32(v int32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(v))
	return b
}

func le64(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

// --- push / pop ---

// PushReg64 emits `push r64`.
func PushReg64(r Reg64) []byte {
	if r.needsRex() {
		return []byte{rexBase | rexB, 0x50 + r.num()}
	}
	return []byte{0x50 + r.num()}
}

// PopReg64 emits `pop r64`.
func PopReg64(r Reg64) []byte {
	if r.needsRex() {
		return []byte{rexBase | rexB, 0x58 + r.num()}
	}
	return []byte{0x58 + r.num()}
}

// PushImm32 emits `push imm32`, using the 8-bit immediate encoding when the
// value fits in a signed byte.
func PushImm32(v int32) []byte {
	if fitsInt8(v) {
		return []byte{0x6a, byte(int8(v))}
	}
	return append([]byte{0x68}, le32(v)...)
}

// PushMem emits `push [base+disp]`.
func PushMem(m Mem) []byte {
	mrm, sibByte, disp, needsB := memoryOperand(m, 0b110)
	var code []byte
	if needsB {
		code = append(code, rexBase|rexB)
	}
	code = append(code, 0xff, mrm)
	if sibByte != nil {
		code = append(code, *sibByte)
	}
	code = append(code, disp...)
	return code
}

// --- mov ---

// MovReg64Reg64 emits `mov dst, src` at 64-bit width.
func MovReg64Reg64(dst, src Reg64) []byte {
	return opRMReg64(0x89, dst, src)
}

// MovReg32Imm32 emits `mov dst, imm32`.
func MovReg32Imm32(dst Reg32, v int32) []byte {
	var code []byte
	if dst.needsRex() {
		code = append(code, rexBase|rexB)
	}
	code = append(code, 0xb8+dst.num())
	code = append(code, le32(v)...)
	return code
}

// MovReg64Imm64 emits `mov dst, imm64` (REX.W + B8+r).
func MovReg64Imm64(dst Reg64, v int64) []byte {
	rex := rexBase | rexW
	if dst.needsRex() {
		rex |= rexB
	}
	code := []byte{rex, 0xb8 + dst.num()}
	code = append(code, le64(v)...)
	return code
}

// MovReg64Mem emits `mov dst, [mem]` at 64-bit width (load).
func MovReg64Mem(dst Reg64, m Mem) []byte {
	return movRegMem(0x8b, dst, m)
}

// MovMemReg64 emits `mov [mem], src` at 64-bit width (store).
func MovMemReg64(m Mem, src Reg64) []byte {
	return movRegMem(0x89, src, m)
}

func movRegMem(opcode byte, reg Reg64, m Mem) []byte {
	mrm, sibByte, disp, needsB := memoryOperand(m, reg.num())
	rex := rexBase | rexW
	if reg.needsRex() {
		rex |= rexR
	}
	if needsB {
		rex |= rexB
	}
	code := []byte{rex, opcode, mrm}
	if sibByte != nil {
		code = append(code, *sibByte)
	}
	code = append(code, disp...)
	return code
}

func opRMReg64(opcode byte, dst, src Reg64) []byte {
	rex := rexBase | rexW
	if src.needsRex() {
		rex |= rexR
	}
	if dst.needsRex() {
		rex |= rexB
	}
	return []byte{rex, opcode, modRM(0b11, src.num(), dst.num())}
}

func opRMReg32(opcode byte, dst, src Reg32) []byte {
	var rex byte
	if src.needsRex() {
		rex |= rexR
	}
	if dst.needsRex() {
		rex |= rexB
	}
	if rex != 0 {
		rex |= rexBase
		return []byte{rex, opcode, modRM(0b11, src.num(), dst.num())}
	}
	return []byte{opcode, modRM(0b11, src.num(), dst.num())}
}

// --- arithmetic: add / sub / cmp, reg-reg ---

func AddReg64Reg64(dst, src Reg64) []byte { return opRMReg64(0x01, dst, src) }
func AddReg32Reg32(dst, src Reg32) []byte { return opRMReg32(0x01, dst, src) }
func SubReg64Reg64(dst, src Reg64) []byte { return opRMReg64(0x29, dst, src) }
func SubReg32Reg32(dst, src Reg32) []byte { return opRMReg32(0x29, dst, src) }
func CmpReg64Reg64(dst, src Reg64) []byte { return opRMReg64(0x39, dst, src) }
func CmpReg32Reg32(dst, src Reg32) []byte { return opRMReg32(0x39, dst, src) }

// AddReg64Imm32 emits `add dst, imm32` (sign-extended to 64 bits).
func AddReg64Imm32(dst Reg64, v int32) []byte {
	rex := rexBase | rexW
	if dst.needsRex() {
		rex |= rexB
	}
	code := []byte{rex, 0x81, modRM(0b11, 0, dst.num())}
	return append(code, le32(v)...)
}

// --- comparisons ---

// SeteReg8 emits `sete dst` (set byte to 1 if ZF, else 0).
func SeteReg8(dst Reg8) []byte {
	return []byte{0x0f, 0x94, 0xc0 | dst.num()}
}

// MovzxReg32Reg8 emits `movzx dst, src` (zero-extend 8-bit to 32-bit).
func MovzxReg32Reg8(dst Reg32, src Reg8) []byte {
	return []byte{0x0f, 0xb6, modRM(0b11, dst.num(), src.num())}
}

// --- control flow ---

// Je emits `je rel32`; rel is the displacement from the byte after this
// instruction to the target, and may be zero as a placeholder to be
// patched later with PatchRel32.
func Je(rel int32) []byte {
	return append([]byte{0x0f, 0x84}, le32(rel)...)
}

// Jmp emits `jmp rel32`, same placeholder convention as Je.
func Jmp(rel int32) []byte {
	return append([]byte{0xe9}, le32(rel)...)
}

// RelDisplacementLen is the number of bytes occupied by Je/Jmp's relative
// displacement field, counted from the end of the instruction.
const RelDisplacementLen = 4

// PatchRel32 writes rel, little-endian, into the 4 bytes of code ending at
// siteEnd (i.e. code[siteEnd-4:siteEnd]) — the "byte immediately following
// the displacement field" convention used throughout the label/patch
// bookkeeping.
func PatchRel32(code []byte, siteEnd int, rel int32) {
	binary.LittleEndian.PutUint32(code[siteEnd-4:siteEnd], uint32(rel))
}

// CallReg64 emits `call r64` (indirect call through a register).
func CallReg64(r Reg64) []byte {
	if r.needsRex() {
		return []byte{rexBase | rexB, 0xff, 0xd0 + r.num()}
	}
	return []byte{0xff, 0xd0 + r.num()}
}

// Ret emits `ret`.
func Ret() []byte { return []byte{0xc3} }

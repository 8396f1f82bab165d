package compiler

import (
	"fmt"
	"unsafe"

	"github.com/taka231/wasm-jit/internal/asm/amd64"
	"github.com/taka231/wasm-jit/internal/platform"
)

// DefaultCodeBufferPages is the code buffer's capacity in 4KiB pages,
// matching spec.md §3's "a small multiple of the page size (e.g. 16 pages)".
const DefaultCodeBufferPages = 16

const pageSize = 4096

// CodeBuffer is a fixed-size, page-aligned, append-only region of
// executable memory. It never moves and is never resized: once an address
// within it is handed out (a function's entry point), that address stays
// valid until the buffer is released.
type CodeBuffer struct {
	mem       []byte
	cursor    int
	funcStart int
}

// NewCodeBuffer allocates a page-aligned RWX region of pages*4096 bytes.
func NewCodeBuffer(pages int) (*CodeBuffer, error) {
	if pages <= 0 {
		pages = DefaultCodeBufferPages
	}
	mem, err := platform.MmapCodeSegment(pages * pageSize)
	if err != nil {
		return nil, fmt.Errorf("allocate code buffer: %w", err)
	}
	return &CodeBuffer{mem: mem}, nil
}

// Release returns the buffer's memory to the OS. The buffer must not be
// used afterwards.
func (b *CodeBuffer) Release() error {
	return platform.MunmapCodeSegment(b.mem)
}

// Cursor is the current write offset from the buffer's base.
func (b *CodeBuffer) Cursor() int { return b.cursor }

// StartFunction records the current cursor as the start of a new
// function's emitted code, returning that offset (its would-be entry
// point, needed before compilation finishes so self-recursive calls can
// target it — see spec.md §9).
func (b *CodeBuffer) StartFunction() int {
	b.funcStart = b.cursor
	return b.funcStart
}

// Append writes code at the cursor and advances it, returning the offset
// the bytes were written at. Returns ErrCodeBufferOverflow if code would
// run the cursor past the buffer's capacity; the implementation chooses
// to fail rather than move or grow the buffer, since addresses already
// handed out (cached function entries) must stay valid.
func (b *CodeBuffer) Append(code []byte) (offset int, err error) {
	if b.cursor+len(code) > len(b.mem) {
		return 0, ErrCodeBufferOverflow
	}
	offset = b.cursor
	copy(b.mem[b.cursor:], code)
	b.cursor += len(code)
	return offset, nil
}

// EntryAddress returns the absolute, executable address of the byte at
// offset within the buffer.
func (b *CodeBuffer) EntryAddress(offset int) uintptr {
	return uintptr(unsafe.Pointer(&b.mem[offset]))
}

// PatchRel32 overwrites the 4-byte relative displacement ending at siteEnd
// with rel, per amd64.PatchRel32's convention.
func (b *CodeBuffer) PatchRel32(siteEnd int, rel int32) {
	amd64.PatchRel32(b.mem, siteEnd, rel)
}

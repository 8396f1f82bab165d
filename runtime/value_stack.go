package runtime

import (
	"encoding/binary"
	"unsafe"

	"github.com/taka231/wasm-jit/api"
	"github.com/taka231/wasm-jit/internal/platform"
)

// nativeStack is the guarded native value stack spec.md §6 describes:
// data pages immediately followed by a PROT_NONE guard page, so an
// operand-stack overflow (deeper Wasm recursion than the reservation
// allows) faults deterministically instead of silently corrupting
// adjacent memory.
type nativeStack struct {
	mem []byte
}

func newNativeStack(dataSize int) (*nativeStack, error) {
	mem, err := platform.MmapGuardedRegion(dataSize)
	if err != nil {
		return nil, err
	}
	return &nativeStack{mem: mem}, nil
}

func (n *nativeStack) release() error {
	return platform.MunmapGuardedRegion(n.mem)
}

func (n *nativeStack) base() uintptr {
	return uintptr(unsafe.Pointer(&n.mem[0]))
}

// writeArgs writes args at the bottom of the stack and returns the
// pointer a compiled function's entry expects as its second argument:
// pointing just past the last argument written.
func (n *nativeStack) writeArgs(args []api.Value) uintptr {
	for i, a := range args {
		binary.LittleEndian.PutUint64(n.mem[i*8:], a.Bits())
	}
	return n.base() + uintptr(8*len(args))
}

// readResults reads resultLen 64-bit slots ending at sp (exclusive),
// reinterpreting each according to types, in the order a compiled
// function's epilogue wrote them.
func (n *nativeStack) readResults(sp uintptr, types []api.ValueType) []api.Value {
	out := make([]api.Value, len(types))
	base := int(sp - n.base())
	start := base - 8*len(types)
	for i, t := range types {
		bits := binary.LittleEndian.Uint64(n.mem[start+8*i:])
		out[i] = api.ValueFromBits(bits, t)
	}
	return out
}

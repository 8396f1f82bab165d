package runtime

import (
	"fmt"
	"runtime/cgo"

	"github.com/taka231/wasm-jit/internal/wasm"
)

// ExportNotFoundError reports a lookup by name that matched nothing in
// the module's export section.
type ExportNotFoundError struct{ Name string }

func (e *ExportNotFoundError) Error() string {
	return fmt.Sprintf("runtime: export %q not found", e.Name)
}

// ExportKindMismatchError reports a lookup that found the name but not as
// a function export.
type ExportKindMismatchError struct {
	Name string
	Kind wasm.ExportKind
}

func (e *ExportKindMismatchError) Error() string {
	return fmt.Sprintf("runtime: export %q is a %s, not a function", e.Name, e.Kind)
}

// FunctionTypeNotFoundError reports a function index with no corresponding
// entry in the module's type section — a malformed module, since the
// parser/validator stage should have rejected this earlier.
type FunctionTypeNotFoundError struct{ FuncIndex uint32 }

func (e *FunctionTypeNotFoundError) Error() string {
	return fmt.Sprintf("runtime: function %d: no type", e.FuncIndex)
}

// encodeError turns err into the u64 "error handle" JITed code threads
// back through rax (0 means success). A handle is not a raw pointer: a
// bare pointer-to-uintptr round trip through a register the GC can't see
// would let the collector reclaim the error object mid-flight, so this
// uses runtime/cgo.Handle, the standard library's purpose-built mechanism
// for passing a Go value across exactly this kind of unmanaged boundary.
func encodeError(err error) uint64 {
	if err == nil {
		return 0
	}
	return uint64(cgo.NewHandle(err))
}

// decodeError reverses encodeError, deleting the handle — the runtime
// takes ownership of the error back from the handle table.
func decodeError(handle uint64) error {
	if handle == 0 {
		return nil
	}
	h := cgo.Handle(handle)
	err, _ := h.Value().(error)
	h.Delete()
	return err
}

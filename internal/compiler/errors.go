package compiler

import (
	"errors"
	"fmt"

	"github.com/taka231/wasm-jit/internal/wasm"
)

// ErrCodeBufferOverflow is returned when emitting would advance the code
// buffer's cursor past its capacity. The implementation is free to either
// abort or grow the buffer (spec.md §4.2); this core aborts the
// compilation rather than relocating already-handed-out addresses.
var ErrCodeBufferOverflow = errors.New("compiler: code buffer capacity exceeded")

// ErrUnsupportedBlockShape is raised when a block's arity bookkeeping
// cannot be reconciled at `end` (spec.md §4.4's "ensure stack_count -
// stack_checkpoint == arity_out" failing irrecoverably).
var ErrUnsupportedBlockShape = errors.New("compiler: unsupported block shape")

// UnsupportedInstructionError reports an operator outside this core's
// accepted subset (spec.md §6).
type UnsupportedInstructionError struct {
	Op wasm.OperatorKind
}

func (e *UnsupportedInstructionError) Error() string {
	return fmt.Sprintf("compiler: unsupported instruction: %s", e.Op)
}

func newUnsupportedInstruction(op wasm.OperatorKind) error {
	return &UnsupportedInstructionError{Op: op}
}

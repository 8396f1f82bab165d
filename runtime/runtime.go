// Package runtime is the JIT orchestrator: it owns the executable code
// buffer, the native value stack, and the function cache, and drives the
// compiler package to translate Wasm functions to machine code lazily, on
// first invocation — including invocations JITed code itself makes, via
// call_func_internal, when it calls a function that has not been compiled
// yet (spec.md §4.5).
package runtime

import (
	"fmt"
	"unsafe"

	"go.uber.org/zap"

	"github.com/taka231/wasm-jit/api"
	"github.com/taka231/wasm-jit/internal/compiler"
	"github.com/taka231/wasm-jit/internal/wasm"
)

func init() {
	// Breaks the import cycle compiler<->runtime: the compiler package
	// exposes this extension point, and whichever package drives it
	// registers itself once, the way database/sql drivers and image
	// codecs register themselves via init().
	compiler.BridgeCallback = bridgeDispatch
}

// bridgeDispatch is call_func_internal as JITed code sees it: recover the
// originating *Runtime from the pointer it was given on entry, and
// forward to its method. It is deliberately stateless itself — the
// *Runtime is recovered fresh from runtimePtr on every call — so it
// supports any number of concurrently existing Runtime instances despite
// being registered once as a package-level function value.
func bridgeDispatch(runtimePtr, spPtr, funcIndex uint64) uint64 {
	rt := (*Runtime)(unsafe.Pointer(uintptr(runtimePtr)))
	return rt.callFuncInternal(uintptr(spPtr), uint32(funcIndex))
}

// Runtime is a single loaded module, its executable code buffer, and its
// lazily-populated function cache. Not safe for concurrent use: spec.md
// §5's concurrency model is strictly single-threaded per Runtime, host
// calls into a Runtime are fully synchronous, and there is exactly one
// interleaving — host→JIT→runtime→JIT — at any depth.
type Runtime struct {
	store  *store
	buf    *compiler.CodeBuffer
	stack  *nativeStack
	cache  map[uint32]uintptr
	logger *zap.Logger
}

// Init loads module and allocates its code buffer and native value stack
// per cfg. The returned Runtime must be released with Close once done.
func Init(module *wasm.Module, cfg Config) (*Runtime, error) {
	buf, err := compiler.NewCodeBuffer(cfg.codeBufferPages)
	if err != nil {
		return nil, fmt.Errorf("runtime: init: %w", err)
	}
	stack, err := newNativeStack(cfg.nativeStackSize)
	if err != nil {
		_ = buf.Release()
		return nil, fmt.Errorf("runtime: init: %w", err)
	}
	rt := &Runtime{
		store:  newStore(module),
		buf:    buf,
		stack:  stack,
		cache:  make(map[uint32]uintptr),
		logger: cfg.logger,
	}
	rt.logger.Debug("runtime initialized",
		zap.Int("functions", len(module.Code)),
		zap.Int("exports", len(module.Exports)))
	return rt, nil
}

// Close releases the code buffer and native value stack. The Runtime must
// not be used afterwards.
func (rt *Runtime) Close() error {
	err1 := rt.buf.Release()
	err2 := rt.stack.release()
	if err1 != nil {
		return err1
	}
	return err2
}

// CallFuncByName is the host entry point (spec.md §6's call_func_by_name):
// look up name among the module's function exports, compile it if this is
// its first call, and invoke it with args.
func (rt *Runtime) CallFuncByName(name string, args []api.Value) ([]api.Value, error) {
	export, err := rt.store.getExport(name)
	if err != nil {
		return nil, err
	}
	if export.Kind != wasm.ExportKindFunc {
		return nil, &ExportKindMismatchError{Name: name, Kind: export.Kind}
	}
	fnType, err := rt.store.funcType(export.Index)
	if err != nil {
		return nil, err
	}
	if len(args) != len(fnType.Params) {
		return nil, fmt.Errorf("runtime: %s: expected %d arguments, got %d", name, len(fnType.Params), len(args))
	}

	entry, err := rt.compileIfMissing(export.Index)
	if err != nil {
		return nil, err
	}

	sp := rt.stack.writeArgs(args)
	handle := compiler.Invoke(entry, uintptr(unsafe.Pointer(rt)), sp)
	if err := decodeError(handle); err != nil {
		return nil, err
	}
	resultSP := sp + uintptr(8*(len(fnType.Results)-len(fnType.Params)))
	return rt.stack.readResults(resultSP, fnType.Results), nil
}

// callFuncInternal implements call_func_internal: compile funcIndex if
// it's not cached yet, then invoke it with the caller's native stack
// pointer unchanged, returning its error handle. This is the only place
// JITed code re-enters Go, and it only ever nests one Go frame deep per
// Wasm call — the recursion spec.md's test scenarios exercise (e.g.
// fib(30)) happens entirely in machine code via direct and self-recursive
// `call`s, not through repeated trips back through this method.
func (rt *Runtime) callFuncInternal(sp uintptr, funcIndex uint32) uint64 {
	entry, err := rt.compileIfMissing(funcIndex)
	if err != nil {
		return encodeError(err)
	}
	return compiler.Invoke(entry, uintptr(unsafe.Pointer(rt)), sp)
}

func (rt *Runtime) compileIfMissing(funcIndex uint32) (uintptr, error) {
	if entry, ok := rt.cache[funcIndex]; ok {
		return entry, nil
	}
	rt.logger.Debug("compiling function", zap.Uint32("func_index", funcIndex))
	entry, err := compiler.CompileFunction(rt.buf, rt.store.module, funcIndex, compiler.BridgeEntryAddr())
	if err != nil {
		return 0, fmt.Errorf("runtime: compile function %d: %w", funcIndex, err)
	}
	rt.cache[funcIndex] = entry
	return entry, nil
}

//go:build linux

package compiler

import "reflect"

// BridgeCallback implements call_func_internal's semantics: compile the
// target function if it is not cached, invoke it, and return its error
// handle (0 for success). The runtime package sets this exactly once, in
// an init func, to a dispatch function that recovers the specific
// *Runtime from runtimePtr — this package cannot import the runtime
// package directly (the runtime package already imports this one to
// compile functions), so it exposes this extension point instead, the
// same registration pattern database/sql and image use to break their own
// driver/codec import cycles.
var BridgeCallback func(runtimePtr, spPtr, funcIndex uint64) uint64

// bridgeCallback is bridgeEntry's Go-callable target; it exists purely so
// bridgeEntry has a fixed linker symbol to CALL, since BridgeCallback
// itself can be reassigned.
//
//go:nosplit
func bridgeCallback(runtimePtr, spPtr, funcIndex uint64) uint64 {
	return BridgeCallback(runtimePtr, spPtr, funcIndex)
}

// bridgeEntry is implemented in bridge_amd64.s.
func bridgeEntry()

// BridgeEntryAddr returns the address JITed code should `call` (DI=runtime
// pointer, SI=native stack pointer, DX=function index) to invoke
// call_func_internal. The generator embeds this as a 64-bit immediate at
// compile time; it never changes for the process's lifetime.
func BridgeEntryAddr() uintptr {
	return reflect.ValueOf(bridgeEntry).Pointer()
}

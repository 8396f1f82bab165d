//go:build !linux

package compiler

import "github.com/taka231/wasm-jit/internal/platform"

func callEntry(entry, runtimePtr, spPtr uintptr) uint64 {
	panic(platform.ErrCompilerNotSupported)
}

// Invoke mirrors the linux build's exported wrapper; see call_amd64.go.
func Invoke(entry, runtimePtr, spPtr uintptr) uint64 {
	return callEntry(entry, runtimePtr, spPtr)
}

// BridgeEntryAddr is unused on unsupported platforms; CompileFunction
// never reaches the point of needing it, since NewCodeBuffer already
// fails first.
func BridgeEntryAddr() uintptr { return 0 }

var BridgeCallback func(runtimePtr, spPtr, funcIndex uint64) uint64

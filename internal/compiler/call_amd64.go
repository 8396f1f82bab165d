//go:build linux

package compiler

// callEntry invokes the compiled function at entry, implemented in
// call_amd64.s since Go offers no portable way to jump into raw machine
// code under a caller-chosen register convention.
//
//go:noescape
func callEntry(entry, runtimePtr, spPtr uintptr) uint64

// Invoke is callEntry exported for the runtime package: call the compiled
// function at entry with runtimePtr/spPtr per spec.md §4.4's entry
// convention, returning its error handle (0 for success).
func Invoke(entry, runtimePtr, spPtr uintptr) uint64 {
	return callEntry(entry, runtimePtr, spPtr)
}

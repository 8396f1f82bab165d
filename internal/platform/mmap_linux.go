//go:build linux

// Package platform owns the executable-memory primitives the code buffer
// needs: a page-aligned, simultaneously-writable-and-executable mapping,
// and its release. Named and shaped after the teacher's
// internal/platform.MmapCodeSegment/MunmapCodeSegment.
package platform

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MmapCodeSegment allocates a page-aligned, anonymous mapping of at least
// size bytes, readable, writable, and executable for its whole lifetime
// (this core's chosen W^X policy: map RWX once, never toggle — see
// SPEC_FULL.md §4.2).
func MmapCodeSegment(size int) ([]byte, error) {
	if size == 0 {
		panic("BUG: MmapCodeSegment with zero length")
	}
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap code segment: %w", err)
	}
	return b, nil
}

// MunmapCodeSegment releases a mapping obtained from MmapCodeSegment.
func MunmapCodeSegment(code []byte) error {
	if len(code) == 0 {
		panic("BUG: MunmapCodeSegment with zero length")
	}
	if err := unix.Munmap(code); err != nil {
		return fmt.Errorf("munmap code segment: %w", err)
	}
	return nil
}

// MmapGuardedRegion allocates `dataSize` bytes of read/write memory
// immediately followed by one PROT_NONE guard page, used for the native
// value stack: an overflow write past dataSize faults deterministically
// rather than corrupting adjacent memory.
func MmapGuardedRegion(dataSize int) ([]byte, error) {
	if dataSize == 0 {
		panic("BUG: MmapGuardedRegion with zero length")
	}
	pageSize := unix.Getpagesize()
	total := roundUp(dataSize, pageSize) + pageSize
	b, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap guarded region: %w", err)
	}
	guardStart := total - pageSize
	if err := unix.Mprotect(b[guardStart:], unix.PROT_NONE); err != nil {
		_ = unix.Munmap(b)
		return nil, fmt.Errorf("mprotect guard page: %w", err)
	}
	return b[:guardStart], nil
}

// MunmapGuardedRegion releases a mapping obtained from MmapGuardedRegion.
// data must be the exact usable (pre-guard-page) slice MmapGuardedRegion
// returned; the guard page is recovered from its capacity.
func MunmapGuardedRegion(data []byte) error {
	if len(data) == 0 {
		panic("BUG: MunmapGuardedRegion with zero length")
	}
	full := data[:cap(data)]
	if err := unix.Munmap(full); err != nil {
		return fmt.Errorf("munmap guarded region: %w", err)
	}
	return nil
}

func roundUp(v, multiple int) int {
	if v%multiple == 0 {
		return v
	}
	return (v/multiple + 1) * multiple
}

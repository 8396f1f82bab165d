package runtime

import (
	"go.uber.org/zap"

	"github.com/taka231/wasm-jit/internal/compiler"
)

// defaultStackSize is the native value stack's data-region size, ahead of
// its guard page; 64KiB comfortably covers the fib(30)-depth recursion
// spec.md §8's testable properties exercise.
const defaultStackSize = 64 * 1024

// Config configures a Runtime. The zero value is not ready to use; start
// from NewConfig. Each With* method returns a new Config, following the
// teacher's immutable-builder convention rather than mutating in place.
type Config struct {
	codeBufferPages int
	nativeStackSize int
	logger          *zap.Logger
}

// NewConfig returns the default configuration: spec.md §4.2's 16-page
// code buffer, a 64KiB native value stack, and a no-op logger.
func NewConfig() Config {
	return Config{
		codeBufferPages: compiler.DefaultCodeBufferPages,
		nativeStackSize: defaultStackSize,
		logger:          zap.NewNop(),
	}
}

// WithCodeBufferPages overrides the executable code buffer's size, in
// 4KiB pages.
func (c Config) WithCodeBufferPages(pages int) Config {
	c.codeBufferPages = pages
	return c
}

// WithNativeStackSize overrides the native value stack's data-region size
// in bytes (rounded up to a page by platform.MmapGuardedRegion).
func (c Config) WithNativeStackSize(size int) Config {
	c.nativeStackSize = size
	return c
}

// WithLogger attaches a structured logger; Init and every lazy compile log
// through it at debug level.
func (c Config) WithLogger(logger *zap.Logger) Config {
	c.logger = logger
	return c
}

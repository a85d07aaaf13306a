package plat

import (
	"errors"
	"fmt"

	"voxplat.ai/internal/engine/addr"
)

var (
	// ErrPoolExhausted is returned by a write that needs more nodes or bricks
	// than the layer has free. The layer is left unchanged.
	ErrPoolExhausted = errors.New("pool exhausted")
	// ErrInvalidAddress reports a position/level/depth outside the representable range.
	ErrInvalidAddress = addr.ErrInvalidAddress
	// ErrMalformedNode reports a broken fork chain, bad flag or dangling index.
	ErrMalformedNode = errors.New("malformed node")
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedNode, fmt.Sprintf(format, args...))
}

// halt stops a walk that found a structural inconsistency. Walks have no error
// channel; a corrupted pool is never skipped over.
func halt(format string, args ...any) {
	panic(malformed(format, args...))
}

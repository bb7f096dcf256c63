package serde

import (
	"fmt"

	"github.com/vk/hyperstate/pkg/node"
)

// DecodeError reports that a value-tree node cannot satisfy the descriptor:
// a missing required field, a type mismatch, or an unknown enum variant.
// The whole decode fails; no partial object is returned.
type DecodeError struct {
	Path node.Path
	Msg  string
}

func (e *DecodeError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("decode: %s", e.Msg)
	}
	return fmt.Sprintf("decode %s: %s", e.Path, e.Msg)
}

// OverrideError reports a malformed or unresolvable override assignment.
// Overrides are fatal to the load that carries them; none are applied
// partially.
type OverrideError struct {
	Override string
	Msg      string
	Err      error
}

func (e *OverrideError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("override %q: %s: %v", e.Override, e.Msg, e.Err)
	}
	return fmt.Sprintf("override %q: %s", e.Override, e.Msg)
}

func (e *OverrideError) Unwrap() error { return e.Err }

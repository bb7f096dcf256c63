package hyperstate

import (
	"errors"
	"fmt"
)

// ErrNoCheckpoint reports that a checkpoint directory holds no published
// generation. It is a distinct, recoverable outcome: callers fall back to
// an initial state. A directory that exists but cannot be read is a
// CheckpointError instead and is never silently converted to a fresh start.
var ErrNoCheckpoint = errors.New("no checkpoint found")

// CheckpointError reports that a checkpoint generation could not be
// written, published, or read back.
type CheckpointError struct {
	Dir string
	Msg string
	Err error
}

func (e *CheckpointError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("checkpoint %s: %s: %v", e.Dir, e.Msg, e.Err)
	}
	return fmt.Sprintf("checkpoint %s: %s", e.Dir, e.Msg)
}

func (e *CheckpointError) Unwrap() error { return e.Err }

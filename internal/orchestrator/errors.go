package orchestrator

import (
	"errors"
	"fmt"
)

// User-facing precondition failures. These are terminal: they are
// reported back through the command result and never retried.
var (
	ErrConfigMissing = errors.New("guild has no voice room configuration")
	ErrNotOwner      = errors.New("requester does not own this room")
	ErrNotOrphaned   = errors.New("room already has an owner")
	ErrNotPresent    = errors.New("user is not in the room")
	ErrRoomNotFound  = errors.New("room is not managed")
)

// ErrRemoteCallFailed wraps a failed or timed-out remote API call.
// Synchronous commands surface it to the caller; background operations
// leave compensation to the reconciler.
var ErrRemoteCallFailed = errors.New("remote call failed")

// ErrRegistryCorruption marks an invariant violation found by the
// reconciler. It is logged and healed, never fatal.
var ErrRegistryCorruption = errors.New("registry corruption")

func remoteErr(err error) error {
	return fmt.Errorf("%w: %v", ErrRemoteCallFailed, err)
}

package dispute

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no case exists for the identifier.
	ErrNotFound = errors.New("dispute: not found")
	// ErrVersionConflict is returned by a store when the persisted version moved past the expected one.
	ErrVersionConflict = errors.New("dispute: version conflict")

	ErrInvalidTransition          = errors.New("dispute: invalid phase transition")
	ErrAlreadyFinalized           = errors.New("dispute: case already finalized")
	ErrInvalidArgument            = errors.New("dispute: invalid argument")
	ErrDuplicateActiveArbitration = errors.New("dispute: an arbitration request is already active")
	ErrInvalidState               = errors.New("dispute: invalid arbitration state")
	ErrAlreadyDecided             = errors.New("dispute: arbitration already decided")
	ErrConcurrentModification     = errors.New("dispute: concurrent modification")
)

// InvalidTransitionError reports a phase change outside the allowed-next table.
type InvalidTransitionError struct {
	From Phase
	To   Phase
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("dispute: invalid phase transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// InvalidArgumentError reports a malformed or out-of-range input.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("dispute: invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidArgumentError) Is(target error) bool {
	return target == ErrInvalidArgument
}

// InvalidStateError reports an arbitration action attempted from a status that forbids it.
type InvalidStateError struct {
	Action string
	Status ArbitrationStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("dispute: cannot %s arbitration in status %s", e.Action, e.Status)
}

func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

// ConcurrentModificationError means the caller acted on a stale workflow version.
type ConcurrentModificationError struct {
	CaseID   string
	Expected int64
	Actual   int64
}

func (e *ConcurrentModificationError) Error() string {
	return fmt.Sprintf("dispute: case %s modified concurrently (expected version %d, found %d)", e.CaseID, e.Expected, e.Actual)
}

func (e *ConcurrentModificationError) Is(target error) bool {
	return target == ErrConcurrentModification
}

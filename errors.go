package bpmcore

import (
	"errors"
	"fmt"
)

var (
	// Error kinds. Every error returned by the engine wraps exactly one of
	// these so callers can classify it with errors.Is.
	ErrValidation           = errors.New("bpmcore: validation error")
	ErrTypeMismatch         = errors.New("bpmcore: type mismatch")
	ErrUnsupportedOperation = errors.New("bpmcore: unsupported operation")
	ErrNotFound             = errors.New("bpmcore: not found")
	ErrIllegalState         = errors.New("bpmcore: illegal state")
	ErrLockConflict         = errors.New("bpmcore: lock conflict")
	ErrEngineFault          = errors.New("bpmcore: engine fault")

	// Store errors.
	ErrNoStore         = errors.New("bpmcore: no store configured")
	ErrMigrationFailed = errors.New("bpmcore: migration failed")

	// Not found errors.
	ErrJobNotFound       = fmt.Errorf("%w: job", ErrNotFound)
	ErrTaskNotFound      = fmt.Errorf("%w: task", ErrNotFound)
	ErrExecutionNotFound = fmt.Errorf("%w: execution", ErrNotFound)

	// Conflict errors.
	ErrJobAlreadyExists       = errors.New("bpmcore: job already exists")
	ErrTaskAlreadyExists      = errors.New("bpmcore: task already exists")
	ErrExecutionAlreadyExists = errors.New("bpmcore: execution already exists")

	// ErrConcurrentUpdate is returned by stores when a conditional update
	// observed a state other than the expected one.
	ErrConcurrentUpdate = errors.New("bpmcore: concurrent update")

	// Execution errors.
	ErrHandlerNotFound = errors.New("bpmcore: no handler registered")
	ErrExecutionBusy   = errors.New("bpmcore: execution busy")
)

// Kind returns the name of the error kind err belongs to, or "" for nil.
// Errors that wrap none of the kinds are reported as EngineFault.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "ValidationError"
	case errors.Is(err, ErrTypeMismatch):
		return "TypeMismatchError"
	case errors.Is(err, ErrUnsupportedOperation):
		return "UnsupportedOperationError"
	case errors.Is(err, ErrNotFound):
		return "NotFoundError"
	case errors.Is(err, ErrIllegalState):
		return "IllegalStateError"
	case errors.Is(err, ErrLockConflict):
		return "LockConflictError"
	default:
		return "EngineFault"
	}
}

// Fault wraps a lower-layer failure as an EngineFault. Errors that already
// carry a kind are returned unchanged.
func Fault(op string, err error) error {
	if err == nil {
		return nil
	}
	if Kind(err) != "EngineFault" || errors.Is(err, ErrEngineFault) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrEngineFault, op, err)
}

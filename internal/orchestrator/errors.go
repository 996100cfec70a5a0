package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrTokenMintNotConfigured reports the documented no-op mode: no mint, nothing to distribute.
	ErrTokenMintNotConfigured = errors.New("TOKEN_MINT not configured")

	// ErrDuplicateCycle is matched by every *DuplicateCycleError.
	ErrDuplicateCycle = errors.New("duplicate cycle")
)

// DuplicateCycleError reports a cycle that was already handled, or is being
// handled by another run. It is normal control flow, not a failure.
type DuplicateCycleError struct {
	CycleID    int64
	InProgress bool
}

func (e *DuplicateCycleError) Error() string {
	if e.InProgress {
		return fmt.Sprintf("Distribution already in progress for cycle %d", e.CycleID)
	}
	return fmt.Sprintf("Distribution already completed for cycle %d", e.CycleID)
}

func (e *DuplicateCycleError) Is(target error) bool {
	return target == ErrDuplicateCycle
}

// StepError reports the step at which a run failed.
type StepError struct {
	Step State
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// IsBenign reports whether err is one of the control-flow outcomes that
// leave the cycle untouched and should not be surfaced as a failure.
func IsBenign(err error) bool {
	return errors.Is(err, ErrTokenMintNotConfigured) || errors.Is(err, ErrDuplicateCycle)
}

package monthend

import (
	"errors"
	"fmt"
)

var (
	// errFinalized stops the polling loop after the terminal minute
	errFinalized = errors.New("month-end finalization step completed")

	// errWindowMissed stops the polling loop when the hour rolls over
	errWindowMissed = errors.New("month-end window passed without finalization")
)

// CycleError is a failed per-minute step. It is logged and recorded in the
// ledger, never returned from the scheduler.
type CycleError struct {
	Key MinuteKey
	Err error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("month-end step %s: %v", e.Key, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

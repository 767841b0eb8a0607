package apperr

import (
	"fmt"
	"strings"
)

// PartialWriteError reports a multi-store write that stopped partway.
// Completed lists the steps that succeeded before Step failed; nothing
// is rolled back.
type PartialWriteError struct {
	Step      string
	Completed []string
	Err       error
}

func (e *PartialWriteError) Error() string {
	done := "none"
	if len(e.Completed) > 0 {
		done = strings.Join(e.Completed, ", ")
	}
	return fmt.Sprintf("partial write: step %q failed after [%s]: %v", e.Step, done, e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}

package core

import (
	"errors"
	"fmt"
)

// ErrValidationConflict marks a mutation rejected before any persistence
// happened: an out-of-range discount, a quantity exceeding tracked stock,
// an illegal state transition. The sale on disk is untouched when a caller
// sees this error.
var ErrValidationConflict = errors.New("validation conflict")

func validationConflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidationConflict, fmt.Sprintf(format, args...))
}

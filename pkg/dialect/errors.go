package dialect

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAdapter = errors.New("no adapter for database driver")
	ErrMissingField   = errors.New("unexpected definition output")
)

// MissingFieldError reports a metadata row without an expected column.
type MissingFieldError struct {
	Object string
	Field  string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("error getting %s code, unknown output: missing %q", e.Object, e.Field)
}

func (e *MissingFieldError) Is(target error) bool {
	return target == ErrMissingField
}

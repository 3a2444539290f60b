package dumper

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTableNotFound   = errors.New("table not found in database")
	ErrStatementFailed = errors.New("statement execution failed")
	ErrNoDestination   = errors.New("no dump destination given")
)

// ExecError carries the statement that failed during a restore.
type ExecError struct {
	Statement string
	Err       error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("error during request execution: %v\n%s", e.Err, e.Statement)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

func (e *ExecError) Is(target error) bool {
	return target == ErrStatementFailed
}

// TableNotFoundError lists include-list entries with no matching object.
type TableNotFoundError struct {
	Names []string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table(s) %q not found in database", strings.Join(e.Names, ","))
}

func (e *TableNotFoundError) Is(target error) bool {
	return target == ErrTableNotFound
}

package pipeline

import (
	"errors"
	"fmt"
)

// ErrIO is matched by every IOError.
var ErrIO = errors.New("output error")

// IOError reports a failure to create or write the output file.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

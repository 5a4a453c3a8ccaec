package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrTimeout        = errors.New("execution timed out")
	ErrNotRunning     = errors.New("container is not running")
	ErrImageMissing   = errors.New("sandbox image not found locally")
	ErrInvalidRequest = errors.New("invalid execution request")
	ErrScreenshot     = errors.New("screenshot unavailable")
)

// OpError wraps errors with the execution id and the operation that failed.
type OpError struct {
	ExecID string
	Op     string
	Err    error
}

func (e *OpError) Error() string {
	if e.ExecID != "" {
		return fmt.Sprintf("execution %s: %s: %s", e.ExecID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the error is a timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsNotRunning returns true if the error is a not-running precondition
// violation, the only condition this package raises instead of encoding
// into a result.
func IsNotRunning(err error) bool {
	return errors.Is(err, ErrNotRunning)
}

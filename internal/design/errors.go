package design

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by stores and the manager. The API layer maps
// these onto HTTP status codes.
var (
	ErrJobNotFound  = errors.New("job not found")
	ErrDuplicateJob = errors.New("job id already exists")
	ErrNotReady     = errors.New("job has not completed yet")
	ErrInvalidState = errors.New("operation not permitted in current job state")
)

// InvalidParametersError is returned synchronously from submit when caller
// input fails validation. It never results in a job record being created.
type InvalidParametersError struct {
	Reason string
}

func (e *InvalidParametersError) Error() string {
	return "invalid parameters: " + e.Reason
}

// NewInvalidParametersError builds an InvalidParametersError from a format
// string.
func NewInvalidParametersError(format string, args ...any) *InvalidParametersError {
	return &InvalidParametersError{Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidParameters reports whether err is a parameter-validation failure.
func IsInvalidParameters(err error) bool {
	var ipe *InvalidParametersError
	return errors.As(err, &ipe)
}

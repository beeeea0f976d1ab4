package collector

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized reports an ingestion attempt by a device that is
	// unknown or still pending approval. Expected and retryable; callers
	// surface it as a client condition, not a server failure.
	ErrUnauthorized = errors.New("device not authorized")

	// ErrDeviceNotFound reports an admin operation on a device that does
	// not exist.
	ErrDeviceNotFound = errors.New("device not found")

	// ErrSensorNotFound reports an operation on a sensor that does not
	// exist.
	ErrSensorNotFound = errors.New("sensor not found")
)

// ValidationError reports a malformed batch entry or request field. The
// whole batch is rejected; nothing is written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

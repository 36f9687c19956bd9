package presence

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied means the device declined location access
	ErrPermissionDenied = errors.New("location permission denied")
	// ErrPositionUnavailable means the device could not determine a position
	ErrPositionUnavailable = errors.New("position unavailable")
	// ErrTimeout means no fix arrived before the fix timeout
	ErrTimeout = errors.New("timed out waiting for a location fix")
	// ErrNotEntitled means live mode was requested by a user without the privilege
	ErrNotEntitled = errors.New("live mode is not included in your plan")
	// ErrInvalidMessage means the status message is not one of model.Messages
	ErrInvalidMessage = errors.New("message is not one of the allowed statuses")
	// ErrBusy means the controller is mid-transition
	ErrBusy = errors.New("broadcast is changing state, try again")
	// ErrNotBroadcasting means the operation needs an active signal
	ErrNotBroadcasting = errors.New("not broadcasting")
	// ErrCanceled means the start was abandoned by a stop or by the caller
	ErrCanceled = errors.New("broadcast start canceled")
	// ErrSignalNotFound means the signal row no longer exists
	ErrSignalNotFound = errors.New("signal not found")
)

// StoreError wraps any failure of the persistent store
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("presence store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsStoreError reports whether err came from the persistent store
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// FixError converts a device geolocation error code into one of the
// typed fix errors
func FixError(code string) error {
	switch code {
	case "permission_denied", "PERMISSION_DENIED":
		return ErrPermissionDenied
	case "timeout", "TIMEOUT":
		return ErrTimeout
	default:
		return ErrPositionUnavailable
	}
}

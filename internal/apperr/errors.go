// Package apperr holds the error taxonomy shared by link resolution and task orchestration.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Input errors, reported per link and never retried.
	ErrInvalidLink  = errors.New("invalid link")
	ErrInvalidRange = errors.New("invalid range")

	// The resolved address has no reachable content.
	ErrNotFound = errors.New("message not found")

	// Upload pre-flight rejection.
	ErrSizeLimitExceeded = errors.New("file exceeds upload size limit")

	// Dedup guard rejection. Informational, not a failure.
	ErrDuplicateTask = errors.New("task already exists")
)

// TransientError marks a failure worth retrying: flood control, connection
// reset, call timeout. Wait is the mandatory pause demanded by the service,
// zero when the caller should pick its own backoff.
type TransientError struct {
	Wait time.Duration
	Err  error
}

func (e *TransientError) Error() string {
	if e.Wait > 0 {
		return fmt.Sprintf("transient (wait %s): %v", e.Wait, e.Err)
	}
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError.
func Transient(err error, wait time.Duration) error {
	if err == nil {
		return nil
	}
	return &TransientError{Wait: wait, Err: err}
}

// IsTransient reports whether err should feed the retry policy.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// WaitHint returns the service-mandated wait carried by err, if any.
func WaitHint(err error) (time.Duration, bool) {
	var te *TransientError
	if errors.As(err, &te) && te.Wait > 0 {
		return te.Wait, true
	}
	return 0, false
}

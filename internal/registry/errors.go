package registry

import (
	"errors"
	"fmt"
)

// NotFoundError signals an absent remote resource (HTTP 404).
//
// Absence is semantically meaningful, not a client failure: a missing
// package still advances its checkpoint, while a missing release marks
// the whole item as skipped. Callers branch on it with IsNotFound.
// Never retried.
type NotFoundError struct {
	URL string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found: %s", e.URL)
}

// TransientError wraps a network or server-side fault that is worth
// retrying (connection errors, 5xx responses).
type TransientError struct {
	URL    string
	Status int // HTTP status, 0 for transport-level failures
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient failure (status %d): %s", e.Status, e.URL)
	}
	return fmt.Sprintf("transient failure: %s: %v", e.URL, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// FetchFailedError reports that the retry budget for a request was
// exhausted. It wraps the last transient cause.
type FetchFailedError struct {
	URL      string
	Attempts int
	Err      error
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("fetch failed after %d attempts: %s: %v", e.Attempts, e.URL, e.Err)
}

func (e *FetchFailedError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsFetchFailed reports whether err is (or wraps) a FetchFailedError.
func IsFetchFailed(err error) bool {
	var fe *FetchFailedError
	return errors.As(err, &fe)
}

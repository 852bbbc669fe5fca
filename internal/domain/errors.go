package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrTimeout          = errors.New("deadline exceeded")
	ErrCacheConsistency = errors.New("cache consistency violated")
	ErrUnavailable      = errors.New("collaborator unavailable")
)

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func MaterialNotFound(id string) error {
	return &NotFoundError{Kind: "material", ID: id}
}

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() []error { return []error{ErrTimeout, e.Err} }

// CacheConsistencyError marks a broken internal invariant. It is never caused
// by caller input.
type CacheConsistencyError struct {
	UserID string
	Reason string
}

func (e *CacheConsistencyError) Error() string {
	return fmt.Sprintf("cache entry for user %q inconsistent: %s", e.UserID, e.Reason)
}

func (e *CacheConsistencyError) Unwrap() error { return ErrCacheConsistency }

// AsTimeout converts context cancellation into a TimeoutError and returns
// any other error unchanged.
func AsTimeout(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &TimeoutError{Op: op, Err: err}
	}
	return err
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

func IsTimeout(err error) bool { return errors.Is(err, ErrTimeout) }

func IsCacheConsistency(err error) bool { return errors.Is(err, ErrCacheConsistency) }

package core

import (
	"errors"
	"fmt"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrDuplicateUser        = errors.New("user already exists")
	ErrInvalidCredential    = errors.New("invalid credentials")
	ErrDuplicateTransaction = errors.New("transaction already exists")

	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrSyncFailed is matched by every *SyncError.
	ErrSyncFailed = errors.New("sync failed")

	ErrInvalidAmount = &ValidationError{Field: "amount", Reason: "must be a positive decimal number"}
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// SyncError is a failed remote mirror call. Status is the HTTP status when
// there was one.
type SyncError struct {
	Operation SyncOperation
	Status    int
	Message   string
	Err       error
}

func (e *SyncError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("sync %s: status %d: %s", e.Operation, e.Status, msg)
	}
	return fmt.Sprintf("sync %s: %s", e.Operation, msg)
}

func (e *SyncError) Is(target error) bool {
	return target == ErrSyncFailed
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

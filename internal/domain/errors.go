package domain

import "fmt"

// ValidationError is returned before any persistence is attempted.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func NewValidationError(field string, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// CommitError reports a sale commit that was rolled back as a whole.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("sale commit failed: %v", e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

type BackupIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *BackupIOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("backup %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("backup %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *BackupIOError) Unwrap() error { return e.Err }

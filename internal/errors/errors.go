package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when input parameters are malformed
	ErrValidation = errors.New("invalid input parameters")

	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("resource not found")

	// ErrDuplicate is returned when attempting to create a duplicate resource
	ErrDuplicate = errors.New("resource already exists")

	// ErrAuth is returned when the platform rejects our credentials
	ErrAuth = errors.New("platform authentication failed")

	// ErrRateLimit is returned when the platform API rate limit is exceeded
	ErrRateLimit = errors.New("platform api rate limit exceeded")

	// ErrTransient is returned on retryable platform failures (5xx, timeouts)
	ErrTransient = errors.New("transient platform error")

	// ErrDatabase is returned when a database operation fails
	ErrDatabase = errors.New("database error")

	// ErrRepositoryInactive is returned when sync is requested for a disabled repository
	ErrRepositoryInactive = errors.New("repository is disabled")

	// ErrSyncInProgress is returned when a sync run is already active for the repository
	ErrSyncInProgress = errors.New("sync already in progress")
)

// AdapterError wraps a failure from a platform adapter call, classified as
// retryable or not per the adapter contract.
type AdapterError struct {
	Platform   string
	Op         string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *AdapterError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s adapter operation %s failed with status %d: %v", e.Platform, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s adapter operation %s failed: %v", e.Platform, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(platform, op string, statusCode int, retryable bool, err error) error {
	return &AdapterError{
		Platform:   platform,
		Op:         op,
		StatusCode: statusCode,
		Retryable:  retryable,
		Err:        err,
	}
}

// IsRetryable reports whether err (anywhere in its chain) is a retryable
// adapter failure. Non-adapter errors are never retryable.
func IsRetryable(err error) bool {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTransient)
}

// ReconcileError records one malformed remote record skipped during a batch.
// It is accumulated into the sync summary, never propagated past the batch.
type ReconcileError struct {
	Kind     string
	RecordID string
	Err      error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("reconciling %s %s failed: %v", e.Kind, e.RecordID, e.Err)
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// NewReconcileError creates a new ReconcileError
func NewReconcileError(kind, recordID string, err error) error {
	return &ReconcileError{
		Kind:     kind,
		RecordID: recordID,
		Err:      err,
	}
}

// SyncError represents a fatal failure of one sync kind (commits or merge
// requests) after retries are exhausted.
type SyncError struct {
	RepositoryID int64
	Kind         string
	Page         int
	Err          error
}

func (e *SyncError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("sync of %s failed for repository %d at page %d: %v", e.Kind, e.RepositoryID, e.Page, e.Err)
	}
	return fmt.Sprintf("sync of %s failed for repository %d: %v", e.Kind, e.RepositoryID, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewSyncError creates a new SyncError
func NewSyncError(repoID int64, kind string, page int, err error) error {
	return &SyncError{
		RepositoryID: repoID,
		Kind:         kind,
		Page:         page,
		Err:          err,
	}
}

// DatabaseError represents a database operation error
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database operation %s failed: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}

// NewDatabaseError creates a new DatabaseError
func NewDatabaseError(op string, err error) error {
	return &DatabaseError{
		Op:  op,
		Err: err,
	}
}

// ValidationError carries the offending field for caller-facing messages.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError creates a new ValidationError
func NewValidationError(field string, err error) error {
	return &ValidationError{
		Field: field,
		Err:   err,
	}
}

// Is checks if the target error matches any of our custom errors
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

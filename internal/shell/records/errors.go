// Package records is the authoritative in-memory view of deployments. Every
// read and write goes through it; the persistent store is a best-effort
// mirror used to survive restarts.
package records

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrNotFound is returned when a deployment record does not exist.
	ErrNotFound = errors.New("deployment not found")

	// ErrDuplicateID is returned when creating a record with an existing ID.
	ErrDuplicateID = errors.New("deployment with this ID already exists")
)

// RecordError wraps errors with additional context.
type RecordError struct {
	Op      string // Operation that failed (e.g., "Update")
	ID      string // Deployment ID if applicable
	Message string
	Err     error
}

func (e *RecordError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.ID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// NewRecordError creates a new RecordError.
func NewRecordError(op, id, message string, err error) *RecordError {
	return &RecordError{
		Op:      op,
		ID:      id,
		Message: message,
		Err:     err,
	}
}

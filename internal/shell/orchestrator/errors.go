package orchestrator

import (
	"errors"
	"fmt"

	"github.com/berthd/berth/internal/core/ports"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrValidation is returned for malformed creation requests. Nothing
	// has been allocated when it surfaces.
	ErrValidation = errors.New("invalid deployment request")

	// ErrAdmissionRejected is returned when the deployment count is at the
	// configured ceiling.
	ErrAdmissionRejected = errors.New("deployment limit reached")

	// ErrPortsExhausted is returned when no free host port was found.
	ErrPortsExhausted = ports.ErrExhausted

	// ErrBuildFailed is returned when image pull or build failed.
	ErrBuildFailed = errors.New("image build failed")

	// ErrStartFailed is returned when the container did not start or did
	// not stay running through verification.
	ErrStartFailed = errors.New("container start failed")

	// ErrNotFound is returned for operations on unknown deployment IDs.
	ErrNotFound = errors.New("deployment not found")
)

// DeployError wraps errors with additional context.
type DeployError struct {
	Op      string // Operation that failed (e.g., "Deploy")
	ID      string // Deployment ID if applicable
	Message string
	Err     error
}

func (e *DeployError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.ID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *DeployError) Unwrap() error {
	return e.Err
}

// NewDeployError creates a new DeployError.
func NewDeployError(op, id, message string, err error) *DeployError {
	return &DeployError{
		Op:      op,
		ID:      id,
		Message: message,
		Err:     err,
	}
}

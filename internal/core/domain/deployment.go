// Package domain contains the pure deployment model: entities, status
// state machine, and creation-time validation. No I/O happens here.
package domain

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Deployment Errors
// =============================================================================

var (
	ErrInvalidSourceKind = errors.New("invalid source kind")
	ErrEmptySourceRef    = errors.New("source reference must not be empty")
	ErrInvalidPort       = errors.New("target port must be between 1 and 65535")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// =============================================================================
// Source Kinds
// =============================================================================

// SourceKind identifies what kind of artifact a deployment was created from.
type SourceKind string

const (
	SourceImage     SourceKind = "image"
	SourceGit       SourceKind = "git"
	SourceUpload    SourceKind = "upload"
	SourceSynthetic SourceKind = "synthetic-test"
)

// ValidSourceKind reports whether kind is one of the supported source kinds.
func ValidSourceKind(kind SourceKind) bool {
	switch kind {
	case SourceImage, SourceGit, SourceUpload, SourceSynthetic:
		return true
	}
	return false
}

// =============================================================================
// Deployment Status
// =============================================================================

type Status string

const (
	StatusPending  Status = "pending"
	StatusBuilding Status = "building"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
	StatusStopped  Status = "stopped"
)

// =============================================================================
// Deployment
// =============================================================================

// Deployment represents a single user-requested workload instance and the
// resources bound to it (host port, container, tunnel, build directory).
type Deployment struct {
	ID            string     `json:"id"`
	SourceKind    SourceKind `json:"source_kind"`
	SourceRef     string     `json:"source_ref"`
	Status        Status     `json:"status"`
	LocalAddress  string     `json:"local_address,omitempty"`
	PublicAddress string     `json:"public_address,omitempty"`
	ContainerID   string     `json:"container_id,omitempty"`
	HostPort      int        `json:"host_port,omitempty"`
	TargetPort    int        `json:"target_port"`
	BuildDir      string     `json:"build_dir,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	StoppedAt     *time.Time `json:"stopped_at,omitempty"`
}

// NewDeployment validates the request parameters and returns a pending
// deployment. Validation happens before any resource is touched: a rejected
// request must leave no trace.
func NewDeployment(kind SourceKind, sourceRef string, targetPort int) (*Deployment, error) {
	if !ValidSourceKind(kind) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSourceKind, kind)
	}
	if sourceRef == "" && kind != SourceSynthetic {
		return nil, ErrEmptySourceRef
	}
	if targetPort < 1 || targetPort > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, targetPort)
	}

	now := time.Now().UTC()
	return &Deployment{
		ID:         NewID(),
		SourceKind: kind,
		SourceRef:  sourceRef,
		TargetPort: targetPort,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Transition attempts to move the deployment to a new status.
func (d *Deployment) Transition(to Status) error {
	if err := ValidateTransition(d.Status, to); err != nil {
		return err
	}

	d.Status = to
	now := time.Now().UTC()
	d.UpdatedAt = now

	if to == StatusRunning {
		d.StartedAt = &now
	}
	if to == StatusStopped {
		d.StoppedAt = &now
	}

	return nil
}

// Fail moves the deployment to failed with a diagnostic message. A deployment
// can fail from any non-terminal state.
func (d *Deployment) Fail(message string) error {
	switch d.Status {
	case StatusPending, StatusBuilding, StatusRunning:
		d.Status = StatusFailed
		d.ErrorMessage = message
		d.UpdatedAt = time.Now().UTC()
		return nil
	default:
		return ErrInvalidTransition
	}
}

// AttachPublicAddress records the tunnel URL on the deployment. The public
// address transitions at most once from absent to present; later calls are
// no-ops. Reports whether the address was attached.
func (d *Deployment) AttachPublicAddress(url string) bool {
	if d.PublicAddress != "" || url == "" {
		return false
	}
	d.PublicAddress = url
	d.UpdatedAt = time.Now().UTC()
	return true
}

// =============================================================================
// State Machine
// =============================================================================

// validTransitions defines the allowed status transitions. Stopped is
// terminal and reachable only through explicit deletion.
var validTransitions = map[Status][]Status{
	StatusPending:  {StatusBuilding, StatusFailed},
	StatusBuilding: {StatusRunning, StatusFailed},
	StatusRunning:  {StatusStopped, StatusFailed},
	StatusFailed:   {StatusStopped},
	StatusStopped:  {},
}

// ValidateTransition checks if a status transition is valid.
func ValidateTransition(from, to Status) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return ErrInvalidTransition
	}

	for _, s := range allowed {
		if s == to {
			return nil
		}
	}

	return ErrInvalidTransition
}

// =============================================================================
// ID Generation
// =============================================================================

// NewID generates a short opaque deployment identifier. Uniqueness comes
// from the generation scheme, not from the record store.
func NewID() string {
	buf := make([]byte, 6)
	rand.Read(buf)
	return hex.EncodeToString(buf)
}

// ContainerName generates the container name for a deployment.
// Pattern: berth_{deploymentID}
func ContainerName(deploymentID string) string {
	return fmt.Sprintf("berth_%s", deploymentID)
}

// ImageTag generates the image tag for a locally built deployment image.
// Pattern: berth/{deploymentID}:latest
func ImageTag(deploymentID string) string {
	return fmt.Sprintf("berth/%s:latest", deploymentID)
}

// LocalURL formats the host-local reachable URL for an allocated host port.
func LocalURL(host string, port int) string {
	return fmt.Sprintf("http://%s:%d", host, port)
}

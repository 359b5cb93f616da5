package api

import "github.com/berthd/berth/internal/core/domain"

// =============================================================================
// Request Types
// =============================================================================

// CreateDeploymentRequest is the request body for creating a deployment.
type CreateDeploymentRequest struct {
	SourceKind string `json:"source_kind"`
	SourceRef  string `json:"source_ref"`
	TargetPort int    `json:"target_port"`
}

// =============================================================================
// Response Types
// =============================================================================

// CreateDeploymentResponse is the immediate answer to a creation. The public
// address shows up on the deployment record once its tunnel is up.
type CreateDeploymentResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ListDeploymentsResponse wraps the deployment list.
type ListDeploymentsResponse struct {
	Deployments []domain.Deployment `json:"deployments"`
	Count       int                 `json:"count"`
}

// DeleteDeploymentResponse reports a completed deletion and any per-step
// warnings.
type DeleteDeploymentResponse struct {
	Deleted  bool     `json:"deleted"`
	Warnings []string `json:"warnings,omitempty"`
}

// LogsResponse wraps container log output.
type LogsResponse struct {
	Logs string `json:"logs"`
}

// UploadResponse returns the token a creation request passes as its source
// reference.
type UploadResponse struct {
	Token string `json:"token"`
}

// ErrorResponse is the error envelope for all failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

package orchestrator

import (
	"context"
	"errors"

	"github.com/berthd/berth/internal/core/domain"
	"github.com/berthd/berth/internal/shell/docker"
	"github.com/berthd/berth/internal/shell/records"
)

// =============================================================================
// Status and Logs
// =============================================================================

// DeploymentStatus is a record snapshot merged with live container
// inspection. Container is nil when the deployment has no container or
// inspection failed.
type DeploymentStatus struct {
	Deployment domain.Deployment      `json:"deployment"`
	Container  *docker.ContainerState `json:"container,omitempty"`
}

// List returns snapshots of all deployments ordered by creation time.
func (o *Orchestrator) List(ctx context.Context) []domain.Deployment {
	return o.records.List()
}

// GetStatus returns the record for a deployment together with the live
// state of its container. Inspection failures degrade to record-only.
func (o *Orchestrator) GetStatus(ctx context.Context, id string) (*DeploymentStatus, error) {
	d, err := o.records.Get(id)
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			return nil, NewDeployError("GetStatus", id, "not found", ErrNotFound)
		}
		return nil, NewDeployError("GetStatus", id, "failed to load record", err)
	}

	status := &DeploymentStatus{Deployment: d}
	if d.ContainerID != "" {
		state, err := o.docker.InspectContainer(ctx, d.ContainerID)
		if err != nil {
			o.logger.Warn("failed to inspect container for status", "deployment_id", id, "error", err)
		} else {
			status.Container = state
		}
	}

	return status, nil
}

// Logs returns the last tail lines of a deployment's container output.
func (o *Orchestrator) Logs(ctx context.Context, id string, tail int) (string, error) {
	d, err := o.records.Get(id)
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			return "", NewDeployError("Logs", id, "not found", ErrNotFound)
		}
		return "", NewDeployError("Logs", id, "failed to load record", err)
	}
	if d.ContainerID == "" {
		return "", NewDeployError("Logs", id, "deployment has no container", ErrNotFound)
	}

	logs, err := o.docker.ContainerLogs(ctx, d.ContainerID, tail)
	if err != nil {
		return "", NewDeployError("Logs", id, "failed to fetch container logs", err)
	}

	return logs, nil
}

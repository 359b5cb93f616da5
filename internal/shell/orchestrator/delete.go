package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/berthd/berth/internal/core/domain"
	"github.com/berthd/berth/internal/shell/docker"
	"github.com/berthd/berth/internal/shell/records"
)

// =============================================================================
// Delete
// =============================================================================

// Delete tears down a deployment: container, tunnel, host port, build
// directory, uploaded file, record. Every step runs regardless of earlier
// step failures; failures come back as warnings alongside overall success.
// Only an unknown ID is an error.
func (o *Orchestrator) Delete(ctx context.Context, id string) ([]string, error) {
	d, err := o.records.Get(id)
	if err != nil {
		if errors.Is(err, records.ErrNotFound) {
			return nil, NewDeployError("Delete", id, "not found", ErrNotFound)
		}
		return nil, NewDeployError("Delete", id, "failed to load record", err)
	}

	o.hub.Broadcast(id, "deleting", 0)
	var warnings []string

	if d.ContainerID != "" {
		if err := o.docker.StopContainer(ctx, d.ContainerID, o.config.StopGrace); err != nil && !errors.Is(err, docker.ErrContainerNotFound) {
			warnings = append(warnings, fmt.Sprintf("container stop: %v", err))
		}
		if err := o.docker.RemoveContainer(ctx, d.ContainerID, true); err != nil {
			warnings = append(warnings, fmt.Sprintf("container removal: %v", err))
		}
	}

	if err := o.tunnels.Close(id); err != nil {
		warnings = append(warnings, fmt.Sprintf("tunnel close: %v", err))
	}

	if d.HostPort > 0 {
		o.allocator.Release(d.HostPort)
	}

	if d.BuildDir != "" {
		if err := o.workspace.Cleanup(d.BuildDir); err != nil {
			warnings = append(warnings, fmt.Sprintf("build directory cleanup: %v", err))
		}
	}

	if d.SourceKind == domain.SourceUpload {
		if err := o.uploads.Remove(d.SourceRef); err != nil {
			warnings = append(warnings, fmt.Sprintf("upload cleanup: %v", err))
		}
	}

	if err := o.records.Delete(ctx, id); err != nil && !errors.Is(err, records.ErrNotFound) {
		warnings = append(warnings, fmt.Sprintf("record removal: %v", err))
	}

	o.hub.Broadcast(id, "deleted", 100)

	if len(warnings) > 0 {
		o.logger.Warn("deployment deleted with warnings", "deployment_id", id, "warnings", warnings)
	} else {
		o.logger.Info("deployment deleted", "deployment_id", id)
	}

	return warnings, nil
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/berthd/berth/internal/core/admission"
	"github.com/berthd/berth/internal/core/domain"
	"github.com/berthd/berth/internal/shell/docker"
	"github.com/berthd/berth/internal/shell/git"
	"github.com/berthd/berth/internal/shell/tunnel"
)

// =============================================================================
// Deploy
// =============================================================================

// Request describes a deployment to create.
type Request struct {
	SourceKind domain.SourceKind `json:"source_kind"`
	SourceRef  string            `json:"source_ref"`
	TargetPort int               `json:"target_port"`
}

// Result is the immediate answer to a successful creation. The public
// address arrives later, once the tunnel is up.
type Result struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Deploy runs the creation sequence: validate, admit, allocate a port,
// acquire the image, start the container, verify it stays up. Any failure
// past admission rolls back everything acquired so far before surfacing.
// Tunnel provisioning happens after return, on a detached goroutine.
func (o *Orchestrator) Deploy(ctx context.Context, req Request) (*Result, error) {
	d, err := domain.NewDeployment(req.SourceKind, req.SourceRef, req.TargetPort)
	if err != nil {
		return nil, NewDeployError("Deploy", "", err.Error(), ErrValidation)
	}
	if d.SourceKind == domain.SourceGit {
		if err := git.ValidateURL(d.SourceRef); err != nil {
			return nil, NewDeployError("Deploy", "", err.Error(), ErrValidation)
		}
	}

	if err := o.admit(ctx, d); err != nil {
		return nil, err
	}
	port := d.HostPort

	o.hub.Broadcast(d.ID, "validating request", 5)
	o.hub.Broadcast(d.ID, "port allocated", 10)
	o.logger.Info("deployment admitted", "deployment_id", d.ID, "source_kind", string(d.SourceKind), "host_port", port)

	if _, err := o.records.Update(ctx, d.ID, func(d *domain.Deployment) error {
		return d.Transition(domain.StatusBuilding)
	}); err != nil {
		o.rollback(ctx, d.ID, port, "", "")
		return nil, NewDeployError("Deploy", d.ID, "failed to mark building", err)
	}

	if d.SourceKind == domain.SourceSynthetic {
		return o.finishSynthetic(ctx, d)
	}

	image, buildDir, err := o.acquireImage(ctx, d)
	if err != nil {
		o.rollback(ctx, d.ID, port, buildDir, "")
		return nil, NewDeployError("Deploy", d.ID, err.Error(), ErrBuildFailed)
	}

	o.hub.Broadcast(d.ID, "creating container", 70)
	containerID, err := o.docker.CreateContainer(ctx, containerSpec(d, image))
	if err != nil {
		o.rollback(ctx, d.ID, port, buildDir, "")
		return nil, NewDeployError("Deploy", d.ID, fmt.Sprintf("failed to create container: %v", err), ErrStartFailed)
	}

	o.hub.Broadcast(d.ID, "starting container", 80)
	if err := o.docker.StartContainer(ctx, containerID); err != nil {
		o.rollback(ctx, d.ID, port, buildDir, containerID)
		return nil, NewDeployError("Deploy", d.ID, fmt.Sprintf("failed to start container: %v", err), ErrStartFailed)
	}

	o.hub.Broadcast(d.ID, "verifying container", 90)
	if err := o.verifyRunning(ctx, containerID); err != nil {
		o.rollback(ctx, d.ID, port, buildDir, containerID)
		return nil, NewDeployError("Deploy", d.ID, err.Error(), ErrStartFailed)
	}

	updated, err := o.records.Update(ctx, d.ID, func(d *domain.Deployment) error {
		d.ContainerID = containerID
		d.BuildDir = buildDir
		return d.Transition(domain.StatusRunning)
	})
	if err != nil {
		o.rollback(ctx, d.ID, port, buildDir, containerID)
		return nil, NewDeployError("Deploy", d.ID, "failed to mark running", err)
	}

	o.hub.Broadcast(d.ID, "running", 100)
	o.logger.Info("deployment running", "deployment_id", d.ID, "container_id", containerID, "url", updated.LocalAddress)

	go o.attachTunnel(d.ID, port)

	return &Result{ID: d.ID, URL: updated.LocalAddress}, nil
}

// admit holds one lock across the ceiling check, port allocation, and record
// registration, so two concurrent creations at the ceiling cannot both slip
// through between check and registration. On success the deployment carries
// its allocated host port and local address.
func (o *Orchestrator) admit(ctx context.Context, d *domain.Deployment) error {
	o.admitMu.Lock()
	defer o.admitMu.Unlock()

	if result := admission.ValidateCreate(o.records.Count(), o.config.MaxDeployments); !result.Allowed {
		return NewDeployError("Deploy", "", result.Reason, ErrAdmissionRejected)
	}

	port, err := o.allocator.Allocate()
	if err != nil {
		return NewDeployError("Deploy", d.ID, "no free host port", err)
	}
	d.HostPort = port
	d.LocalAddress = domain.LocalURL(o.config.Host, port)

	if err := o.records.Create(ctx, d); err != nil {
		o.allocator.Release(port)
		return NewDeployError("Deploy", d.ID, "failed to register deployment", err)
	}
	return nil
}

// finishSynthetic completes a synthetic deployment, which exists to exercise
// the record and port machinery without touching the container engine.
func (o *Orchestrator) finishSynthetic(ctx context.Context, d *domain.Deployment) (*Result, error) {
	updated, err := o.records.Update(ctx, d.ID, func(d *domain.Deployment) error {
		return d.Transition(domain.StatusRunning)
	})
	if err != nil {
		o.rollback(ctx, d.ID, d.HostPort, "", "")
		return nil, NewDeployError("Deploy", d.ID, "failed to mark running", err)
	}

	o.hub.Broadcast(d.ID, "running", 100)
	return &Result{ID: d.ID, URL: updated.LocalAddress}, nil
}

// =============================================================================
// Image Acquisition
// =============================================================================

// acquireImage produces a runnable image for the deployment: pulled for
// image sources, built from a clone for git sources, built from the stored
// Dockerfile for upload sources. It returns the image reference and the
// build directory, if one was created.
func (o *Orchestrator) acquireImage(ctx context.Context, d *domain.Deployment) (image, buildDir string, err error) {
	switch d.SourceKind {
	case domain.SourceImage:
		o.hub.Broadcast(d.ID, "pulling image", 20)
		if err := o.docker.PullImage(ctx, d.SourceRef, o.statusRelay(d.ID, 35)); err != nil {
			return "", "", fmt.Errorf("failed to pull %s: %w", d.SourceRef, err)
		}
		o.hub.Broadcast(d.ID, "image ready", 50)
		return d.SourceRef, "", nil

	case domain.SourceGit:
		o.hub.Broadcast(d.ID, "cloning repository", 20)
		buildDir, err := o.workspace.Prepare(d.ID)
		if err != nil {
			return "", "", fmt.Errorf("failed to prepare workspace: %w", err)
		}
		if err := o.clone(ctx, d.SourceRef, buildDir); err != nil {
			return "", buildDir, err
		}
		o.hub.Broadcast(d.ID, "repository cloned", 30)

		tag := domain.ImageTag(d.ID)
		o.hub.Broadcast(d.ID, "building image", 35)
		if err := o.docker.BuildImage(ctx, buildDir, tag, o.statusRelay(d.ID, 45)); err != nil {
			return "", buildDir, err
		}
		o.hub.Broadcast(d.ID, "image built", 60)
		return tag, buildDir, nil

	case domain.SourceUpload:
		path, err := o.uploads.Path(d.SourceRef)
		if err != nil {
			return "", "", fmt.Errorf("failed to resolve upload: %w", err)
		}

		tag := domain.ImageTag(d.ID)
		o.hub.Broadcast(d.ID, "building image", 30)
		if err := o.docker.BuildImageFromFile(ctx, path, tag, o.statusRelay(d.ID, 45)); err != nil {
			return "", "", err
		}
		o.hub.Broadcast(d.ID, "image built", 60)
		return tag, "", nil

	default:
		return "", "", fmt.Errorf("unsupported source kind %q", d.SourceKind)
	}
}

// statusRelay forwards engine status lines onto the progress hub at a fixed
// percentage within the current phase band.
func (o *Orchestrator) statusRelay(deploymentID string, percent int) func(string) {
	return func(line string) {
		if line = strings.TrimSpace(line); line != "" {
			o.hub.Broadcast(deploymentID, line, percent)
		}
	}
}

// containerSpec maps a deployment onto a container to create.
func containerSpec(d *domain.Deployment, image string) docker.ContainerSpec {
	return docker.ContainerSpec{
		Name:          domain.ContainerName(d.ID),
		Image:         image,
		ContainerPort: d.TargetPort,
		HostPort:      d.HostPort,
		Labels: map[string]string{
			"berth.deployment": d.ID,
		},
	}
}

// verifyRunning re-inspects the container after a short settle delay. A
// container that exited immediately fails the deployment with its last log
// lines attached.
func (o *Orchestrator) verifyRunning(ctx context.Context, containerID string) error {
	if o.config.VerifySettle > 0 {
		select {
		case <-time.After(o.config.VerifySettle):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	state, err := o.docker.InspectContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("failed to verify container: %w", err)
	}
	if !state.Running {
		logs, logErr := o.docker.ContainerLogs(ctx, containerID, o.config.LogTail)
		if logErr != nil {
			logs = fmt.Sprintf("(logs unavailable: %v)", logErr)
		}
		return fmt.Errorf("container exited during verification (exit code %d): %s", state.ExitCode, strings.TrimSpace(logs))
	}

	return nil
}

// =============================================================================
// Rollback
// =============================================================================

// rollback undoes a partially completed creation: the container, the build
// directory, the host port, and the record itself. Failed creations leave no
// trace beyond logs.
func (o *Orchestrator) rollback(ctx context.Context, id string, port int, buildDir, containerID string) {
	o.hub.Broadcast(id, "rolling back", 100)

	if containerID != "" {
		if err := o.docker.RemoveContainer(ctx, containerID, true); err != nil {
			o.logger.Warn("rollback: failed to remove container", "deployment_id", id, "container_id", containerID, "error", err)
		}
	}
	if buildDir != "" {
		if err := o.workspace.Cleanup(buildDir); err != nil {
			o.logger.Warn("rollback: failed to remove build directory", "deployment_id", id, "error", err)
		}
	}

	o.allocator.Release(port)

	if err := o.records.Delete(ctx, id); err != nil {
		o.logger.Warn("rollback: failed to remove record", "deployment_id", id, "error", err)
	}

	o.logger.Info("deployment rolled back", "deployment_id", id)
}

// =============================================================================
// Tunnel Attachment
// =============================================================================

// attachTunnel runs after the creation response has been sent: wait for the
// workload to accept connections, then provision a tunnel and attach its URL
// to the record. Every failure here degrades to local-only reachability; the
// attach is a no-op when the deployment was deleted in the meantime.
func (o *Orchestrator) attachTunnel(id string, port int) {
	ctx := context.Background()

	address := fmt.Sprintf("%s:%d", o.config.Host, port)
	if err := o.probe(ctx, address); err != nil {
		o.logger.Warn("readiness probe failed, provisioning tunnel anyway", "deployment_id", id, "error", err)
	}

	url, err := o.tunnels.Provision(ctx, id, port)
	if err != nil {
		if !errors.Is(err, tunnel.ErrDisabled) {
			o.logger.Warn("tunnel provisioning failed, deployment stays local-only", "deployment_id", id, "error", err)
		}
		return
	}

	_, err = o.records.Update(ctx, id, func(d *domain.Deployment) error {
		d.AttachPublicAddress(url)
		return nil
	})
	if err != nil {
		// Deleted while the tunnel came up.
		o.tunnels.Close(id)
		return
	}

	o.hub.Broadcast(id, "public address attached", 100)
}

// Package docker wraps the container engine for deployment workloads:
// image pull/build with incremental status streams, and the container
// create/start/inspect/logs/stop/remove lifecycle.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/archive"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// =============================================================================
// Docker Client Implementation
// =============================================================================

// DockerClient implements the Client interface using the Docker SDK.
type DockerClient struct {
	cli *client.Client
}

// NewDockerClient creates a new Docker client. If host is empty, the default
// Docker host from the environment is used.
func NewDockerClient(host string) (*DockerClient, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, NewDockerError("NewDockerClient", "", "", "failed to create client", ErrConnectionFailed)
	}

	return &DockerClient{cli: cli}, nil
}

// Ping checks if the Docker daemon is reachable.
func (d *DockerClient) Ping(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return NewDockerError("Ping", "", "", fmt.Sprintf("failed to ping docker: %v", err), ErrConnectionFailed)
	}
	return nil
}

// Close closes the Docker client connection.
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// =============================================================================
// Image Operations
// =============================================================================

// PullImage pulls an image from the registry, streaming decoded status lines.
func (d *DockerClient) PullImage(ctx context.Context, ref string, onStatus StatusFunc) error {
	reader, err := d.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "not found") ||
			strings.Contains(errStr, "manifest unknown") ||
			strings.Contains(errStr, "repository does not exist") ||
			strings.Contains(errStr, "pull access denied") {
			return NewDockerError("PullImage", "image", ref, "image not found", ErrImageNotFound)
		}
		return NewDockerError("PullImage", "image", ref, errStr, ErrImagePullFailed)
	}
	defer reader.Close()

	if err := drainStream(reader, onStatus); err != nil {
		return NewDockerError("PullImage", "image", ref, err.Error(), ErrImagePullFailed)
	}
	return nil
}

// BuildImage builds an image from a context directory using its Dockerfile.
func (d *DockerClient) BuildImage(ctx context.Context, contextDir, tag string, onStatus StatusFunc) error {
	return d.build(ctx, contextDir, "", tag, onStatus)
}

// BuildImageFromFile builds an image from a standalone Dockerfile. The build
// context is the file's directory, so the file itself is all that feeds
// the build.
func (d *DockerClient) BuildImageFromFile(ctx context.Context, dockerfilePath, tag string, onStatus StatusFunc) error {
	return d.build(ctx, filepath.Dir(dockerfilePath), filepath.Base(dockerfilePath), tag, onStatus)
}

func (d *DockerClient) build(ctx context.Context, contextDir, dockerfile, tag string, onStatus StatusFunc) error {
	buildCtx, err := archive.TarWithOptions(contextDir, &archive.TarOptions{})
	if err != nil {
		return NewDockerError("BuildImage", "image", tag, fmt.Sprintf("create build context: %v", err), ErrImageBuildFailed)
	}
	defer buildCtx.Close()

	opts := types.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  dockerfile,
		Remove:      true,
		ForceRemove: true,
	}
	resp, err := d.cli.ImageBuild(ctx, buildCtx, opts)
	if err != nil {
		return NewDockerError("BuildImage", "image", tag, err.Error(), ErrImageBuildFailed)
	}
	defer resp.Body.Close()

	if err := drainStream(resp.Body, onStatus); err != nil {
		return NewDockerError("BuildImage", "image", tag, err.Error(), ErrImageBuildFailed)
	}
	return nil
}

// =============================================================================
// Container Operations
// =============================================================================

// CreateContainer creates a container binding one container port to one
// host port.
func (d *DockerClient) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	containerPort := nat.Port(fmt.Sprintf("%d/tcp", spec.ContainerPort))

	config := &container.Config{
		Image:  spec.Image,
		Labels: spec.Labels,
		ExposedPorts: nat.PortSet{
			containerPort: struct{}{},
		},
	}
	for k, v := range spec.Env {
		config.Env = append(config.Env, fmt.Sprintf("%s=%s", k, v))
	}

	hostConfig := &container.HostConfig{
		PortBindings: nat.PortMap{
			containerPort: []nat.PortBinding{
				{HostPort: fmt.Sprintf("%d", spec.HostPort)},
			},
		},
	}

	resp, err := d.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	if err != nil {
		if strings.Contains(err.Error(), "Conflict") {
			return "", NewDockerError("CreateContainer", "container", spec.Name, "container already exists", ErrContainerAlreadyExists)
		}
		if strings.Contains(err.Error(), "port is already allocated") {
			return "", NewDockerError("CreateContainer", "container", spec.Name, err.Error(), ErrPortAlreadyAllocated)
		}
		return "", NewDockerError("CreateContainer", "container", spec.Name, err.Error(), err)
	}

	return resp.ID, nil
}

// StartContainer starts a created container.
func (d *DockerClient) StartContainer(ctx context.Context, containerID string) error {
	if err := d.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		if client.IsErrNotFound(err) {
			return NewDockerError("StartContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return NewDockerError("StartContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

// InspectContainer returns the container's live running state and exit info.
func (d *DockerClient) InspectContainer(ctx context.Context, containerID string) (*ContainerState, error) {
	resp, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, NewDockerError("InspectContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return nil, NewDockerError("InspectContainer", "container", containerID, err.Error(), err)
	}

	return stateFromInspect(resp), nil
}

// stateFromInspect maps an engine inspect response onto a ContainerState.
// The engine can answer without a state block for containers caught
// mid-creation; those come back as not running rather than panicking.
func stateFromInspect(resp types.ContainerJSON) *ContainerState {
	state := &ContainerState{}
	if resp.ContainerJSONBase == nil {
		return state
	}
	state.ID = resp.ID

	if resp.State == nil {
		return state
	}
	state.Status = resp.State.Status
	state.Running = resp.State.Running
	state.ExitCode = resp.State.ExitCode

	if t := parseEngineTime(resp.State.StartedAt); t != nil {
		state.StartedAt = t
	}
	if t := parseEngineTime(resp.State.FinishedAt); t != nil {
		state.FinishedAt = t
	}
	return state
}

// ContainerExists reports whether a container is known to the runtime.
func (d *DockerClient) ContainerExists(ctx context.Context, containerID string) (bool, error) {
	_, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, NewDockerError("ContainerExists", "container", containerID, err.Error(), err)
	}
	return true, nil
}

// ContainerLogs returns the last tailLines of a container's output as text.
func (d *DockerClient) ContainerLogs(ctx context.Context, containerID string, tailLines int) (string, error) {
	reader, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       fmt.Sprintf("%d", tailLines),
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return "", NewDockerError("ContainerLogs", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return "", NewDockerError("ContainerLogs", "container", containerID, err.Error(), err)
	}
	defer reader.Close()

	// The engine multiplexes stdout/stderr into one stream.
	var buf bytes.Buffer
	if _, err := stdcopy.StdCopy(&buf, &buf, reader); err != nil {
		return "", NewDockerError("ContainerLogs", "container", containerID, err.Error(), err)
	}
	return buf.String(), nil
}

// StopContainer stops a running container with a grace period.
func (d *DockerClient) StopContainer(ctx context.Context, containerID string, grace time.Duration) error {
	seconds := int(grace.Seconds())
	err := d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds})
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewDockerError("StopContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return NewDockerError("StopContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

// RemoveContainer removes a container.
func (d *DockerClient) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	err := d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         force,
		RemoveVolumes: true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return NewDockerError("RemoveContainer", "container", containerID, "container not found", ErrContainerNotFound)
		}
		return NewDockerError("RemoveContainer", "container", containerID, err.Error(), err)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// parseEngineTime parses the engine's RFC3339 timestamps, treating the zero
// value it reports for unset fields as absent.
func parseEngineTime(value string) *time.Time {
	if value == "" || value == "0001-01-01T00:00:00Z" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return nil
	}
	return &t
}

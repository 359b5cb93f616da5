package docker

import (
	"context"
	"time"
)

// =============================================================================
// Client Interface
// =============================================================================

// StatusFunc receives human-readable status lines from long-running image
// operations (pull, build). Callers map these onto progress events.
type StatusFunc func(line string)

// Client abstracts the container engine operations the orchestrator needs.
type Client interface {
	// Image operations
	PullImage(ctx context.Context, ref string, onStatus StatusFunc) error
	BuildImage(ctx context.Context, contextDir, tag string, onStatus StatusFunc) error
	BuildImageFromFile(ctx context.Context, dockerfilePath, tag string, onStatus StatusFunc) error

	// Container lifecycle
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	InspectContainer(ctx context.Context, containerID string) (*ContainerState, error)
	ContainerExists(ctx context.Context, containerID string) (bool, error)
	ContainerLogs(ctx context.Context, containerID string, tailLines int) (string, error)
	StopContainer(ctx context.Context, containerID string, grace time.Duration) error
	RemoveContainer(ctx context.Context, containerID string, force bool) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// Specs and State
// =============================================================================

// ContainerSpec describes a container to create: one image, one exposed
// container port bound to one host port.
type ContainerSpec struct {
	Name          string
	Image         string
	ContainerPort int
	HostPort      int
	Env           map[string]string
	Labels        map[string]string
}

// ContainerState is the subset of inspection data the orchestrator acts on.
type ContainerState struct {
	ID         string
	Running    bool
	Status     string
	ExitCode   int
	StartedAt  *time.Time
	FinishedAt *time.Time
}

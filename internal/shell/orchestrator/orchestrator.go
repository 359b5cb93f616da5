// Package orchestrator coordinates the deployment sequence: admission, port
// allocation, image acquisition, container lifecycle, tunnel provisioning,
// and cleanup. All state it touches is injected at construction; there are
// no package-level singletons.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/berthd/berth/internal/core/domain"
	"github.com/berthd/berth/internal/core/ports"
	"github.com/berthd/berth/internal/shell/docker"
	"github.com/berthd/berth/internal/shell/git"
	"github.com/berthd/berth/internal/shell/progress"
	"github.com/berthd/berth/internal/shell/records"
	"github.com/berthd/berth/internal/shell/workspace"
)

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// TunnelProvisioner opens and closes public tunnels for deployments.
type TunnelProvisioner interface {
	Provision(ctx context.Context, deploymentID string, localPort int) (string, error)
	Close(deploymentID string) error
	CloseAll()
}

// UploadResolver resolves upload tokens to stored Dockerfile paths.
type UploadResolver interface {
	Path(token string) (string, error)
	Remove(token string) error
}

// CloneFunc clones a git repository into a destination directory.
type CloneFunc func(ctx context.Context, repoURL, dest string) error

// ProbeFunc checks TCP reachability of a freshly started container.
type ProbeFunc func(ctx context.Context, address string) error

// =============================================================================
// Configuration
// =============================================================================

// Config configures the orchestrator's timing and limits.
type Config struct {
	// Host is the hostname used in local URLs.
	Host string

	// MaxDeployments caps concurrent deployment records. Zero means
	// unlimited.
	MaxDeployments int

	// StopGrace is how long a container gets to stop before being killed.
	StopGrace time.Duration

	// VerifySettle is the pause between container start and the
	// verification inspection.
	VerifySettle time.Duration

	// LogTail is how many log lines to attach to start failures.
	LogTail int

	// ReadyAttempts and ReadyInterval bound the advisory readiness probe
	// that runs before tunnel provisioning.
	ReadyAttempts int
	ReadyInterval time.Duration
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Host:           "localhost",
		MaxDeployments: 20,
		StopGrace:      10 * time.Second,
		VerifySettle:   2 * time.Second,
		LogTail:        50,
		ReadyAttempts:  10,
		ReadyInterval:  500 * time.Millisecond,
	}
}

// =============================================================================
// Orchestrator
// =============================================================================

// Orchestrator owns the deployment sequence end to end.
type Orchestrator struct {
	config    Config
	records   *records.Records
	allocator *ports.Allocator
	docker    docker.Client
	tunnels   TunnelProvisioner
	hub       *progress.Hub
	workspace *workspace.Manager
	uploads   UploadResolver
	clone     CloneFunc
	probe     ProbeFunc
	logger    *slog.Logger

	// admitMu serializes the ceiling check with record registration so
	// concurrent creations cannot overshoot the limit.
	admitMu sync.Mutex
}

// Options bundles the orchestrator's collaborators.
type Options struct {
	Config    Config
	Records   *records.Records
	Allocator *ports.Allocator
	Docker    docker.Client
	Tunnels   TunnelProvisioner
	Hub       *progress.Hub
	Workspace *workspace.Manager
	Uploads   UploadResolver
	Clone     CloneFunc
	Probe     ProbeFunc
	Logger    *slog.Logger
}

// New creates an orchestrator. Clone and Probe default to the real git
// clone and a TCP readiness probe; tests inject their own.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		config:    opts.Config,
		records:   opts.Records,
		allocator: opts.Allocator,
		docker:    opts.Docker,
		tunnels:   opts.Tunnels,
		hub:       opts.Hub,
		workspace: opts.Workspace,
		uploads:   opts.Uploads,
		clone:     opts.Clone,
		probe:     opts.Probe,
		logger:    opts.Logger,
	}

	if o.config.Host == "" {
		o.config.Host = "localhost"
	}
	if o.config.LogTail == 0 {
		o.config.LogTail = 50
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	o.logger = o.logger.With("component", "orchestrator")

	if o.clone == nil {
		o.clone = git.Clone
	}
	if o.probe == nil {
		o.probe = func(ctx context.Context, address string) error {
			return docker.WaitReady(ctx, address, o.config.ReadyAttempts, o.config.ReadyInterval)
		}
	}

	return o
}

// =============================================================================
// Stats and Health
// =============================================================================

// Stats summarizes deployment counts by status.
type Stats struct {
	Total   int `json:"total"`
	Running int `json:"running"`
	Failed  int `json:"failed"`
}

// Health is the liveness summary exposed by the health endpoint.
type Health struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// Stats returns deployment counts by status.
func (o *Orchestrator) Stats() Stats {
	stats := Stats{}
	for _, d := range o.records.List() {
		stats.Total++
		switch d.Status {
		case domain.StatusRunning:
			stats.Running++
		case domain.StatusFailed:
			stats.Failed++
		}
	}
	return stats
}

// Health reports service liveness and the current deployment count.
func (o *Orchestrator) Health() Health {
	return Health{Status: "ok", Count: o.records.Count()}
}

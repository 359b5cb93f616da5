// Package workers contains background workers for Berth.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/berthd/berth/internal/core/domain"
	"github.com/berthd/berth/internal/shell/docker"
	"github.com/berthd/berth/internal/shell/progress"
	"github.com/berthd/berth/internal/shell/records"
)

// MonitorConfig configures the deployment monitor worker.
type MonitorConfig struct {
	// Interval is the time between sweep cycles. Default: 30 seconds.
	Interval time.Duration
}

// DefaultMonitorConfig returns the default configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{Interval: 30 * time.Second}
}

// ReleaseFunc returns a host port to the allocator.
type ReleaseFunc func(port int)

// CloseTunnelFunc terminates a deployment's tunnel.
type CloseTunnelFunc func(deploymentID string) error

// Monitor periodically sweeps running deployments and marks the ones whose
// container died or disappeared as failed, releasing their host port and
// tunnel. It catches failures that happen long after start verification.
type Monitor struct {
	records     *records.Records
	inspector   records.ContainerInspector
	release     ReleaseFunc
	closeTunnel CloseTunnelFunc
	hub         *progress.Hub
	config      MonitorConfig
	logger      *slog.Logger

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a new deployment monitor worker.
func NewMonitor(
	recs *records.Records,
	inspector records.ContainerInspector,
	release ReleaseFunc,
	closeTunnel CloseTunnelFunc,
	hub *progress.Hub,
	config MonitorConfig,
	logger *slog.Logger,
) *Monitor {
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		records:     recs,
		inspector:   inspector,
		release:     release,
		closeTunnel: closeTunnel,
		hub:         hub,
		config:      config,
		logger:      logger.With("component", "monitor"),
	}
}

// Start begins the monitor background goroutine.
func (m *Monitor) Start() {
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.wg.Add(1)
	go m.run()

	m.logger.Info("deployment monitor started", "interval", m.config.Interval)
}

// Stop gracefully stops the monitor. It waits for an in-progress sweep to
// complete.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("deployment monitor stopped")
}

// run is the main loop that sweeps periodically.
func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(m.ctx)
		}
	}
}

// Sweep inspects every running deployment's container once.
func (m *Monitor) Sweep(ctx context.Context) {
	for _, d := range m.records.List() {
		if d.Status != domain.StatusRunning || d.ContainerID == "" {
			continue
		}

		state, err := m.inspector.InspectContainer(ctx, d.ContainerID)
		switch {
		case errors.Is(err, docker.ErrContainerNotFound):
			m.fail(ctx, d, "container removed outside berth")

		case err != nil:
			m.logger.Warn("failed to inspect container", "deployment_id", d.ID, "error", err)

		case !state.Running:
			m.fail(ctx, d, "container stopped unexpectedly")
		}
	}
}

// fail marks a deployment failed and releases the resources that only make
// sense for a live container. The record's host port is zeroed in the same
// update so a later explicit delete cannot release the port a second time
// after it has been handed to another deployment.
func (m *Monitor) fail(ctx context.Context, d domain.Deployment, reason string) {
	port := d.HostPort
	if _, err := m.records.Update(ctx, d.ID, func(d *domain.Deployment) error {
		if err := d.Fail(reason); err != nil {
			return err
		}
		d.HostPort = 0
		return nil
	}); err != nil {
		m.logger.Warn("failed to mark deployment failed", "deployment_id", d.ID, "error", err)
		return
	}

	if port > 0 {
		m.release(port)
	}
	if err := m.closeTunnel(d.ID); err != nil {
		m.logger.Warn("failed to close tunnel", "deployment_id", d.ID, "error", err)
	}

	m.hub.Broadcast(d.ID, reason, 100)
	m.logger.Info("marked deployment failed", "deployment_id", d.ID, "reason", reason)
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/berthd/berth/internal/core/ports"
	"github.com/berthd/berth/internal/shell/api"
	"github.com/berthd/berth/internal/shell/docker"
	"github.com/berthd/berth/internal/shell/orchestrator"
	"github.com/berthd/berth/internal/shell/progress"
	"github.com/berthd/berth/internal/shell/records"
	"github.com/berthd/berth/internal/shell/store"
	"github.com/berthd/berth/internal/shell/tunnel"
	"github.com/berthd/berth/internal/shell/upload"
	"github.com/berthd/berth/internal/shell/workers"
	"github.com/berthd/berth/internal/shell/workspace"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess         = 0
	ExitConfigError     = 1
	ExitDatabaseError   = 2
	ExitDockerError     = 3
	ExitHTTPServerError = 4
)

// =============================================================================
// Server
// =============================================================================

// Server represents the Berth application server.
type Server struct {
	config     *Config
	httpServer *http.Server
	store      store.Store
	docker     docker.Client
	records    *records.Records
	allocator  *ports.Allocator
	tunnels    *tunnel.Provisioner
	hub        *progress.Hub
	monitor    *workers.Monitor
	logger     *slog.Logger
}

// NewServer creates a new server with the given config.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	// Connect to database
	s, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDatabaseError}
	}

	// Connect to Docker
	d, err := docker.NewDockerClient(cfg.Docker.Host)
	if err != nil {
		s.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDockerError}
	}

	// Verify Docker connection
	if err := d.Ping(context.Background()); err != nil {
		s.Close()
		d.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDockerError}
	}

	tunnels, err := tunnel.NewProvisioner(tunnel.Config{
		Enabled:    cfg.Tunnel.Enabled,
		Command:    cfg.Tunnel.Command,
		URLPattern: cfg.Tunnel.URLPattern,
		Timeout:    cfg.Tunnel.Timeout,
	}, logger)
	if err != nil {
		s.Close()
		d.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
	}

	ws, err := workspace.NewManager(cfg.Workspace.Root)
	if err != nil {
		s.Close()
		d.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
	}

	uploads, err := upload.NewManager(cfg.Uploads.Dir, cfg.Uploads.MaxBytes)
	if err != nil {
		s.Close()
		d.Close()
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitConfigError}
	}

	recs := records.New(s, logger)
	allocator := ports.NewAllocator(ports.Config{
		MinPort:     cfg.Ports.Min,
		MaxPort:     cfg.Ports.Max,
		MaxAttempts: cfg.Ports.MaxAttempts,
	})
	hub := progress.NewHub()

	orch := orchestrator.New(orchestrator.Options{
		Config: orchestrator.Config{
			Host:           cfg.Deploy.Host,
			MaxDeployments: cfg.Limits.MaxDeployments,
			StopGrace:      cfg.Deploy.StopGrace,
			VerifySettle:   cfg.Deploy.VerifySettle,
			LogTail:        cfg.Deploy.LogTail,
			ReadyAttempts:  cfg.Deploy.ReadyAttempts,
			ReadyInterval:  cfg.Deploy.ReadyInterval,
		},
		Records:   recs,
		Allocator: allocator,
		Docker:    d,
		Tunnels:   tunnels,
		Hub:       hub,
		Workspace: ws,
		Uploads:   uploads,
		Logger:    logger,
	})

	var monitor *workers.Monitor
	if cfg.Monitor.Enabled {
		monitor = workers.NewMonitor(recs, d, allocator.Release, tunnels.Close, hub,
			workers.MonitorConfig{Interval: cfg.Monitor.Interval}, logger)
	}

	handler := api.NewHandler(orch, uploads, hub, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &Server{
		config:     cfg,
		httpServer: httpServer,
		store:      s,
		docker:     d,
		records:    recs,
		allocator:  allocator,
		tunnels:    tunnels,
		hub:        hub,
		monitor:    monitor,
		logger:     logger,
	}, nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Rebuild in-memory state from the persisted table and the live
	// container runtime before accepting requests.
	if err := s.records.Load(ctx); err != nil {
		return &ServerError{Op: "Start", Err: err, ExitCode: ExitDatabaseError}
	}
	if err := s.records.Reconcile(ctx, s.docker, s.allocator.Claim); err != nil {
		return &ServerError{Op: "Start", Err: err, ExitCode: ExitDockerError}
	}

	// Start deployment monitor in background
	if s.monitor != nil {
		s.monitor.Start()
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", s.config.Server.Address())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		return &ServerError{Op: "Start", Err: err, ExitCode: ExitHTTPServerError}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

// Shutdown gracefully shuts down the server. Running containers are left
// alone so they survive restarts; only process-owned resources are released.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	// Shutdown HTTP server
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Stop the deployment monitor
	if s.monitor != nil {
		s.monitor.Stop()
	}

	// Stop the progress hub, disconnecting observers
	s.hub.Stop()

	// Terminate tunnel subprocesses; they are re-provisioned on restart
	s.tunnels.CloseAll()

	// Close Docker client
	if err := s.docker.Close(); err != nil {
		s.logger.Error("Docker client close error", "error", err)
	}

	// Close database
	if err := s.store.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	}

	s.logger.Info("shutdown complete")
	return nil
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}

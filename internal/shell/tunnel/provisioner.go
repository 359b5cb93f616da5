// Package tunnel provisions public URLs for deployments by spawning an
// external tunneling subprocess and scraping its output for the published
// address. Provisioning is best-effort: a deployment stays reachable on its
// local address when no tunnel comes up.
package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrDisabled is returned when tunnel provisioning is turned off.
	ErrDisabled = errors.New("tunnel provisioning disabled")

	// ErrTimeout is returned when no URL appeared before the deadline.
	ErrTimeout = errors.New("tunnel URL not seen before timeout")

	// ErrProcessExited is returned when the subprocess died before
	// publishing a URL.
	ErrProcessExited = errors.New("tunnel process exited before publishing a URL")
)

// =============================================================================
// Config
// =============================================================================

// Config configures the tunnel provisioner.
type Config struct {
	// Enabled turns provisioning on. When false every Provision call
	// resolves to "no public URL" immediately.
	Enabled bool

	// Command is the subprocess argv. The placeholder {port} is replaced
	// with the deployment's host port in every argument.
	Command []string

	// URLPattern matches the public URL in the subprocess output.
	URLPattern string

	// Timeout bounds how long to wait for the URL before killing the
	// subprocess and degrading to local-only.
	Timeout time.Duration
}

// DefaultConfig returns a configuration for cloudflared quick tunnels.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Command:    []string{"cloudflared", "tunnel", "--url", "http://localhost:{port}"},
		URLPattern: `https://[a-zA-Z0-9-]+\.trycloudflare\.com`,
		Timeout:    30 * time.Second,
	}
}

// =============================================================================
// Provisioner
// =============================================================================

// Tunnel is one open tunnel owned by exactly one deployment.
type Tunnel struct {
	DeploymentID string
	PublicURL    string

	cancel context.CancelFunc
	exited <-chan error
}

// Provisioner spawns and tracks tunnel subprocesses keyed by deployment id.
type Provisioner struct {
	config  Config
	pattern *regexp.Regexp
	logger  *slog.Logger

	mu   sync.Mutex
	open map[string]*Tunnel
}

// NewProvisioner creates a provisioner, compiling the URL pattern up front.
func NewProvisioner(config Config, logger *slog.Logger) (*Provisioner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.URLPattern == "" {
		config.URLPattern = DefaultConfig().URLPattern
	}
	if len(config.Command) == 0 {
		config.Command = DefaultConfig().Command
	}

	pattern, err := regexp.Compile(config.URLPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid tunnel URL pattern: %w", err)
	}

	return &Provisioner{
		config:  config,
		pattern: pattern,
		logger:  logger.With("component", "tunnel"),
		open:    make(map[string]*Tunnel),
	}, nil
}

// Provision launches the tunnel subprocess for a local port and waits for it
// to publish a URL. On timeout, spawn failure, or early exit the subprocess
// is terminated and an error describing the degradation is returned; callers
// must treat any error as "no public URL", never as a deployment failure.
func (p *Provisioner) Provision(ctx context.Context, deploymentID string, localPort int) (string, error) {
	if !p.config.Enabled {
		return "", ErrDisabled
	}

	args := renderCommand(p.config.Command, localPort)

	// The subprocess outlives this call on success, so its lifetime hangs
	// off a detached context rather than the caller's.
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(procCtx, args[0], args[1:]...)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	scanner := newURLScanner(p.pattern)
	matchCh := make(chan string, 1)
	exitCh := make(chan error, 1)

	if err := cmd.Start(); err != nil {
		cancel()
		pw.Close()
		scanner.finish(stateErrored)
		return "", fmt.Errorf("spawn %s: %w", args[0], err)
	}

	go scanOutput(pr, scanner, matchCh)
	go func() {
		err := cmd.Wait()
		pw.Close()
		exitCh <- err
	}()

	timer := time.NewTimer(p.config.Timeout)
	defer timer.Stop()

	select {
	case url := <-matchCh:
		t := &Tunnel{
			DeploymentID: deploymentID,
			PublicURL:    url,
			cancel:       cancel,
			exited:       exitCh,
		}
		p.mu.Lock()
		p.open[deploymentID] = t
		p.mu.Unlock()
		p.logger.Info("tunnel established", "deployment_id", deploymentID, "url", url)
		return url, nil

	case <-timer.C:
		scanner.finish(stateTimedOut)
		cancel()
		<-exitCh
		return "", ErrTimeout

	case err := <-exitCh:
		scanner.finish(stateErrored)
		cancel()
		if err == nil {
			err = ErrProcessExited
		}
		return "", fmt.Errorf("%w: %v", ErrProcessExited, err)

	case <-ctx.Done():
		scanner.finish(stateErrored)
		cancel()
		<-exitCh
		return "", ctx.Err()
	}
}

// Close terminates the tunnel for a deployment and removes its registration.
// Idempotent: closing an unknown or already-closed tunnel is a no-op.
func (p *Provisioner) Close(deploymentID string) error {
	p.mu.Lock()
	t, ok := p.open[deploymentID]
	delete(p.open, deploymentID)
	p.mu.Unlock()

	if !ok {
		return nil
	}

	t.cancel()
	select {
	case <-t.exited:
	case <-time.After(5 * time.Second):
		p.logger.Warn("tunnel process did not exit promptly", "deployment_id", deploymentID)
	}

	p.logger.Info("tunnel closed", "deployment_id", deploymentID)
	return nil
}

// CloseAll terminates every open tunnel. Used at shutdown.
func (p *Provisioner) CloseAll() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.open))
	for id := range p.open {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.Close(id)
	}
}

// OpenCount returns the number of registered tunnels.
func (p *Provisioner) OpenCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.open)
}

// PublicURL returns the registered URL for a deployment, if any.
func (p *Provisioner) PublicURL(deploymentID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.open[deploymentID]
	if !ok {
		return "", false
	}
	return t.PublicURL, true
}

// =============================================================================
// Helpers
// =============================================================================

// scanOutput reads the combined output stream line by line, feeding the URL
// scanner. It keeps draining after a match so the subprocess never blocks on
// a full pipe.
func scanOutput(r io.Reader, scanner *urlScanner, matchCh chan<- string) {
	lines := bufio.NewScanner(r)
	lines.Buffer(make([]byte, 64*1024), 64*1024)
	for lines.Scan() {
		if url, ok := scanner.feed(lines.Text()); ok {
			matchCh <- url
		}
	}
}

// renderCommand substitutes the {port} placeholder in the configured argv.
func renderCommand(command []string, port int) []string {
	out := make([]string, len(command))
	for i, arg := range command {
		out[i] = strings.ReplaceAll(arg, "{port}", strconv.Itoa(port))
	}
	return out
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/berthd/berth/internal/core/domain"
	"github.com/berthd/berth/internal/core/ports"
	"github.com/berthd/berth/internal/shell/docker"
	"github.com/berthd/berth/internal/shell/progress"
	"github.com/berthd/berth/internal/shell/records"
	"github.com/berthd/berth/internal/shell/workers"
	"github.com/berthd/berth/internal/shell/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Fakes
// =============================================================================

type memStore struct {
	mu   sync.Mutex
	rows map[string]domain.Deployment
}

func newMemStore() *memStore { return &memStore{rows: make(map[string]domain.Deployment)} }

func (m *memStore) CreateDeployment(_ context.Context, d *domain.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[d.ID] = *d
	return nil
}

func (m *memStore) GetDeployment(_ context.Context, id string) (*domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.rows[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &d, nil
}

func (m *memStore) UpdateDeployment(_ context.Context, d *domain.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[d.ID] = *d
	return nil
}

func (m *memStore) DeleteDeployment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *memStore) ListDeployments(_ context.Context) ([]domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Deployment, 0, len(m.rows))
	for _, d := range m.rows {
		out = append(out, d)
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }

// fakeDocker records calls and lets tests script failures.
type fakeDocker struct {
	mu sync.Mutex

	pulls   []string
	builds  []string
	creates []docker.ContainerSpec
	starts  []string
	removes []string

	pullErr    error
	buildErr   error
	createErr  error
	startErr   error
	stopErr    error
	removeErr  error
	inspectFn  func(containerID string) (*docker.ContainerState, error)
	logsOutput string
}

func newFakeDocker() *fakeDocker {
	return &fakeDocker{
		inspectFn: func(containerID string) (*docker.ContainerState, error) {
			return &docker.ContainerState{ID: containerID, Running: true, Status: "running"}, nil
		},
	}
}

func (f *fakeDocker) PullImage(_ context.Context, ref string, onStatus docker.StatusFunc) error {
	f.mu.Lock()
	f.pulls = append(f.pulls, ref)
	f.mu.Unlock()
	if f.pullErr != nil {
		return f.pullErr
	}
	if onStatus != nil {
		onStatus("Pulling from library/" + ref)
	}
	return nil
}

func (f *fakeDocker) BuildImage(_ context.Context, _, tag string, _ docker.StatusFunc) error {
	f.mu.Lock()
	f.builds = append(f.builds, tag)
	f.mu.Unlock()
	return f.buildErr
}

func (f *fakeDocker) BuildImageFromFile(_ context.Context, _, tag string, _ docker.StatusFunc) error {
	f.mu.Lock()
	f.builds = append(f.builds, tag)
	f.mu.Unlock()
	return f.buildErr
}

func (f *fakeDocker) CreateContainer(_ context.Context, spec docker.ContainerSpec) (string, error) {
	f.mu.Lock()
	f.creates = append(f.creates, spec)
	f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	return "ctr_" + spec.Name, nil
}

func (f *fakeDocker) StartContainer(_ context.Context, containerID string) error {
	f.mu.Lock()
	f.starts = append(f.starts, containerID)
	f.mu.Unlock()
	return f.startErr
}

func (f *fakeDocker) InspectContainer(_ context.Context, containerID string) (*docker.ContainerState, error) {
	return f.inspectFn(containerID)
}

func (f *fakeDocker) ContainerExists(_ context.Context, _ string) (bool, error) { return true, nil }

func (f *fakeDocker) ContainerLogs(_ context.Context, _ string, _ int) (string, error) {
	return f.logsOutput, nil
}

func (f *fakeDocker) StopContainer(_ context.Context, _ string, _ time.Duration) error {
	return f.stopErr
}

func (f *fakeDocker) RemoveContainer(_ context.Context, containerID string, _ bool) error {
	f.mu.Lock()
	f.removes = append(f.removes, containerID)
	f.mu.Unlock()
	return f.removeErr
}

func (f *fakeDocker) Ping(_ context.Context) error { return nil }
func (f *fakeDocker) Close() error                 { return nil }

func (f *fakeDocker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pulls) + len(f.builds) + len(f.creates) + len(f.starts)
}

// fakeTunnels returns a canned URL and records closes.
type fakeTunnels struct {
	mu           sync.Mutex
	url          string
	provisionErr error
	provisioned  []string
	closed       []string
}

func (f *fakeTunnels) Provision(_ context.Context, deploymentID string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provisioned = append(f.provisioned, deploymentID)
	if f.provisionErr != nil {
		return "", f.provisionErr
	}
	return f.url, nil
}

func (f *fakeTunnels) Close(deploymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, deploymentID)
	return nil
}

func (f *fakeTunnels) CloseAll() {}

func (f *fakeTunnels) closedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

type fakeUploads struct {
	paths   map[string]string
	removed []string
}

func (f *fakeUploads) Path(token string) (string, error) {
	p, ok := f.paths[token]
	if !ok {
		return "", errors.New("unknown upload token")
	}
	return p, nil
}

func (f *fakeUploads) Remove(token string) error {
	f.removed = append(f.removed, token)
	return nil
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	orch      *Orchestrator
	records   *records.Records
	allocator *ports.Allocator
	docker    *fakeDocker
	tunnels   *fakeTunnels
	uploads   *fakeUploads
	hub       *progress.Hub
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recs := records.New(newMemStore(), logger)
	alloc := ports.NewAllocator(ports.Config{MinPort: 10000, MaxPort: 10100, MaxAttempts: 200})
	dkr := newFakeDocker()
	tun := &fakeTunnels{url: "https://example.trycloudflare.com"}
	upl := &fakeUploads{paths: make(map[string]string)}
	hub := progress.NewHub()
	t.Cleanup(hub.Stop)

	ws, err := workspace.NewManager(t.TempDir())
	require.NoError(t, err)

	opts := Options{
		Config: Config{
			Host:           "localhost",
			MaxDeployments: 20,
			VerifySettle:   0,
			LogTail:        10,
		},
		Records:   recs,
		Allocator: alloc,
		Docker:    dkr,
		Tunnels:   tun,
		Hub:       hub,
		Workspace: ws,
		Uploads:   upl,
		Clone:     func(_ context.Context, _, _ string) error { return nil },
		Probe:     func(_ context.Context, _ string) error { return nil },
		Logger:    logger,
	}
	if mutate != nil {
		mutate(&opts)
	}

	return &harness{
		orch:      New(opts),
		records:   recs,
		allocator: opts.Allocator,
		docker:    dkr,
		tunnels:   tun,
		uploads:   upl,
		hub:       hub,
	}
}

// =============================================================================
// Creation
// =============================================================================

func TestDeployImage(t *testing.T) {
	h := newHarness(t, nil)

	result, err := h.orch.Deploy(context.Background(), Request{
		SourceKind: domain.SourceImage,
		SourceRef:  "nginx:alpine",
		TargetPort: 80,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ID)
	assert.True(t, strings.HasPrefix(result.URL, "http://localhost:"), "got %s", result.URL)

	list := h.orch.List(context.Background())
	require.Len(t, list, 1)
	assert.Equal(t, result.ID, list[0].ID)
	assert.Equal(t, domain.StatusRunning, list[0].Status)

	assert.Equal(t, []string{"nginx:alpine"}, h.docker.pulls)
	assert.Equal(t, 1, h.allocator.InUse())

	// The tunnel attaches after the response, on its own goroutine.
	require.Eventually(t, func() bool {
		d, err := h.records.Get(result.ID)
		return err == nil && d.PublicAddress == "https://example.trycloudflare.com"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDeployValidationError(t *testing.T) {
	h := newHarness(t, nil)

	tests := []struct {
		name string
		req  Request
	}{
		{name: "bad kind", req: Request{SourceKind: "tarball", SourceRef: "x", TargetPort: 80}},
		{name: "empty ref", req: Request{SourceKind: domain.SourceImage, SourceRef: "", TargetPort: 80}},
		{name: "bad port", req: Request{SourceKind: domain.SourceImage, SourceRef: "nginx", TargetPort: 0}},
		{name: "bad git url", req: Request{SourceKind: domain.SourceGit, SourceRef: "/local/path", TargetPort: 80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.orch.Deploy(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	// Rejected before any resource was touched.
	assert.Equal(t, 0, h.allocator.InUse())
	assert.Empty(t, h.orch.List(context.Background()))
}

func TestDeployAdmissionRejected(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Config.MaxDeployments = 1 })
	ctx := context.Background()

	_, err := h.orch.Deploy(ctx, Request{SourceKind: domain.SourceSynthetic, TargetPort: 80})
	require.NoError(t, err)

	portsBefore := h.allocator.InUse()
	countBefore := len(h.orch.List(ctx))

	_, err = h.orch.Deploy(ctx, Request{SourceKind: domain.SourceSynthetic, TargetPort: 80})
	assert.ErrorIs(t, err, ErrAdmissionRejected)

	assert.Equal(t, portsBefore, h.allocator.InUse())
	assert.Len(t, h.orch.List(ctx), countBefore)
}

func TestDeployPortsExhausted(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Allocator = ports.NewAllocator(ports.Config{MinPort: 10000, MaxPort: 10001, MaxAttempts: 5})
	})
	ctx := context.Background()

	_, err := h.orch.Deploy(ctx, Request{SourceKind: domain.SourceSynthetic, TargetPort: 80})
	require.NoError(t, err)

	_, err = h.orch.Deploy(ctx, Request{SourceKind: domain.SourceSynthetic, TargetPort: 80})
	assert.ErrorIs(t, err, ErrPortsExhausted)
}

func TestDeployGit(t *testing.T) {
	cloned := false
	h := newHarness(t, func(o *Options) {
		o.Clone = func(_ context.Context, repoURL, dest string) error {
			cloned = true
			assert.Equal(t, "https://github.com/example/app.git", repoURL)
			assert.NotEmpty(t, dest)
			return nil
		}
	})

	result, err := h.orch.Deploy(context.Background(), Request{
		SourceKind: domain.SourceGit,
		SourceRef:  "https://github.com/example/app.git",
		TargetPort: 3000,
	})
	require.NoError(t, err)
	assert.True(t, cloned)
	assert.Equal(t, []string{domain.ImageTag(result.ID)}, h.docker.builds)
}

func TestDeployUpload(t *testing.T) {
	h := newHarness(t, nil)
	h.uploads.paths["tok1"] = "/uploads/tok1/Dockerfile"

	result, err := h.orch.Deploy(context.Background(), Request{
		SourceKind: domain.SourceUpload,
		SourceRef:  "tok1",
		TargetPort: 8080,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{domain.ImageTag(result.ID)}, h.docker.builds)
}

func TestDeploySyntheticSkipsEngine(t *testing.T) {
	h := newHarness(t, nil)

	result, err := h.orch.Deploy(context.Background(), Request{
		SourceKind: domain.SourceSynthetic,
		TargetPort: 80,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, h.docker.callCount())

	d, err := h.records.Get(result.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, d.Status)
	assert.Empty(t, d.ContainerID)
}

func TestDeployBuildFailureRollsBack(t *testing.T) {
	h := newHarness(t, nil)
	h.docker.pullErr = errors.New("manifest unknown")

	_, err := h.orch.Deploy(context.Background(), Request{
		SourceKind: domain.SourceImage,
		SourceRef:  "ghost:latest",
		TargetPort: 80,
	})
	assert.ErrorIs(t, err, ErrBuildFailed)

	assert.Equal(t, 0, h.allocator.InUse())
	assert.Empty(t, h.orch.List(context.Background()))
}

func TestDeployStartVerificationFailureRollsBack(t *testing.T) {
	h := newHarness(t, nil)
	h.docker.logsOutput = "panic: cannot bind"
	h.docker.inspectFn = func(containerID string) (*docker.ContainerState, error) {
		return &docker.ContainerState{ID: containerID, Running: false, Status: "exited", ExitCode: 1}, nil
	}

	_, err := h.orch.Deploy(context.Background(), Request{
		SourceKind: domain.SourceImage,
		SourceRef:  "nginx:alpine",
		TargetPort: 80,
	})
	require.ErrorIs(t, err, ErrStartFailed)
	assert.Contains(t, err.Error(), "cannot bind")

	// Container removed, port released, record gone.
	assert.NotEmpty(t, h.docker.removes)
	assert.Equal(t, 0, h.allocator.InUse())
	assert.Empty(t, h.orch.List(context.Background()))
}

// =============================================================================
// Deletion
// =============================================================================

func deployRunning(t *testing.T, h *harness) *Result {
	t.Helper()
	result, err := h.orch.Deploy(context.Background(), Request{
		SourceKind: domain.SourceImage,
		SourceRef:  "nginx:alpine",
		TargetPort: 80,
	})
	require.NoError(t, err)
	return result
}

func TestDelete(t *testing.T) {
	h := newHarness(t, nil)
	result := deployRunning(t, h)

	warnings, err := h.orch.Delete(context.Background(), result.ID)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	assert.Empty(t, h.orch.List(context.Background()))
	assert.Equal(t, 0, h.allocator.InUse())
	assert.Contains(t, h.tunnels.closedIDs(), result.ID)
}

func TestDeleteWithExternallyRemovedContainer(t *testing.T) {
	h := newHarness(t, nil)
	result := deployRunning(t, h)

	h.docker.stopErr = docker.ErrContainerNotFound
	h.docker.removeErr = docker.ErrContainerNotFound

	warnings, err := h.orch.Delete(context.Background(), result.ID)
	require.NoError(t, err)
	require.NotEmpty(t, warnings)
	assert.Contains(t, warnings[0], "container removal")

	assert.Empty(t, h.orch.List(context.Background()))
}

func TestDeleteClosesTunnelDespiteContainerError(t *testing.T) {
	h := newHarness(t, nil)
	result := deployRunning(t, h)

	h.docker.removeErr = errors.New("engine unreachable")

	warnings, err := h.orch.Delete(context.Background(), result.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, warnings)
	assert.Contains(t, h.tunnels.closedIDs(), result.ID)
	assert.Equal(t, 0, h.allocator.InUse())
}

func TestDeleteNotFound(t *testing.T) {
	h := newHarness(t, nil)
	result := deployRunning(t, h)

	_, err := h.orch.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// No state mutation.
	assert.Len(t, h.orch.List(context.Background()), 1)
	assert.Equal(t, 1, h.allocator.InUse())
	_, err = h.records.Get(result.ID)
	assert.NoError(t, err)
}

func TestDeleteRemovesUpload(t *testing.T) {
	h := newHarness(t, nil)
	h.uploads.paths["tok1"] = "/uploads/tok1/Dockerfile"

	result, err := h.orch.Deploy(context.Background(), Request{
		SourceKind: domain.SourceUpload,
		SourceRef:  "tok1",
		TargetPort: 8080,
	})
	require.NoError(t, err)

	_, err = h.orch.Delete(context.Background(), result.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"tok1"}, h.uploads.removed)
}

// =============================================================================
// Tunnel Attachment
// =============================================================================

func TestTunnelFailureKeepsDeploymentLocal(t *testing.T) {
	h := newHarness(t, func(o *Options) {})
	h.tunnels.provisionErr = errors.New("no tunnel for you")

	result := deployRunning(t, h)

	// Provisioning was attempted and failed; status stays running with no
	// public address.
	require.Eventually(t, func() bool {
		h.tunnels.mu.Lock()
		defer h.tunnels.mu.Unlock()
		return len(h.tunnels.provisioned) == 1
	}, 2*time.Second, 10*time.Millisecond)

	d, err := h.records.Get(result.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRunning, d.Status)
	assert.Empty(t, d.PublicAddress)
}

func TestTunnelAttachAfterDeleteClosesTunnel(t *testing.T) {
	provisionStarted := make(chan struct{})
	provisionRelease := make(chan struct{})

	h := newHarness(t, nil)
	slow := &gatedTunnels{
		inner:   h.tunnels,
		started: provisionStarted,
		release: provisionRelease,
	}
	h.orch.tunnels = slow

	result := deployRunning(t, h)

	<-provisionStarted
	_, err := h.orch.Delete(context.Background(), result.ID)
	require.NoError(t, err)
	close(provisionRelease)

	// Deletion closed once; the late attach finds no record and closes the
	// fresh tunnel a second time instead of leaking it.
	require.Eventually(t, func() bool {
		closes := 0
		for _, id := range h.tunnels.closedIDs() {
			if id == result.ID {
				closes++
			}
		}
		return closes == 2
	}, 2*time.Second, 10*time.Millisecond)
}

// gatedTunnels blocks Provision until released, so tests can interleave a
// deletion with an in-flight tunnel attach.
type gatedTunnels struct {
	inner   *fakeTunnels
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedTunnels) Provision(ctx context.Context, deploymentID string, port int) (string, error) {
	g.once.Do(func() { close(g.started) })
	<-g.release
	return g.inner.Provision(ctx, deploymentID, port)
}

func (g *gatedTunnels) Close(deploymentID string) error { return g.inner.Close(deploymentID) }
func (g *gatedTunnels) CloseAll()                       { g.inner.CloseAll() }

// =============================================================================
// Status, Logs, Stats
// =============================================================================

func TestGetStatusMergesLiveState(t *testing.T) {
	h := newHarness(t, nil)
	result := deployRunning(t, h)

	status, err := h.orch.GetStatus(context.Background(), result.ID)
	require.NoError(t, err)
	assert.Equal(t, result.ID, status.Deployment.ID)
	require.NotNil(t, status.Container)
	assert.True(t, status.Container.Running)
}

func TestGetStatusNotFound(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.GetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLogs(t *testing.T) {
	h := newHarness(t, nil)
	h.docker.logsOutput = "hello from nginx"
	result := deployRunning(t, h)

	logs, err := h.orch.Logs(context.Background(), result.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, "hello from nginx", logs)
}

func TestLogsNotFound(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.orch.Logs(context.Background(), "missing", 10)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStats(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.orch.Deploy(ctx, Request{SourceKind: domain.SourceSynthetic, TargetPort: 80})
		require.NoError(t, err)
	}

	stats := h.orch.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Running)
	assert.Equal(t, 0, stats.Failed)

	health := h.orch.Health()
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 3, health.Count)
}

// =============================================================================
// Port Uniqueness
// =============================================================================

func TestConcurrentDeploymentsGetDistinctPorts(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Config.MaxDeployments = 0 })
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan *Result, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.orch.Deploy(ctx, Request{SourceKind: domain.SourceSynthetic, TargetPort: 80})
			if err == nil {
				results <- result
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[string]struct{})
	for result := range results {
		d, err := h.records.Get(result.ID)
		require.NoError(t, err)
		key := fmt.Sprintf("%d", d.HostPort)
		_, dup := seen[key]
		assert.False(t, dup, "port %d allocated twice", d.HostPort)
		seen[key] = struct{}{}
	}
	assert.Len(t, seen, 10)
}

// A port freed when the monitor fails a dead deployment gets handed to the
// next creation; deleting the failed record afterwards must not free that
// port a second time.
func TestPortReleasedOnceAcrossMonitorFailAndDelete(t *testing.T) {
	h := newHarness(t, func(o *Options) {
		o.Allocator = ports.NewAllocator(ports.Config{MinPort: 10000, MaxPort: 10001, MaxAttempts: 5})
	})
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	first := deployRunning(t, h) // takes the only port
	require.Equal(t, 1, h.allocator.InUse())

	monitor := workers.NewMonitor(h.records, h.docker, h.allocator.Release, h.tunnels.Close, h.hub,
		workers.DefaultMonitorConfig(), logger)

	// Its container dies behind our back; the sweep frees the port.
	h.docker.inspectFn = func(string) (*docker.ContainerState, error) {
		return nil, docker.ErrContainerNotFound
	}
	monitor.Sweep(ctx)
	require.Equal(t, 0, h.allocator.InUse())

	h.docker.inspectFn = func(containerID string) (*docker.ContainerState, error) {
		return &docker.ContainerState{ID: containerID, Running: true, Status: "running"}, nil
	}
	second := deployRunning(t, h) // reuses the freed port

	secondRec, err := h.records.Get(second.ID)
	require.NoError(t, err)
	require.Equal(t, 10000, secondRec.HostPort)

	// Deleting the failed record must leave the second deployment's port
	// claimed.
	_, err = h.orch.Delete(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, h.allocator.InUse())

	_, err = h.orch.Deploy(ctx, Request{SourceKind: domain.SourceSynthetic, TargetPort: 80})
	assert.ErrorIs(t, err, ErrPortsExhausted)
}

func TestConcurrentDeploysRespectCeiling(t *testing.T) {
	h := newHarness(t, func(o *Options) { o.Config.MaxDeployments = 5 })
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.orch.Deploy(ctx, Request{SourceKind: domain.SourceSynthetic, TargetPort: 80})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	admitted := 0
	for err := range errs {
		if err == nil {
			admitted++
			continue
		}
		assert.ErrorIs(t, err, ErrAdmissionRejected)
	}
	assert.Equal(t, 5, admitted)
	assert.Len(t, h.orch.List(ctx), 5)
	assert.Equal(t, 5, h.allocator.InUse())
}

package records

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/berthd/berth/internal/core/domain"
	"github.com/berthd/berth/internal/shell/docker"
	"github.com/berthd/berth/internal/shell/store"
)

// =============================================================================
// Interfaces
// =============================================================================

// ContainerInspector reports the state of a container by name or ID.
type ContainerInspector interface {
	InspectContainer(ctx context.Context, nameOrID string) (*docker.ContainerState, error)
}

// ClaimFunc marks a host port as in use. It returns false when the port is
// already claimed.
type ClaimFunc func(port int) bool

// =============================================================================
// Records
// =============================================================================

// Records holds deployment records in memory and mirrors them to a
// persistent store. The in-memory map is authoritative: mirror failures are
// logged and never surfaced to callers.
type Records struct {
	mu     sync.RWMutex
	byID   map[string]*domain.Deployment
	store  store.Store
	logger *slog.Logger
}

// New creates an empty record set backed by the given store.
func New(st store.Store, logger *slog.Logger) *Records {
	return &Records{
		byID:   make(map[string]*domain.Deployment),
		store:  st,
		logger: logger,
	}
}

// Load reads all persisted records into memory. It is called once at
// startup, before Reconcile.
func (r *Records) Load(ctx context.Context) error {
	deployments, err := r.store.ListDeployments(ctx)
	if err != nil {
		return NewRecordError("Load", "", "failed to list persisted deployments", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range deployments {
		d := deployments[i]
		r.byID[d.ID] = &d
	}

	r.logger.Info("loaded deployment records", "count", len(deployments))
	return nil
}

// Create registers a new deployment record.
func (r *Records) Create(ctx context.Context, deployment *domain.Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[deployment.ID]; exists {
		return NewRecordError("Create", deployment.ID, "duplicate id", ErrDuplicateID)
	}

	stored := *deployment
	r.byID[deployment.ID] = &stored

	if err := r.store.CreateDeployment(ctx, &stored); err != nil {
		r.logger.Warn("failed to persist deployment record", "deployment_id", deployment.ID, "error", err)
	}

	return nil
}

// Get returns a copy of the record with the given ID.
func (r *Records) Get(id string) (domain.Deployment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, exists := r.byID[id]
	if !exists {
		return domain.Deployment{}, NewRecordError("Get", id, "not found", ErrNotFound)
	}

	return *d, nil
}

// List returns copies of all records ordered by creation time.
func (r *Records) List() []domain.Deployment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	deployments := make([]domain.Deployment, 0, len(r.byID))
	for _, d := range r.byID {
		deployments = append(deployments, *d)
	}

	sort.Slice(deployments, func(i, j int) bool {
		if deployments[i].CreatedAt.Equal(deployments[j].CreatedAt) {
			return deployments[i].ID < deployments[j].ID
		}
		return deployments[i].CreatedAt.Before(deployments[j].CreatedAt)
	})

	return deployments
}

// Count returns the number of records, active or not.
func (r *Records) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Update applies mutate to the record under the lock and mirrors the result.
// If mutate returns an error the record is left unchanged and the error is
// returned as-is. The updated copy is returned on success.
func (r *Records) Update(ctx context.Context, id string, mutate func(*domain.Deployment) error) (domain.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, exists := r.byID[id]
	if !exists {
		return domain.Deployment{}, NewRecordError("Update", id, "not found", ErrNotFound)
	}

	scratch := *d
	if err := mutate(&scratch); err != nil {
		return domain.Deployment{}, err
	}
	*d = scratch

	updated := *d
	if err := r.store.UpdateDeployment(ctx, &updated); err != nil {
		r.logger.Warn("failed to persist deployment update", "deployment_id", id, "error", err)
	}

	return updated, nil
}

// Delete removes the record with the given ID.
func (r *Records) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; !exists {
		return NewRecordError("Delete", id, "not found", ErrNotFound)
	}

	delete(r.byID, id)

	if err := r.store.DeleteDeployment(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		r.logger.Warn("failed to delete persisted deployment", "deployment_id", id, "error", err)
	}

	return nil
}

// =============================================================================
// Reconciliation
// =============================================================================

// Reconcile aligns loaded records with the actual container state after a
// restart. Records whose container still runs are rehydrated and their host
// port re-claimed. Records whose container no longer exists are purged from
// memory and the store. A container that exists but is not running marks
// its record failed, kept around so the failure can be inspected.
func (r *Records) Reconcile(ctx context.Context, inspector ContainerInspector, claim ClaimFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, d := range r.byID {
		state, err := inspector.InspectContainer(ctx, domain.ContainerName(id))
		switch {
		case errors.Is(err, docker.ErrContainerNotFound):
			delete(r.byID, id)
			if derr := r.store.DeleteDeployment(ctx, id); derr != nil && !errors.Is(derr, store.ErrNotFound) {
				r.logger.Warn("failed to purge persisted deployment", "deployment_id", id, "error", derr)
			}
			r.logger.Info("purged deployment without container", "deployment_id", id, "last_status", string(d.Status))

		case err != nil:
			r.logger.Warn("failed to inspect container during reconciliation", "deployment_id", id, "error", err)

		case !state.Running:
			if d.Status != domain.StatusFailed {
				d.Fail("container not running after restart")
			}
			// The port was never re-claimed, so the allocator may hand it
			// to a new deployment; zeroing it keeps a later delete of this
			// record from releasing that deployment's port.
			d.HostPort = 0
			r.mirror(ctx, d)
			r.logger.Info("marked deployment with stopped container as failed", "deployment_id", id, "container_status", state.Status)

		default:
			d.ContainerID = state.ID
			d.Status = domain.StatusRunning
			// The tunnel subprocess died with the previous process, so any
			// persisted public address is stale.
			d.PublicAddress = ""
			if d.HostPort > 0 && !claim(d.HostPort) {
				r.logger.Warn("host port already claimed during reconciliation", "deployment_id", id, "host_port", d.HostPort)
			}
			r.mirror(ctx, d)
			r.logger.Info("reconciled running deployment", "deployment_id", id, "host_port", d.HostPort)
		}
	}

	return nil
}

// mirror persists the record best-effort. Callers hold the lock.
func (r *Records) mirror(ctx context.Context, d *domain.Deployment) {
	updated := *d
	if err := r.store.UpdateDeployment(ctx, &updated); err != nil {
		r.logger.Warn("failed to persist deployment record", "deployment_id", d.ID, "error", err)
	}
}

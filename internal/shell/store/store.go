package store

import (
	"context"

	"github.com/berthd/berth/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface for deployment records.
type Store interface {
	CreateDeployment(ctx context.Context, deployment *domain.Deployment) error
	GetDeployment(ctx context.Context, id string) (*domain.Deployment, error)
	UpdateDeployment(ctx context.Context, deployment *domain.Deployment) error
	DeleteDeployment(ctx context.Context, id string) error
	ListDeployments(ctx context.Context) ([]domain.Deployment, error)

	// Lifecycle
	Close() error
}

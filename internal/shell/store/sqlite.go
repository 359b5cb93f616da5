package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/berthd/berth/internal/core/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore creates a new SQLite store and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Deployment Rows
// =============================================================================

// deploymentRow represents a deployment row in the database. Only durable
// fields are mirrored; build directories are ephemeral and stay in memory.
type deploymentRow struct {
	ID            string `db:"id"`
	SourceKind    string `db:"source_kind"`
	SourceRef     string `db:"source_ref"`
	Status        string `db:"status"`
	LocalAddress  string `db:"local_address"`
	PublicAddress string `db:"public_address"`
	ContainerID   string `db:"container_id"`
	HostPort      int    `db:"host_port"`
	TargetPort    int    `db:"target_port"`
	ErrorMessage  string `db:"error_message"`
	CreatedAt     string `db:"created_at"`
	UpdatedAt     string `db:"updated_at"`
}

func toRow(d *domain.Deployment) deploymentRow {
	return deploymentRow{
		ID:            d.ID,
		SourceKind:    string(d.SourceKind),
		SourceRef:     d.SourceRef,
		Status:        string(d.Status),
		LocalAddress:  d.LocalAddress,
		PublicAddress: d.PublicAddress,
		ContainerID:   d.ContainerID,
		HostPort:      d.HostPort,
		TargetPort:    d.TargetPort,
		ErrorMessage:  d.ErrorMessage,
		CreatedAt:     d.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:     d.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func fromRow(row deploymentRow) domain.Deployment {
	createdAt, _ := time.Parse(time.RFC3339Nano, row.CreatedAt)
	updatedAt, _ := time.Parse(time.RFC3339Nano, row.UpdatedAt)

	return domain.Deployment{
		ID:            row.ID,
		SourceKind:    domain.SourceKind(row.SourceKind),
		SourceRef:     row.SourceRef,
		Status:        domain.Status(row.Status),
		LocalAddress:  row.LocalAddress,
		PublicAddress: row.PublicAddress,
		ContainerID:   row.ContainerID,
		HostPort:      row.HostPort,
		TargetPort:    row.TargetPort,
		ErrorMessage:  row.ErrorMessage,
		CreatedAt:     createdAt,
		UpdatedAt:     updatedAt,
	}
}

// =============================================================================
// Deployment Operations
// =============================================================================

func (s *SQLiteStore) CreateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	row := toRow(deployment)

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO deployments (
			id, source_kind, source_ref, status, local_address, public_address,
			container_id, host_port, target_port, error_message, created_at, updated_at
		) VALUES (
			:id, :source_kind, :source_ref, :status, :local_address, :public_address,
			:container_id, :host_port, :target_port, :error_message, :created_at, :updated_at
		)`, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return NewStoreError("CreateDeployment", deployment.ID, "duplicate id", ErrDuplicateID)
		}
		return NewStoreError("CreateDeployment", deployment.ID, err.Error(), err)
	}

	return nil
}

func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	var row deploymentRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM deployments WHERE id = ?`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetDeployment", id, "not found", ErrNotFound)
		}
		return nil, NewStoreError("GetDeployment", id, err.Error(), err)
	}

	d := fromRow(row)
	return &d, nil
}

func (s *SQLiteStore) UpdateDeployment(ctx context.Context, deployment *domain.Deployment) error {
	row := toRow(deployment)

	result, err := s.db.NamedExecContext(ctx, `
		UPDATE deployments SET
			source_kind = :source_kind,
			source_ref = :source_ref,
			status = :status,
			local_address = :local_address,
			public_address = :public_address,
			container_id = :container_id,
			host_port = :host_port,
			target_port = :target_port,
			error_message = :error_message,
			updated_at = :updated_at
		WHERE id = :id`, row)
	if err != nil {
		return NewStoreError("UpdateDeployment", deployment.ID, err.Error(), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return NewStoreError("UpdateDeployment", deployment.ID, err.Error(), err)
	}
	if affected == 0 {
		return NewStoreError("UpdateDeployment", deployment.ID, "not found", ErrNotFound)
	}

	return nil
}

func (s *SQLiteStore) DeleteDeployment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM deployments WHERE id = ?`, id)
	if err != nil {
		return NewStoreError("DeleteDeployment", id, err.Error(), err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return NewStoreError("DeleteDeployment", id, err.Error(), err)
	}
	if affected == 0 {
		return NewStoreError("DeleteDeployment", id, "not found", ErrNotFound)
	}

	return nil
}

func (s *SQLiteStore) ListDeployments(ctx context.Context) ([]domain.Deployment, error) {
	var rows []deploymentRow
	err := s.db.SelectContext(ctx, &rows, `SELECT * FROM deployments ORDER BY created_at`)
	if err != nil {
		return nil, NewStoreError("ListDeployments", "", err.Error(), err)
	}

	deployments := make([]domain.Deployment, 0, len(rows))
	for _, row := range rows {
		deployments = append(deployments, fromRow(row))
	}
	return deployments, nil
}

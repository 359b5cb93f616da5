// Package workspace owns per-deployment build directories under a common
// root. Directories are throwaway: prepared before a build, removed after
// the image exists or the deployment is deleted.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrEmptyRoot is returned when the workspace root is not configured.
	ErrEmptyRoot = errors.New("workspace root cannot be empty")

	// ErrEmptyID is returned when no deployment ID is given.
	ErrEmptyID = errors.New("workspace identifier cannot be empty")

	// ErrOutsideRoot is returned when a cleanup path escapes the root.
	ErrOutsideRoot = errors.New("path outside workspace root")
)

// =============================================================================
// Manager
// =============================================================================

// Manager creates and removes build directories scoped to one root.
type Manager struct {
	root string
}

// NewManager ensures the workspace root exists and returns a manager for it.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		return nil, ErrEmptyRoot
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}
	return &Manager{root: root}, nil
}

// Root returns the workspace root directory.
func (m *Manager) Root() string {
	return m.root
}

// Prepare creates a fresh directory for the given deployment ID. Any
// leftover directory from a previous attempt is removed first.
func (m *Manager) Prepare(id string) (string, error) {
	if id == "" {
		return "", ErrEmptyID
	}

	dir := filepath.Join(m.root, id)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("failed to clear stale workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create workspace: %w", err)
	}

	return dir, nil
}

// Cleanup removes the given directory. Paths outside the root are refused;
// an empty path is a no-op so callers can pass a never-set build dir.
func (m *Manager) Cleanup(path string) error {
	if path == "" {
		return nil
	}

	rel, err := filepath.Rel(m.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ErrOutsideRoot
	}

	return os.RemoveAll(path)
}

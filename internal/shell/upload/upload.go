// Package upload accepts Dockerfiles from clients ahead of deployment. Each
// accepted file gets an opaque token; the deployment request references the
// token instead of carrying file content.
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrInvalidFilename is returned for names that are not Dockerfiles.
	ErrInvalidFilename = errors.New("filename must be Dockerfile or end in .dockerfile")

	// ErrTooLarge is returned when an upload exceeds the size limit.
	ErrTooLarge = errors.New("upload exceeds size limit")

	// ErrEmptyFile is returned for zero-byte uploads.
	ErrEmptyFile = errors.New("upload is empty")

	// ErrUnknownToken is returned when a token has no stored file.
	ErrUnknownToken = errors.New("unknown upload token")
)

// =============================================================================
// Manager
// =============================================================================

// DefaultMaxBytes caps uploads at 512 KiB. A Dockerfile larger than that is
// almost certainly not a Dockerfile.
const DefaultMaxBytes int64 = 512 * 1024

// Manager stores uploaded Dockerfiles on disk keyed by token.
type Manager struct {
	dir      string
	maxBytes int64

	mu    sync.Mutex
	paths map[string]string
}

// NewManager ensures the upload directory exists. maxBytes <= 0 selects
// DefaultMaxBytes.
func NewManager(dir string, maxBytes int64) (*Manager, error) {
	if dir == "" {
		return nil, errors.New("upload directory cannot be empty")
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &Manager{dir: dir, maxBytes: maxBytes, paths: make(map[string]string)}, nil
}

// ValidFilename reports whether name is an acceptable Dockerfile name.
func ValidFilename(name string) bool {
	base := filepath.Base(name)
	return base == "Dockerfile" || strings.HasSuffix(base, ".dockerfile")
}

// Save stores the uploaded content and returns its token.
func (m *Manager) Save(filename string, r io.Reader) (string, error) {
	if !ValidFilename(filename) {
		return "", ErrInvalidFilename
	}

	content, err := io.ReadAll(io.LimitReader(r, m.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(content)) > m.maxBytes {
		return "", ErrTooLarge
	}
	if len(content) == 0 {
		return "", ErrEmptyFile
	}

	token := uuid.NewString()
	tokenDir := filepath.Join(m.dir, token)
	if err := os.MkdirAll(tokenDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create upload directory: %w", err)
	}

	path := filepath.Join(tokenDir, "Dockerfile")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write upload: %w", err)
	}

	m.mu.Lock()
	m.paths[token] = path
	m.mu.Unlock()

	return token, nil
}

// Path resolves a token to the stored Dockerfile path.
func (m *Manager) Path(token string) (string, error) {
	m.mu.Lock()
	path, ok := m.paths[token]
	m.mu.Unlock()

	if !ok {
		return "", ErrUnknownToken
	}
	return path, nil
}

// Remove deletes the stored file for a token. Unknown tokens are a no-op so
// deployment cleanup can call it unconditionally.
func (m *Manager) Remove(token string) error {
	m.mu.Lock()
	_, ok := m.paths[token]
	delete(m.paths, token)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return os.RemoveAll(filepath.Join(m.dir, token))
}

// Package git shells out to the git binary for shallow clones. Builds only
// need the tip of the default branch, so history is never fetched.
package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrEmptyURL is returned when no repository URL is given.
	ErrEmptyURL = errors.New("repository URL cannot be empty")

	// ErrInvalidURL is returned for URLs with an unsupported scheme.
	ErrInvalidURL = errors.New("repository URL must use http, https, or ssh")

	// ErrCloneFailed is returned when the git subprocess fails.
	ErrCloneFailed = errors.New("git clone failed")
)

// =============================================================================
// Clone
// =============================================================================

// ValidateURL checks that repoURL looks like something git can clone
// without an interactive prompt.
func ValidateURL(repoURL string) error {
	if repoURL == "" {
		return ErrEmptyURL
	}
	for _, prefix := range []string{"http://", "https://", "ssh://", "git@"} {
		if strings.HasPrefix(repoURL, prefix) {
			return nil
		}
	}
	return ErrInvalidURL
}

// Clone performs a shallow clone of repoURL into dest. dest must already
// exist; the clone lands in it directly rather than a subdirectory.
func Clone(ctx context.Context, repoURL, dest string) error {
	if err := ValidateURL(repoURL); err != nil {
		return err
	}
	if dest == "" {
		return errors.New("destination cannot be empty")
	}

	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", "--single-branch", repoURL, ".")
	cmd.Dir = dest
	// Never block on a credential prompt.
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s: %s", ErrCloneFailed, err, strings.TrimSpace(string(output)))
	}

	return nil
}

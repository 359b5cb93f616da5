// Package admission provides deployment admission checks.
// All functions are pure (no I/O).
package admission

import "fmt"

// =============================================================================
// Types
// =============================================================================

// Result represents the outcome of an admission check.
type Result struct {
	// Allowed indicates whether the operation is permitted.
	Allowed bool

	// Reason explains why the operation was rejected (empty if Allowed is true).
	Reason string
}

// =============================================================================
// Validation Functions
// =============================================================================

// ValidateCreate checks whether a new deployment may be admitted given the
// current deployment count and the configured ceiling. A maximum of zero or
// less means unlimited.
func ValidateCreate(current, maximum int) Result {
	if maximum <= 0 {
		return Result{Allowed: true}
	}

	if current >= maximum {
		return Result{
			Allowed: false,
			Reason:  fmt.Sprintf("deployment limit reached: %d/%d", current, maximum),
		}
	}

	return Result{Allowed: true}
}

// Package ports tracks host ports handed out to deployments.
package ports

import (
	"errors"
	"math/rand"
	"sync"
)

// =============================================================================
// Errors
// =============================================================================

// ErrExhausted is returned when no free port is found within the bounded
// number of probe attempts.
var ErrExhausted = errors.New("no free host port available")

// =============================================================================
// Allocator
// =============================================================================

// ProbeFunc reports whether a port is usable at the OS level. It exists so
// tests can stay deterministic; a nil probe accepts every free port.
type ProbeFunc func(port int) bool

// Config configures the allocator's port range and probe behavior.
type Config struct {
	// MinPort is the inclusive lower bound of the allocation range.
	MinPort int

	// MaxPort is the exclusive upper bound of the allocation range.
	MaxPort int

	// MaxAttempts bounds the number of random probes per Allocate call.
	MaxAttempts int

	// Probe optionally verifies OS-level availability of a candidate port.
	Probe ProbeFunc
}

// DefaultConfig returns the default allocator configuration.
func DefaultConfig() Config {
	return Config{
		MinPort:     10000,
		MaxPort:     20000,
		MaxAttempts: 100,
	}
}

// Allocator hands out host ports from a fixed range. The used-set is not
// persisted: live containers already hold their OS-level bindings, so the
// set is rebuilt as deployments are created or rehydrated.
type Allocator struct {
	mu     sync.Mutex
	config Config
	used   map[int]struct{}
}

// NewAllocator creates an allocator for the configured range.
func NewAllocator(config Config) *Allocator {
	if config.MinPort == 0 {
		config.MinPort = 10000
	}
	if config.MaxPort == 0 {
		config.MaxPort = 20000
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = 100
	}

	return &Allocator{
		config: config,
		used:   make(map[int]struct{}),
	}
}

// Allocate returns a free port from the range. It probes random candidates
// a bounded number of times and fails with ErrExhausted rather than looping
// forever on a saturated range.
func (a *Allocator) Allocate() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	span := a.config.MaxPort - a.config.MinPort
	for attempt := 0; attempt < a.config.MaxAttempts; attempt++ {
		port := a.config.MinPort + rand.Intn(span)
		if _, taken := a.used[port]; taken {
			continue
		}
		if a.config.Probe != nil && !a.config.Probe(port) {
			continue
		}
		a.used[port] = struct{}{}
		return port, nil
	}

	return 0, ErrExhausted
}

// Claim marks a specific port as in use. Used during startup reconciliation
// when a rehydrated deployment already holds a binding. Reports whether the
// port was free to claim.
func (a *Allocator) Claim(port int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, taken := a.used[port]; taken {
		return false
	}
	a.used[port] = struct{}{}
	return true
}

// Release returns a port to the free set. Releasing an already-free or
// never-allocated port is a no-op, not an error.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.used, port)
}

// InUse returns the number of ports currently held.
func (a *Allocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.used)
}

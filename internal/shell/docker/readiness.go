package docker

import (
	"context"
	"net"
	"time"

	"github.com/sethvargo/go-retry"
)

// =============================================================================
// Readiness Probe
// =============================================================================

// WaitReady performs a bounded-retry TCP connectivity check against a
// freshly started container's local address. The result is advisory: callers
// proceed with tunnel provisioning whether or not the probe succeeds.
func WaitReady(ctx context.Context, address string, attempts int, interval time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}

	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewConstant(interval))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		dialer := net.Dialer{Timeout: interval}
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			return retry.RetryableError(err)
		}
		conn.Close()
		return nil
	})
}

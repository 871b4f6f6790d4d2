package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable indicates the backing store could not be reached. Callers
// treat it as a hard failure; no operation in this service retries.
var ErrUnavailable = errors.New("cache unavailable")

// Store is a keyed value store with per-key TTL semantics. It backs the
// lockout ledger, the OTP challenge store and the session carrier.
type Store interface {
	// Get returns the value for key and whether it was present. An absent
	// or expired key is not an error.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key. A ttl of zero or less means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is a no-op.
	Delete(ctx context.Context, key string) error
}

package domain

import (
	"context"
	"time"
)

// PriceCache stores the latest feed price per symbol, in feed-native
// precision. Implementations: in-process map, Redis.
type PriceCache interface {
	SetPrice(ctx context.Context, info PriceInfo) error
	GetPrice(ctx context.Context, symbol string) (PriceInfo, error)
}

// LockManager provides mutual exclusion across operator processes. The vault
// engine itself is single-writer; the lock closes the cross-process race
// where two operators open envelopes against the same vault.
type LockManager interface {
	// Acquire obtains the named lock or returns ErrLockHeld. The returned
	// release function is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

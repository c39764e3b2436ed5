// Package memory implements domain cache interfaces with in-process maps,
// for single-node deployments and tests.
package memory

import (
	"context"
	"sync"

	"github.com/harborfi/vaultd/internal/domain"
)

// PriceCache implements domain.PriceCache with a mutex-guarded map.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]domain.PriceInfo
}

// NewPriceCache creates an empty in-memory price cache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]domain.PriceInfo)}
}

// SetPrice stores the latest price for a symbol.
func (pc *PriceCache) SetPrice(_ context.Context, info domain.PriceInfo) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.prices[info.Symbol] = info
	return nil
}

// GetPrice returns the cached price for a symbol, or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(_ context.Context, symbol string) (domain.PriceInfo, error) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	info, ok := pc.prices[symbol]
	if !ok {
		return domain.PriceInfo{}, domain.ErrNotFound
	}
	return info, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)

package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/harborfi/vaultd/internal/domain"
)

// StaticSource is a FeedSource backed by manually set prices. It serves
// dry-run deployments without live feeds and test fixtures.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]domain.PriceInfo
}

// NewStaticSource creates an empty static feed.
func NewStaticSource() *StaticSource {
	return &StaticSource{prices: make(map[string]domain.PriceInfo)}
}

// Set stores a price report for symbol.
func (s *StaticSource) Set(symbol string, value *uint256.Int, decimals uint8, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = domain.PriceInfo{
		Symbol:    symbol,
		Value:     value,
		Decimals:  decimals,
		UpdatedAt: updatedAt,
	}
}

// CurrentPrice implements FeedSource.
func (s *StaticSource) CurrentPrice(_ context.Context, symbol string) (*uint256.Int, uint8, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.prices[symbol]
	if !ok {
		return nil, 0, time.Time{}, fmt.Errorf("oracle: static source %s: %w", symbol, domain.ErrUnknownAsset)
	}
	return info.Value, info.Decimals, info.UpdatedAt, nil
}

var _ FeedSource = (*StaticSource)(nil)

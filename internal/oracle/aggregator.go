// Package oracle aggregates heterogeneous external price feeds into one
// fixed-precision price per symbol. Feeds report in their own native decimal
// precision and on their own update cadence; the aggregator caches the latest
// report per symbol, enforces a shared staleness window on reads, and rescales
// to the canonical 9-decimal precision on demand.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/holiman/uint256"

	"github.com/harborfi/vaultd/internal/domain"
	"github.com/harborfi/vaultd/internal/fixed"
)

// MinUpdateInterval is the floor for the staleness window. A zero window
// would mark every cached price stale and brick all subsequent reads, so the
// setter rejects anything below this.
const MinUpdateInterval = time.Second

// FeedSource is an external price feed for one or more symbols. Feeds are
// black boxes maintained by off-chain updaters.
type FeedSource interface {
	// CurrentPrice returns the feed's latest price for symbol in the feed's
	// native decimal precision, with the time of its last update.
	CurrentPrice(ctx context.Context, symbol string) (*uint256.Int, uint8, time.Time, error)
}

// Aggregator normalizes registered feeds to one price per symbol.
type Aggregator struct {
	mu             sync.RWMutex
	feeds          map[string]FeedSource
	cache          domain.PriceCache
	updateInterval time.Duration
	now            func() time.Time
	logger         *slog.Logger
}

// New creates an Aggregator backed by the given price cache.
func New(cache domain.PriceCache, updateInterval time.Duration, logger *slog.Logger) (*Aggregator, error) {
	if updateInterval < MinUpdateInterval {
		return nil, fmt.Errorf("oracle: update interval %s below floor %s: %w",
			updateInterval, MinUpdateInterval, domain.ErrConfiguration)
	}
	return &Aggregator{
		feeds:          make(map[string]FeedSource),
		cache:          cache,
		updateInterval: updateInterval,
		now:            time.Now,
		logger:         logger.With(slog.String("component", "oracle")),
	}, nil
}

// SetClock overrides the aggregator's time source. Intended for tests.
func (a *Aggregator) SetClock(now func() time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.now = now
}

// RegisterFeed registers or replaces the feed for a symbol and seeds the
// cache with the feed's current price, so a freshly registered symbol is
// immediately readable.
func (a *Aggregator) RegisterFeed(ctx context.Context, symbol string, src FeedSource) error {
	value, decimals, updatedAt, err := src.CurrentPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("oracle: seed feed %s: %w", symbol, err)
	}
	if value.IsZero() {
		return fmt.Errorf("oracle: seed feed %s: zero price: %w", symbol, domain.ErrConfiguration)
	}

	a.mu.Lock()
	a.feeds[symbol] = src
	a.mu.Unlock()

	if err := a.cache.SetPrice(ctx, domain.PriceInfo{
		Symbol:    symbol,
		Value:     value,
		Decimals:  decimals,
		UpdatedAt: updatedAt,
	}); err != nil {
		return fmt.Errorf("oracle: cache seed price %s: %w", symbol, err)
	}

	a.logger.InfoContext(ctx, "feed registered",
		slog.String("symbol", symbol),
		slog.Int("decimals", int(decimals)),
	)
	return nil
}

// SetUpdateInterval replaces the staleness window, rejecting values below
// MinUpdateInterval.
func (a *Aggregator) SetUpdateInterval(d time.Duration) error {
	if d < MinUpdateInterval {
		return fmt.Errorf("oracle: update interval %s below floor %s: %w",
			d, MinUpdateInterval, domain.ErrConfiguration)
	}
	a.mu.Lock()
	a.updateInterval = d
	a.mu.Unlock()
	return nil
}

// UpdateInterval returns the current staleness window.
func (a *Aggregator) UpdateInterval() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.updateInterval
}

// Refresh pulls the symbol's feed and overwrites the cached price. Used by
// the feed updater loop; reads never refresh implicitly.
func (a *Aggregator) Refresh(ctx context.Context, symbol string) error {
	a.mu.RLock()
	src, ok := a.feeds[symbol]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("oracle: refresh %s: %w", symbol, domain.ErrUnknownAsset)
	}

	value, decimals, updatedAt, err := src.CurrentPrice(ctx, symbol)
	if err != nil {
		return fmt.Errorf("oracle: refresh %s: %w", symbol, err)
	}
	return a.cache.SetPrice(ctx, domain.PriceInfo{
		Symbol:    symbol,
		Value:     value,
		Decimals:  decimals,
		UpdatedAt: updatedAt,
	})
}

// Apply overwrites the cached price for a symbol with a pushed update. The
// symbol must have a registered feed.
func (a *Aggregator) Apply(ctx context.Context, info domain.PriceInfo) error {
	a.mu.RLock()
	_, ok := a.feeds[info.Symbol]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("oracle: apply %s: %w", info.Symbol, domain.ErrUnknownAsset)
	}
	return a.cache.SetPrice(ctx, info)
}

// Symbols returns the registered symbols.
func (a *Aggregator) Symbols() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.feeds))
	for s := range a.feeds {
		out = append(out, s)
	}
	return out
}

// GetPrice returns the cached price in the feed's native precision, failing
// with domain.ErrUnknownAsset for unregistered symbols and
// domain.ErrStalePrice once the cached report ages past the update interval.
func (a *Aggregator) GetPrice(ctx context.Context, symbol string) (*uint256.Int, uint8, time.Time, error) {
	a.mu.RLock()
	_, registered := a.feeds[symbol]
	interval := a.updateInterval
	now := a.now()
	a.mu.RUnlock()

	if !registered {
		return nil, 0, time.Time{}, fmt.Errorf("oracle: get price %s: %w", symbol, domain.ErrUnknownAsset)
	}

	info, err := a.cache.GetPrice(ctx, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, 0, time.Time{}, fmt.Errorf("oracle: get price %s: %w", symbol, domain.ErrUnknownAsset)
		}
		return nil, 0, time.Time{}, fmt.Errorf("oracle: get price %s: %w", symbol, err)
	}

	if now.Sub(info.UpdatedAt) > interval {
		return nil, 0, time.Time{}, fmt.Errorf("oracle: price %s updated %s ago: %w",
			symbol, now.Sub(info.UpdatedAt), domain.ErrStalePrice)
	}
	return info.Value, info.Decimals, info.UpdatedAt, nil
}

// GetNormalizedPrice returns the cached price rescaled to the canonical
// 9-decimal precision. Any code path that combines two assets' prices must
// use this form: raw feed values registered at different decimal counts
// produce a structurally wrong ratio.
func (a *Aggregator) GetNormalizedPrice(ctx context.Context, symbol string) (*uint256.Int, error) {
	value, decimals, _, err := a.GetPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	norm, err := fixed.Rescale(value, decimals, fixed.Decimals)
	if err != nil {
		return nil, fmt.Errorf("oracle: normalize %s: %w", symbol, err)
	}
	return norm, nil
}

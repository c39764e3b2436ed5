package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"

	"github.com/harborfi/vaultd/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. Each symbol's
// price lives at key "price:{symbol}" with fields "value" (decimal string in
// feed-native precision), "decimals" and "ts" (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(symbol string) string {
	return "price:" + symbol
}

// SetPrice stores the latest feed price for a symbol.
func (pc *PriceCache) SetPrice(ctx context.Context, info domain.PriceInfo) error {
	fields := map[string]interface{}{
		"value":    info.Value.Dec(),
		"decimals": strconv.Itoa(int(info.Decimals)),
		"ts":       strconv.FormatInt(info.UpdatedAt.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(info.Symbol), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", info.Symbol, err)
	}
	return nil
}

// GetPrice retrieves the latest price for a symbol. It returns
// domain.ErrNotFound when no price has been stored.
func (pc *PriceCache) GetPrice(ctx context.Context, symbol string) (domain.PriceInfo, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(symbol)).Result()
	if err != nil {
		return domain.PriceInfo{}, fmt.Errorf("redis: get price %s: %w", symbol, err)
	}
	if len(vals) == 0 {
		return domain.PriceInfo{}, domain.ErrNotFound
	}

	valueStr, ok := vals["value"]
	if !ok {
		return domain.PriceInfo{}, domain.ErrNotFound
	}
	value, err := uint256.FromDecimal(valueStr)
	if err != nil {
		return domain.PriceInfo{}, fmt.Errorf("redis: parse price %s: %w", symbol, err)
	}

	decimals, err := strconv.ParseUint(vals["decimals"], 10, 8)
	if err != nil {
		return domain.PriceInfo{}, fmt.Errorf("redis: parse decimals %s: %w", symbol, err)
	}

	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.PriceInfo{}, fmt.Errorf("redis: parse ts %s: %w", symbol, err)
	}

	return domain.PriceInfo{
		Symbol:    symbol,
		Value:     value,
		Decimals:  uint8(decimals),
		UpdatedAt: time.Unix(0, tsNano),
	}, nil
}

// Package feed carries external oracle price reports into the aggregator,
// either pushed over a WebSocket stream or pulled on a timer.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"

	"github.com/harborfi/vaultd/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the reconnect backoff.
	maxReconnectDelay = 60 * time.Second
)

// Applier receives pushed price updates. Implemented by oracle.Aggregator.
type Applier interface {
	Apply(ctx context.Context, info domain.PriceInfo) error
}

// tick is the JSON shape of one streamed price report. Value is a decimal
// integer string in the feed's native precision.
type tick struct {
	Symbol    string `json:"symbol"`
	Value     string `json:"value"`
	Decimals  uint8  `json:"decimals"`
	Timestamp string `json:"ts"`
}

// subscribeCmd is the subscription command sent after connecting.
type subscribeCmd struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols"`
}

// WSFeed connects to a price-stream WebSocket, subscribes to the configured
// symbols, and applies each tick to the aggregator. It also remembers the
// latest report per symbol so it can serve as a pull source for seeding and
// periodic refresh. Reconnects with capped exponential backoff.
type WSFeed struct {
	wsURL   string
	symbols []string
	applier Applier
	logger  *slog.Logger

	mu     sync.RWMutex
	latest map[string]domain.PriceInfo

	closeOnce sync.Once
	done      chan struct{}
}

// NewWSFeed creates a feed that will subscribe to the given symbols.
func NewWSFeed(wsURL string, symbols []string, applier Applier, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		wsURL:   wsURL,
		symbols: symbols,
		applier: applier,
		logger:  logger.With(slog.String("component", "ws_feed")),
		latest:  make(map[string]domain.PriceInfo),
		done:    make(chan struct{}),
	}
}

// CurrentPrice returns the latest streamed report for symbol. It satisfies
// the aggregator's pull-source contract; before the first tick for a symbol
// arrives there is nothing to report.
func (f *WSFeed) CurrentPrice(ctx context.Context, symbol string) (*uint256.Int, uint8, time.Time, error) {
	f.mu.RLock()
	info, ok := f.latest[symbol]
	f.mu.RUnlock()
	if !ok {
		return nil, 0, time.Time{}, fmt.Errorf("feed: no report yet for %s: %w", symbol, domain.ErrNotFound)
	}
	return info.Value, info.Decimals, info.UpdatedAt, nil
}

// Seed records an initial report for a symbol, letting the aggregator
// register the feed before the stream has produced its first tick.
func (f *WSFeed) Seed(info domain.PriceInfo) {
	f.mu.Lock()
	f.latest[info.Symbol] = info
	f.mu.Unlock()
}

// Run connects, subscribes, and processes ticks until ctx is cancelled or
// Close is called. Reconnects with backoff on disconnect.
func (f *WSFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("price stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// Close stops the feed.
func (f *WSFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *WSFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	cmd := subscribeCmd{Type: "subscribe", Symbols: f.symbols}
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("feed: marshal subscribe: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	f.logger.Info("price stream subscribed", slog.Int("symbols", len(f.symbols)))

	// Ping loop keeps the read deadline fed while the stream is quiet.
	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-f.done:
				return
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		if err := f.handleMessage(ctx, message); err != nil {
			f.logger.Debug("tick dropped",
				slog.String("error", err.Error()),
				slog.Int("payload_len", len(message)),
			)
		}
	}
}

func (f *WSFeed) handleMessage(ctx context.Context, data []byte) error {
	var t tick
	if err := json.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("feed: unmarshal tick: %w", err)
	}
	if t.Symbol == "" {
		return nil
	}

	value, err := uint256.FromDecimal(t.Value)
	if err != nil {
		return fmt.Errorf("feed: parse value %q: %w", t.Value, err)
	}
	if value.IsZero() {
		return fmt.Errorf("feed: zero price for %s", t.Symbol)
	}

	ts := time.Now()
	if t.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, t.Timestamp); err == nil {
			ts = parsed
		}
	}

	info := domain.PriceInfo{
		Symbol:    t.Symbol,
		Value:     value,
		Decimals:  t.Decimals,
		UpdatedAt: ts,
	}

	f.mu.Lock()
	f.latest[t.Symbol] = info
	f.mu.Unlock()

	return f.applier.Apply(ctx, info)
}

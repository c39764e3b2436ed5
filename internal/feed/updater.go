package feed

import (
	"context"
	"log/slog"
	"time"
)

// Refresher pulls a symbol's feed into the price cache. Implemented by
// oracle.Aggregator.
type Refresher interface {
	Refresh(ctx context.Context, symbol string) error
	Symbols() []string
	UpdateInterval() time.Duration
}

// Updater periodically refreshes every registered symbol from its pull
// source. It keeps cached prices inside the staleness window when the push
// stream is quiet or absent.
type Updater struct {
	oracle Refresher
	logger *slog.Logger
}

// NewUpdater creates an Updater over the given refresher.
func NewUpdater(oracle Refresher, logger *slog.Logger) *Updater {
	return &Updater{
		oracle: oracle,
		logger: logger.With(slog.String("component", "feed_updater")),
	}
}

// Run refreshes all symbols at half the staleness window until ctx is
// cancelled. Refreshing faster than the window keeps a healthy feed's prices
// continuously readable.
func (u *Updater) Run(ctx context.Context) error {
	u.logger.Info("feed updater started")
	defer u.logger.Info("feed updater stopped")

	for {
		interval := u.oracle.UpdateInterval() / 2
		if interval < time.Second/2 {
			interval = time.Second / 2
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}

		for _, symbol := range u.oracle.Symbols() {
			if err := u.oracle.Refresh(ctx, symbol); err != nil {
				u.logger.Warn("refresh failed",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

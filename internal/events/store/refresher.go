package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// StatsRefresher rebuilds the stats snapshot on a fixed interval.
type StatsRefresher struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewStatsRefresher creates a refresher for s.
func NewStatsRefresher(s *Store, interval time.Duration, logger *slog.Logger) *StatsRefresher {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsRefresher{store: s, interval: interval, logger: logger}
}

// Start runs an initial refresh immediately, then one per tick.
func (r *StatsRefresher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx)
	}()
}

// Stop cancels the refresher and waits for the current refresh to finish.
func (r *StatsRefresher) Stop() {
	r.once.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
	})
	r.wg.Wait()
}

func (r *StatsRefresher) run(ctx context.Context) {
	r.refreshOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshOnce(ctx)
		}
	}
}

func (r *StatsRefresher) refreshOnce(ctx context.Context) {
	stats := r.store.RefreshStats(ctx)
	statsRefreshes.Inc()
	r.logger.Debug("event stats refreshed", "total_events", stats.TotalEvents)
}

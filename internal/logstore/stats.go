package logstore

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/burrow/internal/model"
)

const topAppsLimit = 10

// GetStats computes 24h level counts, last-hour throughput and the top apps
// by volume. The five aggregates run concurrently.
func (r *Repository) GetStats(ctx context.Context) (*model.LogStats, error) {
	now := r.now()
	dayAgo := now.Add(-24 * time.Hour)
	hourAgo := now.Add(-time.Hour)

	var (
		stats     model.LogStats
		lastHour  int64
		countSQL  = "SELECT count(*) FROM logs WHERE timestamp > ?"
		levelSQL  = "SELECT count(*) FROM logs WHERE timestamp > ? AND level = ?"
		topAppSQL = `SELECT app_name,
			count(*) AS log_count,
			count(*) FILTER (WHERE level = ?) AS error_count
		FROM logs
		WHERE timestamp > ?
		GROUP BY app_name
		ORDER BY log_count DESC, app_name
		LIMIT ` + strconv.Itoa(topAppsLimit)
	)
	stats.TopApps = make([]model.AppStats, 0, topAppsLimit)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return r.store.Get(gctx, &stats.TotalLogs, countSQL, dayAgo)
	})
	g.Go(func() error {
		return r.store.Get(gctx, &stats.ErrorCount, levelSQL, dayAgo, model.LevelError.String())
	})
	g.Go(func() error {
		return r.store.Get(gctx, &stats.WarningCount, levelSQL, dayAgo, model.LevelWarning.String())
	})
	g.Go(func() error {
		return r.store.Get(gctx, &lastHour, countSQL, hourAgo)
	})
	g.Go(func() error {
		return r.store.Select(gctx, &stats.TopApps, topAppSQL, model.LevelError.String(), dayAgo)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats.LogsPerMinute = float64(lastHour) / 60
	return &stats, nil
}

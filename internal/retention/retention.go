// Package retention periodically deletes rows older than a configured
// window from each registered table.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultInterval = time.Hour

// Pruner deletes rows older than a cutoff from one table.
type Pruner interface {
	Name() string
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Target pairs a table with its retention window in days.
type Target struct {
	Pruner Pruner
	Days   int
}

// Config holds configuration for the retention cleaner.
type Config struct {
	Interval time.Duration
	Clock    func() time.Time
}

// Cleaner runs retention for a set of targets on a fixed interval.
type Cleaner struct {
	targets  []Target
	interval time.Duration
	clock    func() time.Time
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a cleaner, runs one catch-up pass and starts the periodic
// loop. Targets with Days <= 0 are disabled. Returns nil when no target is
// enabled.
func New(targets []Target, conf ...Config) *Cleaner {
	enabled := make([]Target, 0, len(targets))
	for _, t := range targets {
		if t.Pruner != nil && t.Days > 0 {
			enabled = append(enabled, t)
		}
	}
	if len(enabled) == 0 {
		return nil
	}

	c := &Cleaner{
		targets:  enabled,
		interval: defaultInterval,
		clock:    time.Now,
		done:     make(chan struct{}),
	}
	if len(conf) > 0 {
		if conf[0].Interval > 0 {
			c.interval = conf[0].Interval
		}
		if conf[0].Clock != nil {
			c.clock = conf[0].Clock
		}
	}

	// Catch up after downtime.
	c.RunOnce(context.Background())

	c.wg.Add(1)
	go c.loop()
	return c
}

func (c *Cleaner) loop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.RunOnce(context.Background())
		case <-c.done:
			return
		}
	}
}

// RunOnce prunes every target once. Failures are logged and do not stop
// the remaining targets.
func (c *Cleaner) RunOnce(ctx context.Context) {
	now := c.clock()
	for _, t := range c.targets {
		cutoff := now.AddDate(0, 0, -t.Days)
		n, err := t.Pruner.DeleteOlderThan(ctx, cutoff)
		if err != nil {
			log.Error().Err(err).Str("table", t.Pruner.Name()).Msg("retention: cleanup failed")
			continue
		}
		if n > 0 {
			log.Info().Str("table", t.Pruner.Name()).Int64("rows", n).Int("days", t.Days).
				Msg("retention: deleted expired rows")
		}
	}
}

// Stop signals the cleaner to stop and waits for it to finish. It is safe
// to call more than once.
func (c *Cleaner) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.wg.Wait()
	})
}

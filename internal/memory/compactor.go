package memory

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/codemem/codemem/internal/store"
)

// DefaultKeepRecent is how many raw telemetry rows survive a compaction
// per project.
const DefaultKeepRecent = 500

// DefaultSchedule runs compaction once a day.
const DefaultSchedule = "@daily"

// Compactor periodically folds raw query telemetry into per-day aggregates
// so the log stays bounded while historical counts survive.
type Compactor struct {
	store      store.Store
	log        zerolog.Logger
	cron       *cron.Cron
	schedule   string
	keepRecent int
}

func NewCompactor(st store.Store, log zerolog.Logger, schedule string, keepRecent int) *Compactor {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if keepRecent <= 0 {
		keepRecent = DefaultKeepRecent
	}
	return &Compactor{
		store:      st,
		log:        log.With().Str("component", "compactor").Logger(),
		cron:       cron.New(),
		schedule:   schedule,
		keepRecent: keepRecent,
	}
}

// Start registers the schedule and begins running compactions in the
// background.
func (c *Compactor) Start() error {
	if _, err := c.cron.AddFunc(c.schedule, c.runOnce); err != nil {
		return err
	}
	c.cron.Start()
	c.log.Debug().Str("schedule", c.schedule).Int("keep_recent", c.keepRecent).
		Msg("telemetry compaction scheduled")
	return nil
}

// Stop halts the schedule and waits for a running compaction to finish.
func (c *Compactor) Stop() {
	<-c.cron.Stop().Done()
}

// RunNow triggers one compaction pass immediately.
func (c *Compactor) RunNow(ctx context.Context) (int64, error) {
	return c.store.CompactQueryLog(ctx, c.keepRecent)
}

func (c *Compactor) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	removed, err := c.store.CompactQueryLog(ctx, c.keepRecent)
	if err != nil {
		c.log.Warn().Err(err).Msg("telemetry compaction failed")
		return
	}
	if removed > 0 {
		c.log.Info().Int64("removed", removed).Msg("compacted query telemetry")
	}
}

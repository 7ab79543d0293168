package conversation

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Retention prunes conversations idle beyond a configured window on a
// cron schedule.
type Retention struct {
	store    *Store
	maxAge   time.Duration
	schedule string
	cron     *cron.Cron
}

// NewRetention creates the retention job. The schedule is a standard cron
// expression; maxAge is how long an idle conversation is kept.
func NewRetention(store *Store, maxAge time.Duration, schedule string) *Retention {
	return &Retention{
		store:    store,
		maxAge:   maxAge,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Start schedules the job and begins running it.
func (r *Retention) Start() error {
	_, err := r.cron.AddFunc(r.schedule, func() {
		r.RunOnce(context.Background())
	})
	if err != nil {
		return err
	}
	r.cron.Start()

	log.Info().
		Str("schedule", r.schedule).
		Dur("max_age", r.maxAge).
		Msg("Conversation retention job started")
	return nil
}

// Stop halts the schedule; a run already in progress completes.
func (r *Retention) Stop() {
	r.cron.Stop()
}

// RunOnce prunes immediately, outside the schedule.
func (r *Retention) RunOnce(ctx context.Context) {
	cutoff := time.Now().Add(-r.maxAge)
	removed, err := r.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("Conversation retention prune failed")
		return
	}
	if removed > 0 {
		log.Info().
			Int64("removed", removed).
			Time("cutoff", cutoff).
			Msg("Pruned idle conversations")
	}
}

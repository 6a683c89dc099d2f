package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Sweeper runs AudioStore.Sweep on a cron schedule.
type Sweeper struct {
	store     *AudioStore
	schedule  cron.Schedule
	retention time.Duration
	now       func() time.Time
}

// SweeperOpts holds parameters for creating a Sweeper.
type SweeperOpts struct {
	Store     *AudioStore
	Cron      string
	Retention time.Duration
}

// NewSweeper creates a Sweeper.
func NewSweeper(opts SweeperOpts) (*Sweeper, error) {
	if opts.Store == nil {
		return nil, errors.New("storage: sweeper: store is required")
	}
	if opts.Retention <= 0 {
		return nil, errors.New("storage: sweeper: retention must be positive")
	}
	sched, err := cronParser.Parse(opts.Cron)
	if err != nil {
		return nil, fmt.Errorf("storage: sweeper: parse cron %q: %w", opts.Cron, err)
	}
	return &Sweeper{store: opts.Store, schedule: sched, retention: opts.Retention, now: time.Now}, nil
}

// next returns the wait until the next fire time.
func (sw *Sweeper) next() time.Duration {
	now := sw.now()
	d := sw.schedule.Next(now).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RunOnce sweeps artifacts older than the retention window.
func (sw *Sweeper) RunOnce() (int, error) {
	return sw.store.Sweep(sw.now().Add(-sw.retention))
}

// Run blocks until ctx is cancelled, sweeping at each scheduled time.
func (sw *Sweeper) Run(ctx context.Context) error {
	timer := time.NewTimer(sw.next())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			n, err := sw.RunOnce()
			if err != nil {
				log.Printf("storage: sweep: %v", err)
			} else if n > 0 {
				log.Printf("storage: swept %d expired audio file(s)", n)
			}
			timer.Reset(sw.next())
		}
	}
}

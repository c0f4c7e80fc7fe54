// internal/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Updater is anything that wants a periodic tick. Each agent exposes
// its own update interval.
type Updater interface {
	Name() string
	Interval() time.Duration
	Update(ctx context.Context) error
}

// Scheduler drives the agents' periodic update loops off one cron
// ticker, with an @every entry per agent.
type Scheduler struct {
	updaters []Updater
	cron     *cron.Cron
	ctx      context.Context
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func New(updaters ...Updater) *Scheduler {
	return &Scheduler{
		updaters: updaters,
		cron:     cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers one @every entry per updater and starts the ticker.
// Update errors are logged, never fatal.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	for _, u := range s.updaters {
		interval := u.Interval()
		if interval <= 0 {
			slog.Warn("skipping updater with no interval", "name", u.Name())
			continue
		}
		name := u.Name()
		update := u.Update
		schedule := fmt.Sprintf("@every %s", interval)

		_, err := s.cron.AddFunc(schedule, func() {
			if err := update(s.ctx); err != nil {
				slog.Error("periodic update failed", "agent", name, "error", err)
			}
		})
		if err != nil {
			return fmt.Errorf("schedule %s: %w", name, err)
		}
		slog.Info("scheduled periodic update", "agent", name, "every", interval)
	}

	s.cron.Start()
	return nil
}

// Entries returns the number of registered cron entries.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Stop stops the cron ticker.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

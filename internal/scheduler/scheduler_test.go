// internal/scheduler/scheduler_test.go
package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type tickUpdater struct {
	name     string
	interval time.Duration
	fires    atomic.Int32
}

func (u *tickUpdater) Name() string            { return u.name }
func (u *tickUpdater) Interval() time.Duration { return u.interval }
func (u *tickUpdater) Update(ctx context.Context) error {
	u.fires.Add(1)
	return nil
}

func TestSchedulerFiresUpdater(t *testing.T) {
	u := &tickUpdater{name: "health_monitor", interval: time.Second}
	sched := New(u)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	deadline := time.After(2500 * time.Millisecond)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			t.Fatalf("updater did not fire within 2.5s, fires=%d", u.fires.Load())
		case <-ticker.C:
			if u.fires.Load() > 0 {
				return
			}
		}
	}
}

func TestSchedulerOneEntryPerUpdater(t *testing.T) {
	updaters := []*tickUpdater{
		{name: "health_monitor", interval: time.Minute},
		{name: "safety_guardian", interval: 30 * time.Second},
		{name: "daily_assistant", interval: time.Minute},
		{name: "social_engagement", interval: time.Hour},
		{name: "emergency_response", interval: 30 * time.Second},
		{name: "coordination", interval: time.Minute},
	}
	sched := New(updaters[0], updaters[1], updaters[2], updaters[3], updaters[4], updaters[5])
	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	if got := sched.Entries(); got != len(updaters) {
		t.Errorf("entries = %d, want %d", got, len(updaters))
	}
}

func TestSchedulerSkipsZeroInterval(t *testing.T) {
	u := &tickUpdater{name: "no-interval", interval: 0}
	sched := New(u)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer sched.Stop()

	time.Sleep(1500 * time.Millisecond)
	if n := u.fires.Load(); n != 0 {
		t.Errorf("expected 0 fires for updater without interval, got %d", n)
	}
	if got := sched.Entries(); got != 0 {
		t.Errorf("entries = %d, want 0", got)
	}
}

// internal/emergency/emergency_test.go
package emergency

import (
	"context"
	"testing"
	"time"

	"github.com/user/carecompanion/internal/config"
	"github.com/user/carecompanion/internal/notify"
	"github.com/user/carecompanion/internal/store"
	"github.com/user/carecompanion/internal/types"
)

func testClock(start time.Time) (*time.Time, func() time.Time) {
	cur := start
	return &cur, func() time.Time { return cur }
}

func TestHandleEmergency_StartsAtLevelOne(t *testing.T) {
	_, clock := testClock(time.Date(2025, 5, 1, 14, 0, 0, 0, time.UTC))
	a := New(nil, nil, nil, nil, clock)

	res := a.HandleEmergency(context.Background(), "u1", types.EmergencyFall, nil, "Bathroom")
	if res.Status != types.StatusEmergency {
		t.Fatalf("status = %q, want emergency", res.Status)
	}
	em := a.Active("u1")
	if em == nil {
		t.Fatal("no active emergency")
	}
	if em.Level != 1 {
		t.Errorf("level = %d, want 1", em.Level)
	}
	if em.Location != "Bathroom" {
		t.Errorf("location = %q", em.Location)
	}
}

func TestHandleEmergency_MissingUser(t *testing.T) {
	a := New(nil, nil, nil, nil, nil)
	res := a.HandleEmergency(context.Background(), "", types.EmergencyFall, nil, "")
	if res.Status != types.StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}
}

func TestEscalationTiming(t *testing.T) {
	cur, clock := testClock(time.Date(2025, 5, 1, 14, 0, 0, 0, time.UTC))
	a := New(nil, nil, nil, nil, clock)
	ctx := context.Background()

	a.HandleEmergency(ctx, "u1", types.EmergencySafety, nil, "Kitchen")

	// Under the interval: no escalation.
	*cur = cur.Add(4 * time.Minute)
	a.Update(ctx)
	if lvl := a.Active("u1").Level; lvl != 1 {
		t.Fatalf("level after 4m = %d, want 1", lvl)
	}

	// 6 minutes total since creation: level 2.
	*cur = cur.Add(2 * time.Minute)
	a.Update(ctx)
	if lvl := a.Active("u1").Level; lvl != 2 {
		t.Fatalf("level after 6m = %d, want 2", lvl)
	}

	// Another interval: level 3.
	*cur = cur.Add(6 * time.Minute)
	a.Update(ctx)
	if lvl := a.Active("u1").Level; lvl != 3 {
		t.Fatalf("level after 12m = %d, want 3", lvl)
	}

	// Level 3 is terminal.
	*cur = cur.Add(30 * time.Minute)
	a.Update(ctx)
	if lvl := a.Active("u1").Level; lvl != 3 {
		t.Errorf("level after 42m = %d, want 3", lvl)
	}
}

func TestImmediateEscalation(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		details map[string]any
		want    int
	}{
		{"high impact fall", types.EmergencyFall, map[string]any{"impact_force_level": "High"}, 2},
		{"medium impact fall", types.EmergencyFall, map[string]any{"impact_force_level": "Medium"}, 1},
		{"critical health detail", types.EmergencyHealth, map[string]any{"metric": "oxygen critical"}, 2},
		{"plain health emergency", types.EmergencyHealth, map[string]any{"metric": "heart_rate_high"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(nil, nil, nil, nil, nil)
			a.HandleEmergency(context.Background(), "u1", tt.typ, tt.details, "")
			if lvl := a.Active("u1").Level; lvl != tt.want {
				t.Errorf("level = %d, want %d", lvl, tt.want)
			}
		})
	}
}

func TestHandleEmergency_SameTypeKeepsEscalationClock(t *testing.T) {
	cur, clock := testClock(time.Date(2025, 5, 1, 14, 0, 0, 0, time.UTC))
	a := New(nil, nil, nil, nil, clock)
	ctx := context.Background()

	a.HandleEmergency(ctx, "u1", types.EmergencyFall, nil, "Bathroom")
	started := a.Active("u1").StartedAt
	*cur = cur.Add(6 * time.Minute)
	a.Update(ctx)

	a.HandleEmergency(ctx, "u1", types.EmergencyFall, map[string]any{"post_fall_inactivity": 120}, "Bathroom")
	em := a.Active("u1")
	if em.Level != 2 {
		t.Errorf("level = %d, want escalation preserved at 2", em.Level)
	}
	if !em.StartedAt.Equal(started) {
		t.Errorf("started at = %v, want original %v", em.StartedAt, started)
	}
	if em.Details["post_fall_inactivity"] == nil {
		t.Error("details not refreshed")
	}
}

func TestHandleEmergency_DifferentTypeSupersedes(t *testing.T) {
	a := New(nil, nil, nil, nil, nil)
	ctx := context.Background()

	a.HandleEmergency(ctx, "u1", types.EmergencyFall, nil, "Bathroom")
	a.HandleEmergency(ctx, "u1", types.EmergencyHealth, map[string]any{"metric": "glucose_level_low"}, "")

	em := a.Active("u1")
	if em.Type != types.EmergencyHealth {
		t.Fatalf("active type = %q, want health", em.Type)
	}
	if em.Level != 1 {
		t.Errorf("superseding emergency level = %d, want fresh 1", em.Level)
	}

	report := a.Status(ctx, "u1")
	if len(report.RecentHistory) != 1 {
		t.Fatalf("history = %d, want 1", len(report.RecentHistory))
	}
	old := report.RecentHistory[0]
	if !old.Resolved || old.Resolution != "Superseded by new emergency" {
		t.Errorf("superseded emergency = %+v", old)
	}
}

func TestResolve(t *testing.T) {
	st := store.New()
	a := New(nil, st, nil, nil, nil)
	ctx := context.Background()

	a.HandleEmergency(ctx, "u1", types.EmergencyFall, nil, "Bathroom")
	id := a.Active("u1").ID

	res := a.Resolve(ctx, "u1", "wrong-id", "")
	if res.Status != types.StatusError {
		t.Fatal("resolve with wrong id succeeded")
	}

	res = a.Resolve(ctx, "u1", id, "caregiver arrived")
	if res.Status != types.StatusNormal {
		t.Fatalf("resolve failed: %s", res.Message)
	}
	if a.Active("u1") != nil {
		t.Error("emergency still active after resolve")
	}

	res = a.Resolve(ctx, "u1", "", "")
	if res.Status != types.StatusError {
		t.Error("second resolve did not report an error")
	}

	report := a.Status(ctx, "u1")
	if len(report.RecentHistory) != 1 || report.RecentHistory[0].Resolution != "caregiver arrived" {
		t.Errorf("history = %+v", report.RecentHistory)
	}
}

func TestCaregiverFiltering(t *testing.T) {
	a := New(nil, nil, nil, nil, nil)
	ctx := context.Background()

	tests := []struct {
		typ  string
		want int
	}{
		{types.EmergencyHealth, 3}, // daughter (all), son (health), physician (health)
		{types.EmergencyFall, 2},   // daughter (all), son (fall)
		{types.EmergencySafety, 1}, // daughter only
	}
	for i, tt := range tests {
		user := types.UserID(string(rune('a' + i)))
		a.HandleEmergency(ctx, user, tt.typ, nil, "")
		report := a.Status(ctx, user)
		if len(report.Notifications) == 0 {
			t.Fatalf("%s: no notifications", tt.typ)
		}
		note := report.Notifications[0]
		if len(note.Recipients) != tt.want {
			t.Errorf("%s: recipients = %v, want %d", tt.typ, note.Recipients, tt.want)
		}
	}
}

func TestUpdateContacts(t *testing.T) {
	a := New(nil, nil, nil, nil, nil)
	ctx := context.Background()

	contacts, err := a.UpdateContacts(ctx, "u1", []types.EmergencyContact{
		{Name: "No Phone"},
		{Name: "Carla Reyes", Phone: "555-0000", Priority: 2, NotifyFor: []string{"fall"}},
		{Name: "Alex Kim", Phone: "555-1111", Priority: 1},
	})
	if err != nil {
		t.Fatalf("UpdateContacts: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("contacts = %d, want invalid entry dropped", len(contacts))
	}
	if contacts[0].Name != "Alex Kim" {
		t.Errorf("contacts not sorted by priority: %+v", contacts)
	}
	if !contacts[0].WantsType(types.EmergencySafety) {
		t.Error("missing notify_for did not default to all")
	}

	report := a.Status(ctx, "u1")
	if len(report.Contacts) != 2 {
		t.Errorf("status contacts = %d, want 2", len(report.Contacts))
	}
}

func TestHistoryBounded(t *testing.T) {
	a := New(nil, nil, nil, nil, nil)
	ctx := context.Background()

	for i := 0; i < historyCap+5; i++ {
		a.HandleEmergency(ctx, "u1", types.EmergencyFall, nil, "")
		a.Resolve(ctx, "u1", "", "")
	}
	a.mu.Lock()
	got := len(a.users["u1"].history)
	a.mu.Unlock()
	if got != historyCap {
		t.Errorf("history = %d, want cap %d", got, historyCap)
	}
}

func TestPersistsEvents(t *testing.T) {
	st := store.New()
	a := New(nil, st, nil, nil, nil)
	ctx := context.Background()

	a.HandleEmergency(ctx, "u1", types.EmergencyFall, nil, "Bathroom")
	if st.Count(store.TableEvents) == 0 {
		t.Error("no events persisted for a new emergency")
	}
}

func TestNotificationsRouteToTelegram(t *testing.T) {
	cfg := &config.Config{}
	cfg.Telegram.Token = "test-token"
	cfg.Telegram.ChatID = 12345

	var telegramTargets, fallbackTargets []string
	registry := notify.NewRegistry()
	registry.Register("telegram:", func(ctx context.Context, target, message string) error {
		telegramTargets = append(telegramTargets, target)
		return nil
	})
	registry.SetFallback(func(ctx context.Context, target, message string) error {
		fallbackTargets = append(fallbackTargets, target)
		return nil
	})

	_, clock := testClock(time.Date(2025, 5, 1, 14, 0, 0, 0, time.UTC))
	a := New(cfg, nil, nil, registry, clock)
	a.HandleEmergency(context.Background(), "user-42", types.EmergencyFall, nil, "Bathroom")

	if len(telegramTargets) == 0 {
		t.Fatal("telegram handler never called")
	}
	for _, target := range telegramTargets {
		if target != "telegram:12345" {
			t.Errorf("target = %q, want telegram:12345", target)
		}
	}
	if len(fallbackTargets) != 0 {
		t.Errorf("fallback called with targets %v", fallbackTargets)
	}
}

func TestNotificationsFallBackWithoutTelegram(t *testing.T) {
	var fallbackTargets []string
	registry := notify.NewRegistry()
	registry.SetFallback(func(ctx context.Context, target, message string) error {
		fallbackTargets = append(fallbackTargets, target)
		return nil
	})

	_, clock := testClock(time.Date(2025, 5, 1, 14, 0, 0, 0, time.UTC))
	a := New(nil, nil, nil, registry, clock)
	a.HandleEmergency(context.Background(), "user-42", types.EmergencyFall, nil, "Bathroom")

	if len(fallbackTargets) == 0 {
		t.Fatal("fallback handler never called")
	}
	if fallbackTargets[0] != "user-42" {
		t.Errorf("fallback target = %q, want user-42", fallbackTargets[0])
	}
}

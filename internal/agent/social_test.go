// internal/agent/social_test.go
package agent

import (
	"context"
	"testing"
	"time"

	"github.com/user/carecompanion/internal/store"
	"github.com/user/carecompanion/internal/types"
)

func TestSocialProcessReading_RecordsInteraction(t *testing.T) {
	_, clock := testClock(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	st := store.New()
	a := NewSocial(nil, st, nil, clock)

	res := a.ProcessReading(context.Background(), "u1", types.SocialInteraction{
		InteractionType: "phone_call",
		DurationMinutes: 20,
		ContactType:     "family",
	})
	if res.Status == types.StatusError {
		t.Fatalf("unexpected error: %s", res.Message)
	}
	if st.Count(store.TableEvents) != 1 {
		t.Errorf("event rows = %d, want 1", st.Count(store.TableEvents))
	}
}

func TestSocialProcessReading_MissingType(t *testing.T) {
	a := NewSocial(nil, nil, nil, nil)
	res := a.ProcessReading(context.Background(), "u1", types.SocialInteraction{DurationMinutes: 20})
	if res.Status != types.StatusError {
		t.Fatalf("status = %q, want error", res.Status)
	}
}

func TestSocialWeightedMinutes(t *testing.T) {
	_, clock := testClock(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	a := NewSocial(nil, nil, nil, clock)
	ctx := context.Background()

	recent := clock().Add(-time.Hour)
	a.ProcessReading(ctx, "u1", types.SocialInteraction{
		Timestamp:       recent,
		InteractionType: "in_person_visit",
		DurationMinutes: 60,
		ContactType:     "family",
	})
	a.ProcessReading(ctx, "u1", types.SocialInteraction{
		Timestamp:       recent.Add(time.Minute),
		InteractionType: "video_call",
		DurationMinutes: 60,
		ContactType:     "friend",
	})

	report, err := a.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	an := report.Analysis
	if an.WeeklyCount != 2 {
		t.Errorf("weekly count = %d, want 2", an.WeeklyCount)
	}
	// 60*1.0 + 60*0.8
	if an.WeeklyMinutes != 108 {
		t.Errorf("weekly minutes = %g, want 108", an.WeeklyMinutes)
	}
	if an.AvgDuration != 60 {
		t.Errorf("avg duration = %g, want 60", an.AvgDuration)
	}
}

func TestSocialIsolationEscalation(t *testing.T) {
	_, clock := testClock(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	a := NewSocial(nil, nil, nil, clock)
	ctx := context.Background()

	res := a.ProcessReading(ctx, "u1", types.SocialInteraction{
		Timestamp:       clock().Add(-80 * time.Hour),
		InteractionType: "phone_call",
		DurationMinutes: 10,
	})
	if res.Status != types.StatusAlert {
		t.Errorf("status = %q, want alert after 80h", res.Status)
	}
	if got := levelOf(res.Alerts, "social_isolation"); got != types.LevelWarning {
		t.Errorf("isolation level = %q, want warning", got)
	}

	res = a.ProcessReading(ctx, "u2", types.SocialInteraction{
		Timestamp:       clock().Add(-150 * time.Hour),
		InteractionType: "phone_call",
		DurationMinutes: 10,
	})
	if got := levelOf(res.Alerts, "social_isolation"); got != types.LevelUrgent {
		t.Errorf("isolation level = %q, want urgent past twice the threshold", got)
	}
}

func TestSocialLowWeeklyCountIsAttention(t *testing.T) {
	_, clock := testClock(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	a := NewSocial(nil, nil, nil, clock)
	ctx := context.Background()

	res := a.ProcessReading(ctx, "u1", types.SocialInteraction{
		Timestamp:       clock().Add(-time.Hour),
		InteractionType: "phone_call",
		DurationMinutes: 20,
	})
	if res.Status != types.StatusAttention {
		t.Errorf("status = %q, want attention with 1 weekly interaction", res.Status)
	}
	if got := levelOf(res.Alerts, "low_interaction_frequency"); got != types.LevelInfo {
		t.Errorf("frequency alert level = %q, want info", got)
	}
}

func TestSocialHealthyEngagement(t *testing.T) {
	_, clock := testClock(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	a := NewSocial(nil, nil, nil, clock)
	ctx := context.Background()

	var res types.AgentResult
	for i := 0; i < 7; i++ {
		res = a.ProcessReading(ctx, "u1", types.SocialInteraction{
			Timestamp:       clock().Add(-time.Duration(i*12) * time.Hour),
			InteractionType: "in_person_visit",
			DurationMinutes: 45,
			ContactType:     "family",
		})
	}
	if res.Status != types.StatusNormal {
		t.Errorf("status = %q, want normal with 7 weekly interactions", res.Status)
	}
	for _, al := range res.Alerts {
		if al.Type == "social_isolation" || al.Type == "low_interaction_frequency" {
			t.Errorf("unexpected alert %s for healthy engagement", al.Type)
		}
	}
}

func TestSocialSuggestionsMatchStatus(t *testing.T) {
	_, clock := testClock(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	a := NewSocial(nil, nil, nil, clock)
	ctx := context.Background()

	a.ProcessReading(ctx, "u1", types.SocialInteraction{
		Timestamp:       clock().Add(-80 * time.Hour),
		InteractionType: "phone_call",
		DurationMinutes: 10,
	})
	report, err := a.Status(ctx, "u1")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(report.Suggestions) == 0 {
		t.Fatal("no suggestions for an isolated user")
	}
	if len(report.Suggestions) > 5 {
		t.Errorf("suggestions = %d, want at most 5", len(report.Suggestions))
	}
	high := false
	for _, s := range report.Suggestions {
		if s.Priority == "high" {
			high = true
		}
	}
	if !high {
		t.Error("isolated user got no high-priority suggestion")
	}
}

func TestSocialUpdatePreferences(t *testing.T) {
	_, clock := testClock(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	a := NewSocial(nil, nil, nil, clock)
	ctx := context.Background()

	// Weekly preference lowers the expected frequency, so a single
	// interaction no longer trips the frequency alert.
	if err := a.UpdatePreferences(ctx, "u1", SocialPrefs{PreferredFrequency: "weekly"}); err != nil {
		t.Fatalf("UpdatePreferences: %v", err)
	}
	res := a.ProcessReading(ctx, "u1", types.SocialInteraction{
		Timestamp:       clock().Add(-time.Hour),
		InteractionType: "phone_call",
		DurationMinutes: 20,
	})
	if got := levelOf(res.Alerts, "low_interaction_frequency"); got != "" {
		t.Errorf("frequency alert raised despite weekly preference: %q", got)
	}
}

func TestSocialAlertHistoryBounded(t *testing.T) {
	cur, clock := testClock(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	a := NewSocial(nil, nil, nil, clock)
	ctx := context.Background()

	a.ProcessReading(ctx, "u1", types.SocialInteraction{
		Timestamp:       cur.Add(-80 * time.Hour),
		InteractionType: "text_message",
		DurationMinutes: 1,
	})
	// Each tick sees a larger isolation gap, so every pass raises a
	// fresh alert.
	for i := 0; i < socialAlertCap+8; i++ {
		*cur = cur.Add(2 * time.Hour)
		if err := a.Update(ctx); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	a.mu.Lock()
	got := len(a.users["u1"].alerts)
	a.mu.Unlock()
	if got != socialAlertCap {
		t.Errorf("alert history = %d, want cap %d", got, socialAlertCap)
	}
}

func TestSocialStatus_NoData(t *testing.T) {
	a := NewSocial(nil, nil, nil, nil)
	if _, err := a.Status(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

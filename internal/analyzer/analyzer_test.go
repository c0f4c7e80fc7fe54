package analyzer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const healthCSV = `Device-ID/User-ID,Timestamp,Heart Rate,Blood Pressure,Glucose Levels,Oxygen Saturation (SpO₂%),Alert Triggered (Yes/No)
D1001,2025-01-01 08:00:00,72,120/80 mmHg,100,97,No
D1001,2025-01-01 12:00:00,110,150/95 mmHg,150,93,Yes
D1002,2025-01-01 08:00:00,65,115/75 mmHg,90,98,No
`

const safetyCSV = `Device-ID/User-ID,Timestamp,Movement Activity,Fall Detected (Yes/No),Impact Force Level,Post-Fall Inactivity Duration (Seconds),Location,Alert Triggered (Yes/No)
D1001,2025-01-01 09:00:00,Walking,No,-,0,Kitchen,No
D1001,2025-01-01 10:00:00,No Movement,Yes,High,600,Bathroom,Yes
`

const reminderCSV = `Device-ID/User-ID,Timestamp,Reminder Type,Scheduled Time,Reminder Sent (Yes/No),Acknowledged (Yes/No)
D1001,2025-01-01 08:00:00,Medication,08:00,Yes,Yes
D1001,2025-01-01 12:00:00,Medication,12:00,Yes,No
D1001,2025-01-01 09:00:00,Hydration,09:00,No,No
`

func writeDataset(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		HealthFile:   healthCSV,
		SafetyFile:   safetyCSV,
		ReminderFile: reminderCSV,
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func TestUserIDs(t *testing.T) {
	a, err := New(writeDataset(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ids, err := a.UserIDs(context.Background())
	if err != nil {
		t.Fatalf("UserIDs failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 users, got %d", len(ids))
	}
	if ids[0] != "D1001" || ids[1] != "D1002" {
		t.Errorf("expected sorted [D1001 D1002], got %v", ids)
	}
}

func TestHealthSummary(t *testing.T) {
	a, err := New(writeDataset(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sum, err := a.HealthSummary(context.Background(), "D1001")
	if err != nil {
		t.Fatalf("HealthSummary failed: %v", err)
	}
	if sum.Records != 2 {
		t.Errorf("expected 2 records, got %d", sum.Records)
	}
	if sum.AvgHeartRate != 91 {
		t.Errorf("expected avg heart rate 91, got %v", sum.AvgHeartRate)
	}
	if sum.AvgSystolic != 135 {
		t.Errorf("expected avg systolic 135, got %v", sum.AvgSystolic)
	}
	if sum.ThresholdBreaches != 1 {
		t.Errorf("expected 1 breach, got %d", sum.ThresholdBreaches)
	}
}

func TestHealthSummary_UnknownUser(t *testing.T) {
	a, err := New(writeDataset(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := a.HealthSummary(context.Background(), "D9999"); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestSafetySummary(t *testing.T) {
	a, err := New(writeDataset(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sum, err := a.SafetySummary(context.Background(), "D1001")
	if err != nil {
		t.Fatalf("SafetySummary failed: %v", err)
	}
	if sum.Falls != 1 {
		t.Errorf("expected 1 fall, got %d", sum.Falls)
	}
	if sum.LocationCounts["Bathroom"] != 1 {
		t.Errorf("expected 1 bathroom visit, got %d", sum.LocationCounts["Bathroom"])
	}
	if sum.ActivityCounts["Walking"] != 1 {
		t.Errorf("expected 1 walking row, got %d", sum.ActivityCounts["Walking"])
	}
}

func TestReminderSummary(t *testing.T) {
	a, err := New(writeDataset(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	sum, err := a.ReminderSummary(context.Background(), "D1001")
	if err != nil {
		t.Fatalf("ReminderSummary failed: %v", err)
	}
	if sum.Sent != 2 {
		t.Errorf("expected 2 sent, got %d", sum.Sent)
	}
	if sum.Acknowledged != 1 {
		t.Errorf("expected 1 acknowledged, got %d", sum.Acknowledged)
	}
	if sum.ByType["Medication"] != 2 {
		t.Errorf("expected 2 medication rows, got %d", sum.ByType["Medication"])
	}
}

func TestEnvelopes_OrderedByTimestamp(t *testing.T) {
	a, err := New(writeDataset(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	envs := a.Envelopes()
	// 3 health + 2 safety rows
	if len(envs) != 5 {
		t.Fatalf("expected 5 envelopes, got %d", len(envs))
	}
	if envs[0].Type != "health" {
		t.Errorf("expected first envelope health (08:00), got %s", envs[0].Type)
	}
	if envs[len(envs)-1].Type != "health" {
		t.Errorf("expected last envelope health (12:00), got %s", envs[len(envs)-1].Type)
	}
}

func TestParseBloodPressure(t *testing.T) {
	tests := []struct {
		in       string
		sys, dia float64
	}{
		{"120/80 mmHg", 120, 80},
		{"150/95", 150, 95},
		{"garbage", 0, 0},
		{"", 0, 0},
	}
	for _, tt := range tests {
		sys, dia := parseBloodPressure(tt.in)
		if sys != tt.sys || dia != tt.dia {
			t.Errorf("parseBloodPressure(%q) = %v/%v, want %v/%v", tt.in, sys, dia, tt.sys, tt.dia)
		}
	}
}

func TestNew_MissingFiles(t *testing.T) {
	a, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New with missing files should not error: %v", err)
	}
	ids, err := a.UserIDs(context.Background())
	if err != nil {
		t.Fatalf("UserIDs failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no users, got %v", ids)
	}
}

// internal/analyzer/analyzer.go
package analyzer

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/user/carecompanion/internal/types"
)

// Dataset file names, relative to the data directory.
const (
	HealthFile   = "health_monitoring.csv"
	SafetyFile   = "safety_monitoring.csv"
	ReminderFile = "daily_reminder.csv"
)

// CSVAnalyzer reads the monitoring datasets once at construction and
// serves read-only summaries and per-row replays.
type CSVAnalyzer struct {
	health   []healthRow
	safety   []safetyRow
	reminder []reminderRow
}

type healthRow struct {
	UserID    types.UserID
	Timestamp time.Time
	HeartRate float64
	Systolic  float64
	Diastolic float64
	Glucose   float64
	Oxygen    float64
	Alert     bool
}

type safetyRow struct {
	UserID             types.UserID
	Timestamp          time.Time
	Activity           string
	FallDetected       bool
	ImpactForce        string
	PostFallInactivity int
	Location           string
	Alert              bool
}

type reminderRow struct {
	UserID       types.UserID
	Timestamp    time.Time
	ReminderType string
	Scheduled    string
	Sent         bool
	Acknowledged bool
}

// New loads the datasets found under dataDir. Missing files are logged
// and skipped; the analyzer stays usable with whatever loaded.
func New(dataDir string) (*CSVAnalyzer, error) {
	a := &CSVAnalyzer{}

	if rows, err := readCSV(filepath.Join(dataDir, HealthFile)); err != nil {
		slog.Warn("health dataset unavailable", "error", err)
	} else {
		a.health = parseHealthRows(rows)
		slog.Info("loaded health dataset", "records", len(a.health))
	}

	if rows, err := readCSV(filepath.Join(dataDir, SafetyFile)); err != nil {
		slog.Warn("safety dataset unavailable", "error", err)
	} else {
		a.safety = parseSafetyRows(rows)
		slog.Info("loaded safety dataset", "records", len(a.safety))
	}

	if rows, err := readCSV(filepath.Join(dataDir, ReminderFile)); err != nil {
		slog.Warn("reminder dataset unavailable", "error", err)
	} else {
		a.reminder = parseReminderRows(rows)
		slog.Info("loaded reminder dataset", "records", len(a.reminder))
	}

	return a, nil
}

// UserIDs returns the sorted union of user IDs across all datasets.
func (a *CSVAnalyzer) UserIDs(_ context.Context) ([]types.UserID, error) {
	seen := make(map[types.UserID]bool)
	for _, r := range a.health {
		seen[r.UserID] = true
	}
	for _, r := range a.safety {
		seen[r.UserID] = true
	}
	for _, r := range a.reminder {
		seen[r.UserID] = true
	}
	out := make([]types.UserID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// HealthSummary aggregates the user's health rows.
func (a *CSVAnalyzer) HealthSummary(_ context.Context, user types.UserID) (*types.HealthSummary, error) {
	var (
		n                      int
		hr, sys, dia, glu, oxy float64
		breaches               int
	)
	for _, r := range a.health {
		if r.UserID != user {
			continue
		}
		n++
		hr += r.HeartRate
		sys += r.Systolic
		dia += r.Diastolic
		glu += r.Glucose
		oxy += r.Oxygen
		if r.Alert {
			breaches++
		}
	}
	if n == 0 {
		return nil, fmt.Errorf("no health data for user %s", user)
	}
	f := float64(n)
	return &types.HealthSummary{
		UserID:            user,
		Records:           n,
		AvgHeartRate:      hr / f,
		AvgSystolic:       sys / f,
		AvgDiastolic:      dia / f,
		AvgGlucose:        glu / f,
		AvgOxygen:         oxy / f,
		ThresholdBreaches: breaches,
	}, nil
}

// SafetySummary aggregates the user's safety rows.
func (a *CSVAnalyzer) SafetySummary(_ context.Context, user types.UserID) (*types.SafetySummary, error) {
	sum := &types.SafetySummary{
		UserID:         user,
		LocationCounts: make(map[string]int),
		ActivityCounts: make(map[string]int),
	}
	for _, r := range a.safety {
		if r.UserID != user {
			continue
		}
		sum.Records++
		if r.FallDetected {
			sum.Falls++
		}
		sum.LocationCounts[r.Location]++
		sum.ActivityCounts[r.Activity]++
	}
	if sum.Records == 0 {
		return nil, fmt.Errorf("no safety data for user %s", user)
	}
	return sum, nil
}

// ReminderSummary aggregates the user's reminder rows.
func (a *CSVAnalyzer) ReminderSummary(_ context.Context, user types.UserID) (*types.ReminderSummary, error) {
	sum := &types.ReminderSummary{
		UserID: user,
		ByType: make(map[string]int),
	}
	for _, r := range a.reminder {
		if r.UserID != user {
			continue
		}
		sum.Records++
		if r.Sent {
			sum.Sent++
			if r.Acknowledged {
				sum.Acknowledged++
			}
		}
		sum.ByType[r.ReminderType]++
	}
	if sum.Records == 0 {
		return nil, fmt.Errorf("no reminder data for user %s", user)
	}
	return sum, nil
}

// Envelopes converts every dataset row into an inbound envelope,
// ordered by timestamp, for replaying history through the ingest path.
func (a *CSVAnalyzer) Envelopes() []types.Envelope {
	type stamped struct {
		at  time.Time
		env types.Envelope
	}
	var all []stamped

	for _, r := range a.health {
		all = append(all, stamped{r.Timestamp, healthEnvelope(r)})
	}
	for _, r := range a.safety {
		all = append(all, stamped{r.Timestamp, safetyEnvelope(r)})
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })

	out := make([]types.Envelope, len(all))
	for i, s := range all {
		out[i] = s.env
	}
	return out
}

func readCSV(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	header := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[strings.TrimSpace(col)] = strings.TrimSpace(rec[i])
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseHealthRows(rows []map[string]string) []healthRow {
	out := make([]healthRow, 0, len(rows))
	for _, row := range rows {
		sys, dia := parseBloodPressure(row["Blood Pressure"])
		out = append(out, healthRow{
			UserID:    types.UserID(row["Device-ID/User-ID"]),
			Timestamp: parseTimestamp(row["Timestamp"]),
			HeartRate: parseFloat(row["Heart Rate"]),
			Systolic:  sys,
			Diastolic: dia,
			Glucose:   parseFloat(row["Glucose Levels"]),
			Oxygen:    parseFloat(row["Oxygen Saturation (SpO₂%)"]),
			Alert:     yes(row["Alert Triggered (Yes/No)"]),
		})
	}
	return out
}

func parseSafetyRows(rows []map[string]string) []safetyRow {
	out := make([]safetyRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, safetyRow{
			UserID:             types.UserID(row["Device-ID/User-ID"]),
			Timestamp:          parseTimestamp(row["Timestamp"]),
			Activity:           row["Movement Activity"],
			FallDetected:       yes(row["Fall Detected (Yes/No)"]),
			ImpactForce:        row["Impact Force Level"],
			PostFallInactivity: int(parseFloat(row["Post-Fall Inactivity Duration (Seconds)"])),
			Location:           row["Location"],
			Alert:              yes(row["Alert Triggered (Yes/No)"]),
		})
	}
	return out
}

func parseReminderRows(rows []map[string]string) []reminderRow {
	out := make([]reminderRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, reminderRow{
			UserID:       types.UserID(row["Device-ID/User-ID"]),
			Timestamp:    parseTimestamp(row["Timestamp"]),
			ReminderType: row["Reminder Type"],
			Scheduled:    row["Scheduled Time"],
			Sent:         yes(row["Reminder Sent (Yes/No)"]),
			Acknowledged: yes(row["Acknowledged (Yes/No)"]),
		})
	}
	return out
}

// parseBloodPressure splits readings like "120/80 mmHg".
func parseBloodPressure(s string) (systolic, diastolic float64) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	systolic = parseFloat(parts[0])
	rest := strings.Fields(parts[1])
	if len(rest) > 0 {
		diastolic = parseFloat(rest[0])
	}
	return systolic, diastolic
}

func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02 15:04", "1/2/2006 15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func yes(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "yes")
}

func healthEnvelope(r healthRow) types.Envelope {
	data := fmt.Sprintf(
		`{"timestamp":%q,"heart_rate":%g,"blood_pressure_systolic":%g,"blood_pressure_diastolic":%g,"glucose_level":%g,"oxygen_saturation":%g}`,
		r.Timestamp.Format(time.RFC3339), r.HeartRate, r.Systolic, r.Diastolic, r.Glucose, r.Oxygen,
	)
	return types.Envelope{Type: "health", UserID: r.UserID, Data: []byte(data)}
}

func safetyEnvelope(r safetyRow) types.Envelope {
	data := fmt.Sprintf(
		`{"timestamp":%q,"location":%q,"activity":%q,"fall_detected":%t,"impact_force":%q,"post_fall_inactivity":%d}`,
		r.Timestamp.Format(time.RFC3339), r.Location, r.Activity, r.FallDetected, r.ImpactForce, r.PostFallInactivity,
	)
	return types.Envelope{Type: "safety", UserID: r.UserID, Data: []byte(data)}
}

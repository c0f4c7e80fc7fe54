// internal/agent/health.go
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/user/carecompanion/internal/config"
	"github.com/user/carecompanion/internal/store"
	"github.com/user/carecompanion/internal/types"
)

// Metric keys used for thresholds and analysis.
const (
	MetricHeartRate = "heart_rate"
	MetricSystolic  = "blood_pressure_systolic"
	MetricDiastolic = "blood_pressure_diastolic"
	MetricGlucose   = "glucose_level"
	MetricOxygen    = "oxygen_saturation"
)

// HealthAgent watches vital sign readings, maintains per-user
// personalized thresholds, and raises alerts for out-of-range values.
type HealthAgent struct {
	mu       sync.Mutex
	defaults map[string]Range
	interval time.Duration
	store    types.Store
	narrator types.Narrator
	now      Clock
	users    map[types.UserID]*healthState
}

type healthState struct {
	history    []types.HealthReading
	alerts     []types.Alert
	thresholds map[string]Range
	analysis   *HealthAnalysis
	analyzedAt time.Time
}

// HealthAnalysis is the computed view over a user's reading history.
type HealthAnalysis struct {
	Timestamp time.Time              `json:"timestamp"`
	Metrics   map[string]MetricStats `json:"metrics"`
	Status    string                 `json:"status"`
	Concerns  []string               `json:"concerns"`
}

// HealthStatusReport is the outward status shape for one user.
type HealthStatusReport struct {
	UserID    types.UserID    `json:"user_id"`
	Timestamp time.Time       `json:"timestamp"`
	Analysis  *HealthAnalysis `json:"analysis"`
	Alerts    []types.Alert   `json:"alerts"`
	Summary   string          `json:"summary"`
}

func NewHealth(cfg *config.Config, st types.Store, narrator types.Narrator, now Clock) *HealthAgent {
	if now == nil {
		now = time.Now
	}
	defaults := map[string]Range{
		MetricHeartRate: {Min: 60, Max: 100},
		MetricSystolic:  {Min: 90, Max: 140},
		MetricDiastolic: {Min: 60, Max: 90},
		MetricGlucose:   {Min: 70, Max: 140},
		MetricOxygen:    {Min: 95, Max: 100},
	}
	if cfg != nil {
		for key, t := range cfg.Health.Thresholds {
			defaults[key] = Range{Min: t.Min, Max: t.Max}
		}
	}
	interval := 60 * time.Second
	if cfg != nil && cfg.Agents.HealthInterval > 0 {
		interval = time.Duration(cfg.Agents.HealthInterval) * time.Second
	}
	return &HealthAgent{
		defaults: defaults,
		interval: interval,
		store:    st,
		narrator: narrator,
		now:      now,
		users:    make(map[types.UserID]*healthState),
	}
}

func (a *HealthAgent) Name() string            { return "health_monitor" }
func (a *HealthAgent) Interval() time.Duration { return a.interval }

// locked. Creates empty state on first sighting.
func (a *HealthAgent) state(user types.UserID) *healthState {
	st, ok := a.users[user]
	if !ok {
		st = &healthState{thresholds: a.defaultThresholds()}
		a.users[user] = st
	}
	return st
}

func (a *HealthAgent) defaultThresholds() map[string]Range {
	out := make(map[string]Range, len(a.defaults))
	for k, v := range a.defaults {
		out[k] = v
	}
	return out
}

// ProcessReading ingests one vital sign reading. The result carries
// the domain status and any alerts raised; failures are in-band.
func (a *HealthAgent) ProcessReading(ctx context.Context, user types.UserID, r types.HealthReading) types.AgentResult {
	if user == "" {
		return types.ErrorResult("missing user id in health reading")
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = a.now()
	}

	a.mu.Lock()
	st := a.state(user)
	st.history = appendBounded(st.history, r, readingHistoryCap)
	a.personalize(st)
	analysis := a.analyze(st, r)
	st.analysis = analysis
	st.analyzedAt = a.now()
	alerts := a.deriveAlerts(st, r)
	for _, al := range alerts {
		st.alerts = appendBounded(st.alerts, al, alertHistoryCap)
	}
	a.mu.Unlock()

	a.persistReading(ctx, user, r)
	a.persistAlerts(ctx, user, alerts)
	if len(alerts) > 0 {
		a.narrateAlerts(ctx, user, r, alerts)
	}

	return types.AgentResult{
		Status:  analysis.Status,
		Message: healthSummary(analysis),
		Alerts:  alerts,
	}
}

// Update re-analyzes users whose cached analysis has gone stale and
// raises alerts for their latest reading.
func (a *HealthAgent) Update(ctx context.Context) error {
	now := a.now()

	a.mu.Lock()
	type pending struct {
		user   types.UserID
		alerts []types.Alert
	}
	var work []pending
	for user, st := range a.users {
		if len(st.history) == 0 || now.Sub(st.analyzedAt) <= a.interval {
			continue
		}
		latest := st.history[len(st.history)-1]
		st.analysis = a.analyze(st, latest)
		st.analyzedAt = now
		alerts := a.deriveAlerts(st, latest)
		for _, al := range alerts {
			st.alerts = appendBounded(st.alerts, al, alertHistoryCap)
		}
		if len(alerts) > 0 {
			work = append(work, pending{user, alerts})
		}
	}
	a.mu.Unlock()

	for _, p := range work {
		a.persistAlerts(ctx, p.user, p.alerts)
	}
	return nil
}

// Status returns the current health view for the user. Missing data
// is an error.
func (a *HealthAgent) Status(_ context.Context, user types.UserID) (*HealthStatusReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.users[user]
	if !ok || len(st.history) == 0 {
		return nil, fmt.Errorf("no health data available for user %s", user)
	}
	if st.analysis == nil {
		st.analysis = a.analyze(st, st.history[len(st.history)-1])
		st.analyzedAt = a.now()
	}
	return &HealthStatusReport{
		UserID:    user,
		Timestamp: st.analyzedAt,
		Analysis:  st.analysis,
		Alerts:    lastN(st.alerts, 5),
		Summary:   healthSummary(st.analysis),
	}, nil
}

// UpdateThresholds merges explicit per-metric overrides into the
// user's personalized thresholds.
func (a *HealthAgent) UpdateThresholds(_ context.Context, user types.UserID, overrides map[string]Range) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.users[user]
	if !ok {
		return fmt.Errorf("user %s not found", user)
	}
	for k, v := range overrides {
		st.thresholds[k] = v
	}
	return nil
}

// Thresholds returns a copy of the user's active thresholds.
func (a *HealthAgent) Thresholds(user types.UserID) map[string]Range {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.users[user]
	if !ok {
		return a.defaultThresholds()
	}
	out := make(map[string]Range, len(st.thresholds))
	for k, v := range st.thresholds {
		out[k] = v
	}
	return out
}

// personalize recomputes thresholds from history means once at least
// five samples exist. Bands are clamped to hard safety limits; the
// oxygen ceiling never moves. Caller holds the lock.
func (a *HealthAgent) personalize(st *healthState) {
	if len(st.history) < 5 {
		return
	}
	means := historyMeans(st.history)

	if m, ok := means[MetricHeartRate]; ok {
		st.thresholds[MetricHeartRate] = Range{
			Min: math.Max(m-15, 50),
			Max: math.Min(m+15, 150),
		}
	}
	if m, ok := means[MetricSystolic]; ok {
		st.thresholds[MetricSystolic] = Range{
			Min: math.Max(m-15, 85),
			Max: math.Min(m+15, 160),
		}
	}
	if m, ok := means[MetricDiastolic]; ok {
		st.thresholds[MetricDiastolic] = Range{
			Min: math.Max(m-10, 50),
			Max: math.Min(m+10, 100),
		}
	}
	if m, ok := means[MetricGlucose]; ok {
		st.thresholds[MetricGlucose] = Range{
			Min: math.Max(m-20, 65),
			Max: math.Min(m+20, 180),
		}
	}
	if m, ok := means[MetricOxygen]; ok {
		st.thresholds[MetricOxygen] = Range{
			Min: math.Max(m-3, 90),
			Max: 100,
		}
	}
}

func historyMeans(history []types.HealthReading) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	add := func(key string, v float64) {
		if v > 0 {
			sums[key] += v
			counts[key]++
		}
	}
	for _, r := range history {
		add(MetricHeartRate, r.HeartRate)
		add(MetricSystolic, r.Systolic)
		add(MetricDiastolic, r.Diastolic)
		add(MetricGlucose, r.Glucose)
		add(MetricOxygen, r.Oxygen)
	}
	out := make(map[string]float64, len(sums))
	for k, sum := range sums {
		out[k] = sum / float64(counts[k])
	}
	return out
}

// analyze computes metric stats over the history and concerns for the
// current reading. Caller holds the lock.
func (a *HealthAgent) analyze(st *healthState, current types.HealthReading) *HealthAnalysis {
	metrics := make(map[string]MetricStats)
	collect := func(key string, cur float64, value func(types.HealthReading) float64) {
		if cur <= 0 {
			return
		}
		stats := MetricStats{Current: cur, Min: math.Inf(1), Max: math.Inf(-1)}
		var sum float64
		for _, r := range st.history {
			v := value(r)
			if v <= 0 {
				continue
			}
			stats.Count++
			sum += v
			stats.Min = math.Min(stats.Min, v)
			stats.Max = math.Max(stats.Max, v)
		}
		if stats.Count > 0 {
			stats.Mean = sum / float64(stats.Count)
		} else {
			stats.Min, stats.Max = cur, cur
		}
		metrics[key] = stats
	}
	collect(MetricHeartRate, current.HeartRate, func(r types.HealthReading) float64 { return r.HeartRate })
	collect(MetricSystolic, current.Systolic, func(r types.HealthReading) float64 { return r.Systolic })
	collect(MetricDiastolic, current.Diastolic, func(r types.HealthReading) float64 { return r.Diastolic })
	collect(MetricGlucose, current.Glucose, func(r types.HealthReading) float64 { return r.Glucose })
	collect(MetricOxygen, current.Oxygen, func(r types.HealthReading) float64 { return r.Oxygen })

	var concerns []string
	concernNames := map[string]string{
		MetricHeartRate: "Heart rate outside normal range",
		MetricSystolic:  "Systolic blood pressure outside normal range",
		MetricDiastolic: "Diastolic blood pressure outside normal range",
		MetricGlucose:   "Glucose levels outside normal range",
		MetricOxygen:    "Oxygen saturation outside normal range",
	}
	for _, key := range []string{MetricHeartRate, MetricSystolic, MetricDiastolic, MetricGlucose, MetricOxygen} {
		stats, ok := metrics[key]
		if !ok {
			continue
		}
		thr := st.thresholds[key]
		if stats.Current < thr.Min || stats.Current > thr.Max {
			concerns = append(concerns, concernNames[key])
		}
	}

	return &HealthAnalysis{
		Timestamp: current.Timestamp,
		Metrics:   metrics,
		Status:    statusForConcerns(len(concerns)),
		Concerns:  concerns,
	}
}

// healthCheck describes one metric's alerting rule. Breaches are
// warnings unless beyond the urgent bound; a zero bound disables the
// urgent tier on that side.
type healthCheck struct {
	key         string
	label       string
	unit        string
	value       float64
	urgentBelow float64
	urgentAbove float64
}

// deriveAlerts raises threshold alerts for the current reading.
// Caller holds the lock.
func (a *HealthAgent) deriveAlerts(st *healthState, r types.HealthReading) []types.Alert {
	checks := []healthCheck{
		{MetricHeartRate, "Heart rate", "bpm", r.HeartRate, 0, 0},
		{MetricSystolic, "Systolic blood pressure", "mmHg", r.Systolic, 0, 160},
		{MetricDiastolic, "Diastolic blood pressure", "mmHg", r.Diastolic, 0, 100},
		{MetricGlucose, "Glucose level", "mg/dL", r.Glucose, 60, 180},
		{MetricOxygen, "Oxygen saturation", "%", r.Oxygen, 92, 0},
	}

	var alerts []types.Alert
	ts := a.now()
	for _, c := range checks {
		if c.value <= 0 {
			continue
		}
		thr := st.thresholds[c.key]
		switch {
		case c.value < thr.Min:
			level := types.LevelWarning
			if c.urgentBelow > 0 && c.value <= c.urgentBelow {
				level = types.LevelUrgent
			}
			alerts = append(alerts, types.Alert{
				ID:        types.NewAlertID(),
				Type:      c.key + "_low",
				Level:     level,
				Message:   fmt.Sprintf("%s below threshold: %g %s (min: %g)", c.label, c.value, c.unit, thr.Min),
				Source:    a.Name(),
				Timestamp: ts,
			})
		case c.value > thr.Max:
			level := types.LevelWarning
			if c.urgentAbove > 0 && c.value >= c.urgentAbove {
				level = types.LevelUrgent
			}
			alerts = append(alerts, types.Alert{
				ID:        types.NewAlertID(),
				Type:      c.key + "_high",
				Level:     level,
				Message:   fmt.Sprintf("%s above threshold: %g %s (max: %g)", c.label, c.value, c.unit, thr.Max),
				Source:    a.Name(),
				Timestamp: ts,
			})
		}
	}
	return alerts
}

func (a *HealthAgent) persistReading(ctx context.Context, user types.UserID, r types.HealthReading) {
	if a.store == nil {
		return
	}
	_, err := a.store.Insert(ctx, store.TableHealth, map[string]any{
		"user_id":                  string(user),
		"timestamp":                r.Timestamp.Format(time.RFC3339),
		"heart_rate":               r.HeartRate,
		"blood_pressure_systolic":  r.Systolic,
		"blood_pressure_diastolic": r.Diastolic,
		"glucose_level":            r.Glucose,
		"oxygen_saturation":        r.Oxygen,
	})
	if err != nil {
		slog.Error("persist health reading", "user", user, "error", err)
	}
}

func (a *HealthAgent) persistAlerts(ctx context.Context, user types.UserID, alerts []types.Alert) {
	if a.store == nil {
		return
	}
	for _, al := range alerts {
		_, err := a.store.Insert(ctx, store.TableAlerts, map[string]any{
			"id":       string(al.ID),
			"user_id":  string(user),
			"source":   al.Source,
			"type":     al.Type,
			"level":    al.Level,
			"message":  al.Message,
			"resolved": false,
		})
		if err != nil {
			slog.Error("persist health alert", "user", user, "error", err)
		}
	}
}

// narrateAlerts attaches a generated caregiver-facing note to the
// audit trail. Narration failures are logged, never surfaced.
func (a *HealthAgent) narrateAlerts(ctx context.Context, user types.UserID, r types.HealthReading, alerts []types.Alert) {
	if a.narrator == nil {
		return
	}
	var lines []string
	for _, al := range alerts {
		lines = append(lines, "- "+al.Message)
	}
	prompt := fmt.Sprintf(
		"Analyze health readings for user %s: heart rate %g bpm, blood pressure %g/%g, glucose %g mg/dL, oxygen %g%%.\nAlerts detected:\n%s",
		user, r.HeartRate, r.Systolic, r.Diastolic, r.Glucose, r.Oxygen, strings.Join(lines, "\n"),
	)
	text, err := a.narrator.Generate(ctx, prompt, 200, 0.7, "health_analysis")
	if err != nil {
		slog.Warn("health narration failed", "user", user, "error", err)
		return
	}
	if a.store != nil {
		if _, err := a.store.Insert(ctx, store.TableEvents, map[string]any{
			"user_id": string(user),
			"type":    "health_analysis",
			"message": text,
		}); err != nil {
			slog.Error("persist health narration", "user", user, "error", err)
		}
	}
}

func healthSummary(an *HealthAnalysis) string {
	switch an.Status {
	case types.StatusNormal:
		return "Vital signs are within normal ranges. No immediate health concerns."
	case types.StatusAttention:
		return "Health requires attention: " + strings.Join(an.Concerns, "; ")
	default:
		return "ALERT: Health requires immediate attention: " + strings.Join(an.Concerns, "; ")
	}
}

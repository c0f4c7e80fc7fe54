// internal/agent/safety.go
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/user/carecompanion/internal/config"
	"github.com/user/carecompanion/internal/store"
	"github.com/user/carecompanion/internal/types"
)

// Inactivity threshold bounds for explicit updates, in minutes.
const (
	minInactivityThreshold = 5
	maxInactivityThreshold = 720
)

const defaultInactivityMinutes = 120

// SafetyAgent tracks movement, location and falls, and raises alerts
// for falls, unusual activity and prolonged inactivity.
type SafetyAgent struct {
	mu       sync.Mutex
	rooms    map[string]config.Room
	interval time.Duration
	store    types.Store
	narrator types.Narrator
	now      Clock
	users    map[types.UserID]*safetyState
}

type safetyState struct {
	movements  []types.SafetyReading
	falls      []types.SafetyReading
	alerts     []types.Alert
	thresholds map[string]int

	lastActivity string
	lastLocation string
	lastMovement time.Time

	analysis   *SafetyAnalysis
	analyzedAt time.Time
}

// SafetyAnalysis is the computed view over a user's movement history.
type SafetyAnalysis struct {
	Timestamp       time.Time      `json:"timestamp"`
	CurrentLocation string         `json:"current_location"`
	CurrentActivity string         `json:"current_activity"`
	MovementCounts  map[string]int `json:"movement_counts"`
	LocationCounts  map[string]int `json:"location_counts"`
	FallCount       int            `json:"fall_count"`
	LatestFall      bool           `json:"latest_fall"`
	InactivityPct   float64        `json:"inactivity_percentage"`
	Status          string         `json:"status"`
	Concerns        []string       `json:"concerns"`
}

// SafetyStatusReport is the outward status shape for one user.
type SafetyStatusReport struct {
	UserID    types.UserID    `json:"user_id"`
	Timestamp time.Time       `json:"timestamp"`
	Analysis  *SafetyAnalysis `json:"analysis"`
	Alerts    []types.Alert   `json:"alerts"`
	Summary   string          `json:"summary"`
}

func NewSafety(cfg *config.Config, st types.Store, narrator types.Narrator, now Clock) *SafetyAgent {
	if now == nil {
		now = time.Now
	}
	rooms := map[string]config.Room{
		"bedroom":     {InactivityThresholdMinutes: 480},
		"bathroom":    {InactivityThresholdMinutes: 60},
		"living room": {InactivityThresholdMinutes: 240},
		"kitchen":     {InactivityThresholdMinutes: 120},
	}
	if cfg != nil {
		for name, room := range cfg.Rooms {
			rooms[strings.ToLower(name)] = room
		}
	}
	interval := 30 * time.Second
	if cfg != nil && cfg.Agents.SafetyInterval > 0 {
		interval = time.Duration(cfg.Agents.SafetyInterval) * time.Second
	}
	return &SafetyAgent{
		rooms:    rooms,
		interval: interval,
		store:    st,
		narrator: narrator,
		now:      now,
		users:    make(map[types.UserID]*safetyState),
	}
}

func (a *SafetyAgent) Name() string            { return "safety_guardian" }
func (a *SafetyAgent) Interval() time.Duration { return a.interval }

// locked.
func (a *SafetyAgent) state(user types.UserID) *safetyState {
	st, ok := a.users[user]
	if !ok {
		st = &safetyState{thresholds: a.defaultThresholds()}
		a.users[user] = st
	}
	return st
}

func (a *SafetyAgent) defaultThresholds() map[string]int {
	out := make(map[string]int, len(a.rooms))
	for name, room := range a.rooms {
		if room.InactivityThresholdMinutes > 0 {
			out[name] = room.InactivityThresholdMinutes
		} else {
			out[name] = defaultInactivityMinutes
		}
	}
	return out
}

// ProcessReading ingests one movement reading. The result's Emergency
// flag is set when a fall was detected or any alert is urgent.
func (a *SafetyAgent) ProcessReading(ctx context.Context, user types.UserID, r types.SafetyReading) types.AgentResult {
	if user == "" {
		return types.ErrorResult("missing user id in safety reading")
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = a.now()
	}

	a.mu.Lock()
	st := a.state(user)
	st.movements = appendBounded(st.movements, r, readingHistoryCap)
	if r.FallDetected {
		st.falls = append(st.falls, r)
	}
	st.lastActivity = r.Activity
	st.lastLocation = r.Location
	st.lastMovement = a.now()

	analysis := a.analyze(st, r)
	st.analysis = analysis
	st.analyzedAt = a.now()
	alerts := a.deriveAlerts(st, r, analysis)
	for _, al := range alerts {
		st.alerts = appendBounded(st.alerts, al, alertHistoryCap)
	}
	a.mu.Unlock()

	a.persistReading(ctx, user, r)
	a.persistAlerts(ctx, user, alerts)
	if len(alerts) > 0 || r.FallDetected {
		a.narrateAlerts(ctx, user, r, alerts)
	}

	emergency := bool(r.FallDetected)
	for _, al := range alerts {
		if al.Level == types.LevelUrgent {
			emergency = true
		}
	}
	return types.AgentResult{
		Status:    analysis.Status,
		Message:   safetySummary(analysis),
		Alerts:    alerts,
		Emergency: emergency,
		Location:  r.Location,
		Activity:  r.Activity,
	}
}

// Update runs the periodic inactivity check for every known user.
func (a *SafetyAgent) Update(ctx context.Context) error {
	now := a.now()

	a.mu.Lock()
	type pending struct {
		user   types.UserID
		alerts []types.Alert
	}
	var work []pending
	for user, st := range a.users {
		alerts := a.checkInactivity(st, now)
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

// checkInactivity raises an alert when the user has shown no movement
// in their current room beyond its threshold, urgent beyond twice the
// threshold. Caller holds the lock.
func (a *SafetyAgent) checkInactivity(st *safetyState, now time.Time) []types.Alert {
	if st.lastActivity != "No Movement" || st.lastMovement.IsZero() {
		return nil
	}
	room := strings.ToLower(st.lastLocation)
	threshold, ok := st.thresholds[room]
	if !ok {
		threshold = defaultInactivityMinutes
	}
	inactive := now.Sub(st.lastMovement).Minutes()
	if inactive <= float64(threshold) {
		return nil
	}
	level := types.LevelWarning
	if inactive > float64(threshold)*2 {
		level = types.LevelUrgent
	}
	return []types.Alert{{
		ID:        types.NewAlertID(),
		Type:      "inactivity",
		Level:     level,
		Message:   fmt.Sprintf("User has been inactive in %s for %d minutes (threshold: %d minutes)", st.lastLocation, int(inactive), threshold),
		Source:    a.Name(),
		Timestamp: now,
	}}
}

// Status returns the current safety view for the user.
func (a *SafetyAgent) Status(_ context.Context, user types.UserID) (*SafetyStatusReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.users[user]
	if !ok || len(st.movements) == 0 {
		return nil, fmt.Errorf("no safety data available for user %s", user)
	}
	if st.analysis == nil {
		st.analysis = a.analyze(st, st.movements[len(st.movements)-1])
		st.analyzedAt = a.now()
	}
	return &SafetyStatusReport{
		UserID:    user,
		Timestamp: st.analyzedAt,
		Analysis:  st.analysis,
		Alerts:    lastN(st.alerts, 5),
		Summary:   safetySummary(st.analysis),
	}, nil
}

// UpdateInactivityThreshold sets the user's personal inactivity
// threshold for a room, bounded to [5, 720] minutes.
func (a *SafetyAgent) UpdateInactivityThreshold(_ context.Context, user types.UserID, room string, minutes int) error {
	if minutes < minInactivityThreshold {
		return fmt.Errorf("threshold too low: minimum is %d minutes", minInactivityThreshold)
	}
	if minutes > maxInactivityThreshold {
		return fmt.Errorf("threshold too high: maximum is %d minutes", maxInactivityThreshold)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	st := a.state(user)
	st.thresholds[strings.ToLower(room)] = minutes
	return nil
}

// UpdateRoomSettings replaces the shared settings for a room. Existing
// per-user threshold overrides are kept.
func (a *SafetyAgent) UpdateRoomSettings(_ context.Context, room string, settings config.Room) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rooms[strings.ToLower(room)] = settings
}

func (a *SafetyAgent) unusualActivity(activity, location string) bool {
	if activity == "" || location == "" {
		return false
	}
	room, ok := a.rooms[strings.ToLower(location)]
	if !ok || len(room.ExpectedActivities) == 0 {
		return false
	}
	for _, expected := range room.ExpectedActivities {
		if expected == activity {
			return false
		}
	}
	return true
}

// analyze computes movement patterns over the history. Caller holds
// the lock.
func (a *SafetyAgent) analyze(st *safetyState, current types.SafetyReading) *SafetyAnalysis {
	movementCounts := make(map[string]int)
	locationCounts := make(map[string]int)
	for _, r := range st.movements {
		if r.Activity != "" {
			movementCounts[r.Activity]++
		}
		if r.Location != "" {
			locationCounts[r.Location]++
		}
	}

	total := len(st.movements)
	var inactivityPct float64
	if total > 0 {
		inactivityPct = float64(movementCounts["No Movement"]) / float64(total) * 100
	}

	var concerns []string
	if current.FallDetected {
		concerns = append(concerns, "Recent fall detected")
	}
	if len(st.falls) > 0 {
		concerns = append(concerns, "History of falls")
	}
	if inactivityPct > 50 {
		concerns = append(concerns, "High levels of inactivity")
	}
	if current.Activity == "No Movement" && current.PostFallInactivity > 300 {
		concerns = append(concerns, "Extended period of no movement")
	}

	return &SafetyAnalysis{
		Timestamp:       current.Timestamp,
		CurrentLocation: current.Location,
		CurrentActivity: current.Activity,
		MovementCounts:  movementCounts,
		LocationCounts:  locationCounts,
		FallCount:       len(st.falls),
		LatestFall:      bool(current.FallDetected),
		InactivityPct:   inactivityPct,
		Status:          statusForConcerns(len(concerns)),
		Concerns:        concerns,
	}
}

// deriveAlerts raises alerts for the current reading and for movement
// pattern anomalies. Caller holds the lock.
func (a *SafetyAgent) deriveAlerts(st *safetyState, r types.SafetyReading, analysis *SafetyAnalysis) []types.Alert {
	var alerts []types.Alert
	ts := a.now()

	if r.FallDetected {
		alerts = append(alerts, types.Alert{
			ID:        types.NewAlertID(),
			Type:      "fall_detected",
			Level:     types.LevelUrgent,
			Message:   fmt.Sprintf("Fall detected in %s", orUnknown(r.Location)),
			Source:    a.Name(),
			Timestamp: ts,
		})
	}

	if a.unusualActivity(r.Activity, r.Location) {
		alerts = append(alerts, types.Alert{
			ID:        types.NewAlertID(),
			Type:      "unusual_activity",
			Level:     types.LevelInfo,
			Message:   fmt.Sprintf("Unusual activity detected: %s in %s", r.Activity, r.Location),
			Source:    a.Name(),
			Timestamp: ts,
		})
	}

	total := 0
	for _, n := range analysis.MovementCounts {
		total += n
	}
	if total > 0 {
		noMovement := analysis.MovementCounts["No Movement"]
		if float64(noMovement)/float64(total) > 0.7 {
			alerts = append(alerts, types.Alert{
				ID:        types.NewAlertID(),
				Type:      "excessive_inactivity_pattern",
				Level:     types.LevelWarning,
				Message:   "Excessive 'No Movement' activity detected in movement patterns",
				Source:    a.Name(),
				Timestamp: ts,
			})
		}
		if float64(analysis.MovementCounts["Walking"])/float64(total) < 0.1 {
			alerts = append(alerts, types.Alert{
				ID:        types.NewAlertID(),
				Type:      "limited_walking",
				Level:     types.LevelInfo,
				Message:   "Limited walking activity detected in movement patterns",
				Source:    a.Name(),
				Timestamp: ts,
			})
		}
	}

	if len(st.movements) > 10 && len(analysis.LocationCounts) == 1 {
		var only string
		for loc := range analysis.LocationCounts {
			only = loc
		}
		alerts = append(alerts, types.Alert{
			ID:        types.NewAlertID(),
			Type:      "limited_mobility",
			Level:     types.LevelInfo,
			Message:   fmt.Sprintf("User has remained only in %s for extended period", only),
			Source:    a.Name(),
			Timestamp: ts,
		})
	}

	return alerts
}

func (a *SafetyAgent) persistReading(ctx context.Context, user types.UserID, r types.SafetyReading) {
	if a.store == nil {
		return
	}
	_, err := a.store.Insert(ctx, store.TableSafety, map[string]any{
		"user_id":          string(user),
		"timestamp":        r.Timestamp.Format(time.RFC3339),
		"location":         orUnknown(r.Location),
		"activity":         orUnknown(r.Activity),
		"fall_detected":    r.FallDetected,
		"unusual_activity": a.unusualActivity(r.Activity, r.Location),
	})
	if err != nil {
		slog.Error("persist safety reading", "user", user, "error", err)
	}
}

func (a *SafetyAgent) persistAlerts(ctx context.Context, user types.UserID, alerts []types.Alert) {
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
			slog.Error("persist safety alert", "user", user, "error", err)
		}
	}
}

func (a *SafetyAgent) narrateAlerts(ctx context.Context, user types.UserID, r types.SafetyReading, alerts []types.Alert) {
	if a.narrator == nil {
		return
	}
	var lines []string
	for _, al := range alerts {
		lines = append(lines, "- "+al.Message)
	}
	prompt := fmt.Sprintf(
		"Analyze safety data for user %s: location %s, activity %s, fall detected %t.\nAlerts detected:\n%s",
		user, orUnknown(r.Location), orUnknown(r.Activity), r.FallDetected, strings.Join(lines, "\n"),
	)
	text, err := a.narrator.Generate(ctx, prompt, 200, 0.7, "safety_analysis")
	if err != nil {
		slog.Warn("safety narration failed", "user", user, "error", err)
		return
	}
	if a.store != nil {
		if _, err := a.store.Insert(ctx, store.TableEvents, map[string]any{
			"user_id": string(user),
			"type":    "safety_analysis",
			"message": text,
		}); err != nil {
			slog.Error("persist safety narration", "user", user, "error", err)
		}
	}
}

func safetySummary(an *SafetyAnalysis) string {
	prefix := fmt.Sprintf("Currently %s in %s. ", orUnknown(an.CurrentActivity), orUnknown(an.CurrentLocation))
	switch an.Status {
	case types.StatusNormal:
		return prefix + "No safety concerns detected."
	case types.StatusAttention:
		return prefix + "Safety requires attention: " + strings.Join(an.Concerns, "; ")
	default:
		return prefix + "ALERT: Safety requires immediate action: " + strings.Join(an.Concerns, "; ")
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

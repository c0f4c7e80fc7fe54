// internal/agent/reminder.go
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/carecompanion/internal/config"
	"github.com/user/carecompanion/internal/store"
	"github.com/user/carecompanion/internal/types"
)

// minUpcomingReminders is the low-water mark below which the agent
// regenerates reminders from the user's preferred times.
const minUpcomingReminders = 5

const defaultMaxDelayMinutes = 60

// ReminderPrefs is the per-type schedule for one user.
type ReminderPrefs struct {
	Enabled         bool     `json:"enabled"`
	Priority        string   `json:"priority"`
	MaxDelayMinutes int      `json:"max_delay_minutes"`
	PreferredTimes  []string `json:"preferred_times"`
}

// ReminderAgent schedules daily reminders, marks them sent when due,
// tracks acknowledgments, and flags overdue ones.
type ReminderAgent struct {
	mu       sync.Mutex
	defaults map[string]ReminderPrefs
	interval time.Duration
	store    types.Store
	narrator types.Narrator
	now      Clock
	users    map[types.UserID]*reminderState
}

type reminderState struct {
	upcoming   []types.Reminder
	history    []types.Reminder
	alerts     []types.Alert
	prefs      map[string]ReminderPrefs
	analysis   *ReminderAnalysis
	analyzedAt time.Time
}

// ReminderAnalysis summarizes acknowledgment behavior over the sent
// history.
type ReminderAnalysis struct {
	Timestamp  time.Time               `json:"timestamp"`
	TotalSent  int                     `json:"total_sent"`
	TotalAcked int                     `json:"total_acknowledged"`
	AckRate    float64                 `json:"acknowledgment_rate"`
	ByType     map[string]TypeAckStats `json:"acknowledgment_by_type"`
	Status     string                  `json:"status"`
	Concerns   []string                `json:"concerns"`
}

type TypeAckStats struct {
	Sent  int     `json:"sent"`
	Acked int     `json:"acknowledged"`
	Rate  float64 `json:"rate"`
}

// ReminderStatusReport is the outward status shape for one user.
type ReminderStatusReport struct {
	UserID          types.UserID           `json:"user_id"`
	Timestamp       time.Time              `json:"timestamp"`
	Analysis        *ReminderAnalysis      `json:"analysis"`
	Upcoming        []types.Reminder       `json:"upcoming_reminders"`
	Alerts          []types.Alert          `json:"alerts"`
	Recommendations []types.Recommendation `json:"recommendations"`
	Summary         string                 `json:"summary"`
}

func NewReminder(cfg *config.Config, st types.Store, narrator types.Narrator, now Clock) *ReminderAgent {
	if now == nil {
		now = time.Now
	}
	defaults := map[string]ReminderPrefs{
		"medication":  {Enabled: true, Priority: "high", MaxDelayMinutes: 30, PreferredTimes: []string{"08:00", "12:00", "18:00"}},
		"hydration":   {Enabled: true, Priority: "medium", MaxDelayMinutes: 60, PreferredTimes: []string{"09:00", "12:00", "15:00", "18:00"}},
		"exercise":    {Enabled: true, Priority: "medium", MaxDelayMinutes: 120, PreferredTimes: []string{"10:00", "16:00"}},
		"appointment": {Enabled: true, Priority: "high", MaxDelayMinutes: 30, PreferredTimes: []string{"09:00"}},
	}
	if cfg != nil {
		for name, rt := range cfg.Reminders {
			p := ReminderPrefs{
				Enabled:         true,
				Priority:        rt.Priority,
				MaxDelayMinutes: rt.MaxDelayMinutes,
				PreferredTimes:  append([]string(nil), rt.PreferredTimes...),
			}
			if p.Priority == "" {
				p.Priority = "medium"
			}
			if p.MaxDelayMinutes <= 0 {
				p.MaxDelayMinutes = defaultMaxDelayMinutes
			}
			defaults[strings.ToLower(name)] = p
		}
	}
	interval := 60 * time.Second
	if cfg != nil && cfg.Agents.ReminderInterval > 0 {
		interval = time.Duration(cfg.Agents.ReminderInterval) * time.Second
	}
	return &ReminderAgent{
		defaults: defaults,
		interval: interval,
		store:    st,
		narrator: narrator,
		now:      now,
		users:    make(map[types.UserID]*reminderState),
	}
}

func (a *ReminderAgent) Name() string            { return "daily_assistant" }
func (a *ReminderAgent) Interval() time.Duration { return a.interval }

// locked. Creates empty state with default preferences and an initial
// schedule on first sighting.
func (a *ReminderAgent) state(user types.UserID) *reminderState {
	st, ok := a.users[user]
	if !ok {
		st = &reminderState{prefs: a.defaultPrefs()}
		a.users[user] = st
		a.regenerate(user, st)
	}
	return st
}

func (a *ReminderAgent) defaultPrefs() map[string]ReminderPrefs {
	out := make(map[string]ReminderPrefs, len(a.defaults))
	for k, v := range a.defaults {
		out[k] = v
	}
	return out
}

// ProcessReading handles an inbound reminder event: either an
// acknowledgment of a sent reminder or a request to schedule a new
// one. Unknown reminder IDs are a soft error.
func (a *ReminderAgent) ProcessReading(ctx context.Context, user types.UserID, ev types.ReminderEvent) types.AgentResult {
	if user == "" {
		return types.ErrorResult("missing user id in reminder event")
	}

	a.mu.Lock()
	st := a.state(user)

	var result types.AgentResult
	switch ev.Action {
	case types.ReminderActionAck, "":
		if ev.ReminderID == "" {
			a.mu.Unlock()
			return types.ErrorResult("acknowledgment missing reminder_id")
		}
		rem := acknowledge(st, ev.ReminderID, a.now())
		if rem == nil {
			a.mu.Unlock()
			return types.ErrorResult(fmt.Sprintf("reminder %s not found for user %s", ev.ReminderID, user))
		}
		st.analysis = a.analyze(st)
		st.analyzedAt = a.now()
		result = types.AgentResult{
			Status:          st.analysis.Status,
			Message:         fmt.Sprintf("Acknowledged %s reminder", rem.Type),
			Recommendations: a.recommendations(st),
		}
		ackType, ackContent, ackID := rem.Type, rem.Content, rem.ID
		a.mu.Unlock()

		a.persistEvent(ctx, user, "reminder_acknowledged", fmt.Sprintf("Acknowledged %s reminder: %s", ackType, ackContent))
		slog.Info("reminder acknowledged", "user", user, "reminder", ackID, "type", ackType)

	case types.ReminderActionAdd:
		rem := types.Reminder{
			ID:          types.NewReminderID(),
			UserID:      user,
			Type:        strings.ToLower(orDefault(ev.ReminderType, "custom")),
			Content:     orDefault(ev.Content, "Custom reminder"),
			ScheduledAt: ev.ScheduledAt,
			CreatedAt:   a.now(),
		}
		if rem.ScheduledAt.IsZero() {
			rem.ScheduledAt = a.now().Add(time.Hour)
		}
		st.upcoming = append(st.upcoming, rem)
		sortBySchedule(st.upcoming)
		status := types.StatusNormal
		if st.analysis != nil {
			status = st.analysis.Status
		}
		a.mu.Unlock()

		slog.Info("reminder added", "user", user, "type", rem.Type, "scheduled_at", rem.ScheduledAt)
		result = types.AgentResult{
			Status:  status,
			Message: fmt.Sprintf("Added %s reminder for %s", rem.Type, rem.ScheduledAt.Format("15:04")),
		}

	default:
		a.mu.Unlock()
		return types.ErrorResult(fmt.Sprintf("unknown reminder action %q", ev.Action))
	}

	return result
}

// acknowledge marks the matching reminder in the sent history. Caller
// holds the lock.
func acknowledge(st *reminderState, id types.ReminderID, at time.Time) *types.Reminder {
	for i := range st.history {
		if st.history[i].ID == id {
			st.history[i].Acknowledged = true
			st.history[i].AckedAt = at
			return &st.history[i]
		}
	}
	return nil
}

// Update sends due reminders, tops up the schedule, and raises alerts
// for overdue ones.
func (a *ReminderAgent) Update(ctx context.Context) error {
	now := a.now()

	a.mu.Lock()
	type pending struct {
		user    types.UserID
		sent    []types.Reminder
		overdue []types.Alert
	}
	var work []pending
	for user, st := range a.users {
		var p pending
		p.user = user

		remaining := st.upcoming[:0]
		for _, rem := range st.upcoming {
			if !rem.ScheduledAt.After(now) {
				rem.Sent = true
				rem.SentAt = now
				st.history = appendBounded(st.history, rem, readingHistoryCap)
				p.sent = append(p.sent, rem)
			} else {
				remaining = append(remaining, rem)
			}
		}
		st.upcoming = remaining

		if len(st.upcoming) < minUpcomingReminders {
			a.regenerate(user, st)
		}

		p.overdue = a.overdueAlerts(st, now)
		for _, al := range p.overdue {
			st.alerts = appendBounded(st.alerts, al, alertHistoryCap)
		}

		if len(p.sent) > 0 || len(p.overdue) > 0 {
			st.analysis = a.analyze(st)
			st.analyzedAt = now
			work = append(work, p)
		}
	}
	a.mu.Unlock()

	for _, p := range work {
		for _, rem := range p.sent {
			slog.Info("reminder sent", "user", p.user, "type", rem.Type, "content", rem.Content)
			a.persistReminder(ctx, rem)
		}
		a.persistAlerts(ctx, p.user, p.overdue)
	}
	return nil
}

// overdueAlerts flags sent, unacknowledged reminders past their
// type's max delay. High-priority types alert at warning level.
// Caller holds the lock.
func (a *ReminderAgent) overdueAlerts(st *reminderState, now time.Time) []types.Alert {
	var alerts []types.Alert
	for i := range st.history {
		rem := &st.history[i]
		if !rem.Sent || rem.Acknowledged || rem.SentAt.IsZero() {
			continue
		}
		prefs, ok := st.prefs[rem.Type]
		maxDelay := defaultMaxDelayMinutes
		priority := "medium"
		if ok {
			maxDelay = prefs.MaxDelayMinutes
			priority = prefs.Priority
		}
		elapsed := now.Sub(rem.SentAt)
		if elapsed <= time.Duration(maxDelay)*time.Minute {
			continue
		}
		level := types.LevelInfo
		if priority == "high" {
			level = types.LevelWarning
		}
		al := types.Alert{
			ID:        types.NewAlertID(),
			Type:      "reminder_overdue",
			Level:     level,
			Message:   fmt.Sprintf("Overdue %s reminder: %s", rem.Type, rem.Content),
			Source:    a.Name(),
			Timestamp: now,
		}
		if containsAlert(st.alerts, al) {
			continue
		}
		alerts = append(alerts, al)
	}
	return alerts
}

// containsAlert suppresses repeat overdue alerts for the same
// reminder content.
func containsAlert(existing []types.Alert, al types.Alert) bool {
	for _, e := range existing {
		if e.Type == al.Type && e.Message == al.Message {
			return true
		}
	}
	return false
}

// regenerate tops up upcoming reminders from each enabled type's
// preferred times, skipping slots already scheduled. Times already
// past today roll to tomorrow. Caller holds the lock.
func (a *ReminderAgent) regenerate(user types.UserID, st *reminderState) {
	now := a.now()
	taken := make(map[time.Time]bool, len(st.upcoming))
	for _, rem := range st.upcoming {
		taken[rem.ScheduledAt.Truncate(time.Minute)] = true
	}

	for _, typ := range sortedKeys(st.prefs) {
		prefs := st.prefs[typ]
		if !prefs.Enabled {
			continue
		}
		for _, ts := range prefs.PreferredTimes {
			at, err := nextOccurrence(ts, now)
			if err != nil {
				slog.Warn("bad preferred time", "user", user, "type", typ, "time", ts)
				continue
			}
			if taken[at] {
				continue
			}
			taken[at] = true
			st.upcoming = append(st.upcoming, types.Reminder{
				ID:          types.NewReminderID(),
				UserID:      user,
				Type:        typ,
				Content:     reminderContent(typ),
				ScheduledAt: at,
				CreatedAt:   now,
			})
		}
	}
	sortBySchedule(st.upcoming)
}

// nextOccurrence resolves an "HH:MM" wall-clock time to its next
// occurrence at or after now.
func nextOccurrence(hhmm string, now time.Time) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse preferred time %q: %w", hhmm, err)
	}
	at := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	if at.Before(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at, nil
}

func sortBySchedule(reminders []types.Reminder) {
	sort.SliceStable(reminders, func(i, j int) bool {
		return reminders[i].ScheduledAt.Before(reminders[j].ScheduledAt)
	})
}

func reminderContent(typ string) string {
	pick := func(options ...string) string {
		return options[rand.Intn(len(options))]
	}
	switch typ {
	case "medication":
		return pick(
			"Take your blood pressure medication",
			"Time for your heart medication",
			"Don't forget your daily vitamin",
			"Take your arthritis medication",
		)
	case "hydration":
		return pick(
			"Drink a glass of water",
			"Stay hydrated - have some water",
			"Time to have some water",
			"Remember to drink fluids regularly",
		)
	case "exercise":
		return pick(
			"Time for your gentle stretching routine",
			"Do your daily walking exercise",
			"Remember to do your physical therapy exercises",
			"Time for some light movement activities",
		)
	case "appointment":
		return pick(
			"Doctor's appointment tomorrow at 10:00 AM",
			"Reminder: Physical therapy session at 2:00 PM",
			"You have a telehealth call scheduled",
			"Don't forget your check-up appointment",
		)
	default:
		return fmt.Sprintf("Reminder for your %s", typ)
	}
}

// analyze computes acknowledgment rates over the sent history. Caller
// holds the lock.
func (a *ReminderAgent) analyze(st *reminderState) *ReminderAnalysis {
	byType := make(map[string]TypeAckStats)
	var sent, acked int
	for _, rem := range st.history {
		if !rem.Sent {
			continue
		}
		sent++
		stats := byType[rem.Type]
		stats.Sent++
		if rem.Acknowledged {
			acked++
			stats.Acked++
		}
		byType[rem.Type] = stats
	}
	for typ, stats := range byType {
		if stats.Sent > 0 {
			stats.Rate = float64(stats.Acked) / float64(stats.Sent) * 100
		}
		byType[typ] = stats
	}

	var ackRate float64
	if sent > 0 {
		ackRate = float64(acked) / float64(sent) * 100
	}

	var concerns []string
	if sent > 0 && ackRate < 50 {
		concerns = append(concerns, "Low overall reminder acknowledgment rate")
	}
	for _, typ := range sortedKeys(byType) {
		stats := byType[typ]
		if stats.Sent > 3 && stats.Rate < 50 {
			concerns = append(concerns, fmt.Sprintf("Low acknowledgment rate for %s reminders", typ))
		}
	}

	return &ReminderAnalysis{
		Timestamp:  a.now(),
		TotalSent:  sent,
		TotalAcked: acked,
		AckRate:    ackRate,
		ByType:     byType,
		Status:     statusForConcerns(len(concerns)),
		Concerns:   concerns,
	}
}

// recommendations derives adherence suggestions from the current
// analysis. Caller holds the lock.
func (a *ReminderAgent) recommendations(st *reminderState) []types.Recommendation {
	an := st.analysis
	if an == nil {
		return nil
	}
	var recs []types.Recommendation
	if an.TotalSent > 0 && an.AckRate < 50 {
		recs = append(recs, types.Recommendation{
			Type:     "reminder_method",
			Message:  "Consider changing reminder delivery method to improve acknowledgment rate",
			Priority: "high",
			Source:   a.Name(),
		})
	}
	for _, typ := range sortedKeys(an.ByType) {
		stats := an.ByType[typ]
		if stats.Sent > 3 && stats.Rate < 50 {
			recs = append(recs, types.Recommendation{
				Type:     "reminder_timing",
				Message:  fmt.Sprintf("Adjust timing for %s reminders to improve acknowledgment rate", typ),
				Priority: "medium",
				Source:   a.Name(),
			})
		}
	}
	if stats := an.ByType["hydration"]; stats.Sent < 3 {
		recs = append(recs, types.Recommendation{
			Type:     "add_reminder",
			Message:  "Consider adding more hydration reminders throughout the day",
			Priority: "medium",
			Source:   a.Name(),
		})
	}
	if stats := an.ByType["exercise"]; stats.Sent < 1 {
		recs = append(recs, types.Recommendation{
			Type:     "add_reminder",
			Message:  "Add exercise reminders to promote physical activity",
			Priority: "medium",
			Source:   a.Name(),
		})
	}
	return recs
}

// Status returns the current reminder view for the user.
func (a *ReminderAgent) Status(_ context.Context, user types.UserID) (*ReminderStatusReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.users[user]
	if !ok {
		return nil, fmt.Errorf("no reminder data available for user %s", user)
	}
	if st.analysis == nil {
		st.analysis = a.analyze(st)
		st.analyzedAt = a.now()
	}
	upcoming := st.upcoming
	if len(upcoming) > 5 {
		upcoming = upcoming[:5]
	}
	return &ReminderStatusReport{
		UserID:          user,
		Timestamp:       st.analyzedAt,
		Analysis:        st.analysis,
		Upcoming:        append([]types.Reminder(nil), upcoming...),
		Alerts:          lastN(st.alerts, 5),
		Recommendations: a.recommendations(st),
		Summary:         reminderSummary(st.analysis, upcoming),
	}, nil
}

// AddReminder schedules a one-off reminder directly.
func (a *ReminderAgent) AddReminder(_ context.Context, user types.UserID, typ, content string, at time.Time) (types.Reminder, error) {
	if user == "" {
		return types.Reminder{}, fmt.Errorf("missing user id")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state(user)
	rem := types.Reminder{
		ID:          types.NewReminderID(),
		UserID:      user,
		Type:        strings.ToLower(orDefault(typ, "custom")),
		Content:     orDefault(content, "Custom reminder"),
		ScheduledAt: at,
		CreatedAt:   a.now(),
	}
	if rem.ScheduledAt.IsZero() {
		rem.ScheduledAt = a.now().Add(time.Hour)
	}
	st.upcoming = append(st.upcoming, rem)
	sortBySchedule(st.upcoming)
	return rem, nil
}

// UpdatePreferences merges per-type preference overrides for the user.
func (a *ReminderAgent) UpdatePreferences(_ context.Context, user types.UserID, prefs map[string]ReminderPrefs) error {
	if user == "" {
		return fmt.Errorf("missing user id")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state(user)
	for typ, p := range prefs {
		if p.MaxDelayMinutes <= 0 {
			p.MaxDelayMinutes = defaultMaxDelayMinutes
		}
		if p.Priority == "" {
			p.Priority = "medium"
		}
		st.prefs[strings.ToLower(typ)] = p
	}
	slog.Info("reminder preferences updated", "user", user)
	return nil
}

func (a *ReminderAgent) persistReminder(ctx context.Context, rem types.Reminder) {
	if a.store == nil {
		return
	}
	_, err := a.store.Insert(ctx, store.TableReminders, map[string]any{
		"id":             string(rem.ID),
		"user_id":        string(rem.UserID),
		"type":           rem.Type,
		"content":        rem.Content,
		"scheduled_time": rem.ScheduledAt.Format(time.RFC3339),
		"sent":           rem.Sent,
		"acknowledged":   rem.Acknowledged,
	})
	if err != nil {
		slog.Error("persist reminder", "user", rem.UserID, "error", err)
	}
}

func (a *ReminderAgent) persistAlerts(ctx context.Context, user types.UserID, alerts []types.Alert) {
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
			slog.Error("persist reminder alert", "user", user, "error", err)
		}
	}
}

func (a *ReminderAgent) persistEvent(ctx context.Context, user types.UserID, eventType, message string) {
	if a.store == nil {
		return
	}
	if _, err := a.store.Insert(ctx, store.TableEvents, map[string]any{
		"user_id": string(user),
		"type":    eventType,
		"message": message,
	}); err != nil {
		slog.Error("persist reminder event", "user", user, "error", err)
	}
}

func reminderSummary(an *ReminderAnalysis, upcoming []types.Reminder) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reminder acknowledgment rate: %.1f%%. ", an.AckRate)
	if len(upcoming) > 0 {
		next := upcoming[0]
		fmt.Fprintf(&b, "Next reminder: %s at %s. ", next.Type, next.ScheduledAt.Format("15:04"))
	}
	if an.Status == types.StatusNormal {
		b.WriteString("Reminder adherence is good.")
	} else {
		b.WriteString("Reminder adherence needs attention: " + strings.Join(an.Concerns, "; "))
	}
	return b.String()
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// internal/coordinator/coordinator.go

// Package coordinator routes inbound readings to the domain agents,
// maintains the per-user aggregate context, and escalates urgent
// findings to the emergency agent.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/carecompanion/internal/agent"
	"github.com/user/carecompanion/internal/config"
	"github.com/user/carecompanion/internal/emergency"
	"github.com/user/carecompanion/internal/store"
	"github.com/user/carecompanion/internal/types"
)

// contextStaleness is how old a user context may get before a status
// query or a periodic tick re-pulls every domain agent.
const contextStaleness = time.Minute

// emergencyNone marks a context with no active emergency; any other
// value is the active emergency's type.
const emergencyNone = "none"

type Coordinator struct {
	mu        sync.Mutex
	health    *agent.HealthAgent
	safety    *agent.SafetyAgent
	reminder  *agent.ReminderAgent
	social    *agent.SocialAgent
	emergency *emergency.Agent
	narrator  types.Narrator
	store     types.Store
	now       func() time.Time
	interval  time.Duration
	startedAt time.Time
	contexts  map[types.UserID]*types.UserContext
}

// UserStatusReport aggregates the context with each agent's detailed
// view. Domain reports are nil when the agent has no data.
type UserStatusReport struct {
	UserID    types.UserID                `json:"user_id"`
	Timestamp time.Time                   `json:"timestamp"`
	Context   types.UserContext           `json:"context"`
	Health    *agent.HealthStatusReport   `json:"health,omitempty"`
	Safety    *agent.SafetyStatusReport   `json:"safety,omitempty"`
	Reminders *agent.ReminderStatusReport `json:"reminders,omitempty"`
	Social    *agent.SocialStatusReport   `json:"social,omitempty"`
	Emergency *emergency.StatusReport     `json:"emergency,omitempty"`
	Summary   string                      `json:"summary"`
}

// SystemStatusReport is the fleet-wide view.
type SystemStatusReport struct {
	Timestamp         time.Time       `json:"timestamp"`
	ActiveUsers       int             `json:"active_users"`
	ActiveAlerts      int             `json:"active_alerts"`
	ActiveEmergencies int             `json:"active_emergencies"`
	UserStatusCounts  map[string]int  `json:"user_status_counts"`
	AgentsStatus      map[string]bool `json:"agents_status"`
	StartedAt         time.Time       `json:"started_at"`
	Uptime            string          `json:"uptime"`
}

func New(cfg *config.Config, health *agent.HealthAgent, safety *agent.SafetyAgent, reminder *agent.ReminderAgent, social *agent.SocialAgent, em *emergency.Agent, narrator types.Narrator, st types.Store, now func() time.Time) *Coordinator {
	if now == nil {
		now = time.Now
	}
	interval := 60 * time.Second
	if cfg != nil && cfg.Agents.CoordinatorInterval > 0 {
		interval = time.Duration(cfg.Agents.CoordinatorInterval) * time.Second
	}
	return &Coordinator{
		health:    health,
		safety:    safety,
		reminder:  reminder,
		social:    social,
		emergency: em,
		narrator:  narrator,
		store:     st,
		now:       now,
		interval:  interval,
		startedAt: now(),
		contexts:  make(map[types.UserID]*types.UserContext),
	}
}

func (c *Coordinator) Name() string            { return "coordination" }
func (c *Coordinator) Interval() time.Duration { return c.interval }

// locked.
func (c *Coordinator) context(user types.UserID) *types.UserContext {
	uc, ok := c.contexts[user]
	if !ok {
		uc = &types.UserContext{
			UserID:          user,
			HealthStatus:    types.StatusUnknown,
			SafetyStatus:    types.StatusUnknown,
			ReminderStatus:  types.StatusUnknown,
			SocialStatus:    types.StatusUnknown,
			EmergencyStatus: emergencyNone,
			OverallStatus:   types.StatusUnknown,
		}
		c.contexts[user] = uc
	}
	return uc
}

// HandleIncoming decodes one envelope and routes it to the matching
// domain agent, then folds the result into the user's context. All
// failures are in-band.
func (c *Coordinator) HandleIncoming(ctx context.Context, env types.Envelope) types.AgentResult {
	reading, err := types.ParseEnvelope(env, c.now())
	if err != nil {
		return types.ErrorResult(err.Error())
	}
	user := env.UserID

	var result types.AgentResult
	switch r := reading.(type) {
	case types.HealthReading:
		if c.health == nil {
			return types.ErrorResult("health agent not initialized")
		}
		result = c.health.ProcessReading(ctx, user, r)
		if result.Status != types.StatusError {
			c.mergeHealth(user, result)
			c.escalateUrgentAlerts(ctx, user, result.Alerts)
		}
	case types.SafetyReading:
		if c.safety == nil {
			return types.ErrorResult("safety agent not initialized")
		}
		result = c.safety.ProcessReading(ctx, user, r)
		if result.Status != types.StatusError {
			c.mergeSafety(user, result)
			if result.Emergency && c.emergency != nil {
				emType := types.EmergencySafety
				if r.FallDetected {
					emType = types.EmergencyFall
				}
				details := map[string]any{
					"activity":           r.Activity,
					"impact_force_level": r.ImpactForce,
				}
				c.emergency.HandleEmergency(ctx, user, emType, details, r.Location)
			}
		}
	case types.ReminderEvent:
		if c.reminder == nil {
			return types.ErrorResult("reminder agent not initialized")
		}
		result = c.reminder.ProcessReading(ctx, user, r)
		if result.Status != types.StatusError {
			c.mergeReminder(user, result)
		}
	case types.SocialInteraction:
		if c.social == nil {
			return types.ErrorResult("social agent not initialized")
		}
		result = c.social.ProcessReading(ctx, user, r)
		if result.Status != types.StatusError {
			c.mergeSocial(user, result)
		}
	}

	if result.Status != types.StatusError {
		c.refreshOverall(user)
	}
	return result
}

func (c *Coordinator) mergeHealth(user types.UserID, res types.AgentResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uc := c.context(user)
	uc.HealthStatus = res.Status
	appendAlerts(uc, res.Alerts)
}

func (c *Coordinator) mergeSafety(user types.UserID, res types.AgentResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uc := c.context(user)
	uc.SafetyStatus = res.Status
	if res.Location != "" {
		uc.Location = res.Location
	}
	if res.Activity != "" {
		uc.Activity = res.Activity
	}
	appendAlerts(uc, res.Alerts)
}

func (c *Coordinator) mergeReminder(user types.UserID, res types.AgentResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uc := c.context(user)
	uc.ReminderStatus = res.Status
	appendRecommendations(uc, res.Recommendations)
}

func (c *Coordinator) mergeSocial(user types.UserID, res types.AgentResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uc := c.context(user)
	uc.SocialStatus = res.Status
	appendAlerts(uc, res.Alerts)
}

// appendAlerts merges by content equality, so a re-observed alert with
// a fresh id does not duplicate the context. Caller holds the lock.
func appendAlerts(uc *types.UserContext, alerts []types.Alert) {
	for _, al := range alerts {
		dup := false
		for _, existing := range uc.Alerts {
			if existing.SameContent(al) {
				dup = true
				break
			}
		}
		if !dup {
			uc.Alerts = append(uc.Alerts, al)
		}
	}
}

func appendRecommendations(uc *types.UserContext, recs []types.Recommendation) {
	for _, rec := range recs {
		dup := false
		for _, existing := range uc.Recommendations {
			if existing == rec {
				dup = true
				break
			}
		}
		if !dup {
			uc.Recommendations = append(uc.Recommendations, rec)
		}
	}
}

// escalateUrgentAlerts hands urgent health alerts to the emergency
// agent, mapped to an emergency type by the metric named in the alert.
func (c *Coordinator) escalateUrgentAlerts(ctx context.Context, user types.UserID, alerts []types.Alert) {
	if c.emergency == nil {
		return
	}
	c.mu.Lock()
	location := c.context(user).Location
	c.mu.Unlock()

	for _, al := range alerts {
		if al.Level != types.LevelUrgent {
			continue
		}
		details := map[string]any{
			"metric": al.Type,
			"source": al.Source,
			"alert":  al.Message,
		}
		c.emergency.HandleEmergency(ctx, user, emergencyTypeForAlert(al.Type), details, location)
	}
}

func emergencyTypeForAlert(alertType string) string {
	switch {
	case strings.Contains(alertType, "fall"):
		return types.EmergencyFall
	case strings.Contains(alertType, "heart"),
		strings.Contains(alertType, "blood"),
		strings.Contains(alertType, "glucose"),
		strings.Contains(alertType, "oxygen"):
		return types.EmergencyHealth
	default:
		return "unknown"
	}
}

// refreshOverall syncs the emergency status and recomputes the overall
// status for the user.
func (c *Coordinator) refreshOverall(user types.UserID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uc := c.context(user)
	uc.EmergencyStatus = emergencyNone
	if c.emergency != nil {
		if em := c.emergency.Active(user); em != nil {
			uc.EmergencyStatus = em.Type
		}
	}
	uc.OverallStatus = overallStatus(uc)
	uc.LastUpdated = c.now()
}

// overallStatus folds the domain statuses into one value. Emergency
// dominates, then alert, then attention. A context where every known
// domain is normal reads normal even when some domains have never
// reported.
func overallStatus(uc *types.UserContext) string {
	if uc.EmergencyStatus != emergencyNone {
		return types.StatusEmergency
	}
	statuses := []string{uc.HealthStatus, uc.SafetyStatus, uc.ReminderStatus, uc.SocialStatus}
	for _, s := range statuses {
		if s == types.StatusAlert {
			return types.StatusAlert
		}
	}
	for _, s := range statuses {
		if s == types.StatusAttention {
			return types.StatusAttention
		}
	}
	allNormal := true
	for _, s := range statuses {
		if s != types.StatusUnknown && s != types.StatusNormal {
			allNormal = false
		}
	}
	if allNormal {
		return types.StatusNormal
	}
	return types.StatusUnknown
}

// Update refreshes stale user contexts by polling every domain agent.
func (c *Coordinator) Update(ctx context.Context) error {
	now := c.now()

	c.mu.Lock()
	var stale []types.UserID
	for user, uc := range c.contexts {
		if now.Sub(uc.LastUpdated) > contextStaleness {
			stale = append(stale, user)
		}
	}
	c.mu.Unlock()

	for _, user := range stale {
		c.refreshContext(ctx, user)
	}
	return nil
}

// refreshContext pulls the latest view from every agent. Per-agent
// failures are logged and skipped so one silent domain does not block
// the rest.
func (c *Coordinator) refreshContext(ctx context.Context, user types.UserID) {
	var (
		health   *agent.HealthStatusReport
		safety   *agent.SafetyStatusReport
		reminder *agent.ReminderStatusReport
		social   *agent.SocialStatusReport
		err      error
	)
	if c.health != nil {
		if health, err = c.health.Status(ctx, user); err != nil {
			slog.Debug("health status unavailable", "user", user, "error", err)
		}
	}
	if c.safety != nil {
		if safety, err = c.safety.Status(ctx, user); err != nil {
			slog.Debug("safety status unavailable", "user", user, "error", err)
		}
	}
	if c.reminder != nil {
		if reminder, err = c.reminder.Status(ctx, user); err != nil {
			slog.Debug("reminder status unavailable", "user", user, "error", err)
		}
	}
	if c.social != nil {
		if social, err = c.social.Status(ctx, user); err != nil {
			slog.Debug("social status unavailable", "user", user, "error", err)
		}
	}

	c.mu.Lock()
	uc := c.context(user)
	if health != nil && health.Analysis != nil {
		uc.HealthStatus = health.Analysis.Status
		appendAlerts(uc, health.Alerts)
	}
	if safety != nil && safety.Analysis != nil {
		uc.SafetyStatus = safety.Analysis.Status
		uc.Location = safety.Analysis.CurrentLocation
		uc.Activity = safety.Analysis.CurrentActivity
		appendAlerts(uc, safety.Alerts)
	}
	if reminder != nil && reminder.Analysis != nil {
		uc.ReminderStatus = reminder.Analysis.Status
		appendRecommendations(uc, reminder.Recommendations)
	}
	if social != nil && social.Analysis != nil {
		uc.SocialStatus = social.Analysis.Status
		appendAlerts(uc, social.Alerts)
	}
	uc.EmergencyStatus = emergencyNone
	if c.emergency != nil {
		if em := c.emergency.Active(user); em != nil {
			uc.EmergencyStatus = em.Type
		}
	}
	uc.OverallStatus = overallStatus(uc)
	uc.LastUpdated = c.now()
	c.mu.Unlock()
}

// ResolveAlert removes one alert from the user's context by id.
// Unknown users and ids are soft errors.
func (c *Coordinator) ResolveAlert(ctx context.Context, user types.UserID, alertID types.AlertID) types.AgentResult {
	c.mu.Lock()
	uc, ok := c.contexts[user]
	if !ok {
		c.mu.Unlock()
		return types.ErrorResult(fmt.Sprintf("user %s not found", user))
	}
	found := false
	for i, al := range uc.Alerts {
		if al.ID == alertID {
			uc.Alerts = append(uc.Alerts[:i], uc.Alerts[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		c.mu.Unlock()
		return types.ErrorResult(fmt.Sprintf("alert %s not found for user %s", alertID, user))
	}
	uc.OverallStatus = overallStatus(uc)
	uc.LastUpdated = c.now()
	c.mu.Unlock()

	if c.store != nil {
		if _, err := c.store.Insert(ctx, store.TableEvents, map[string]any{
			"user_id": string(user),
			"type":    "alert_resolved",
			"message": string(alertID),
		}); err != nil {
			slog.Error("persist alert resolution", "user", user, "error", err)
		}
	}
	slog.Info("alert resolved", "user", user, "alert", alertID)
	return types.AgentResult{
		Status:  types.StatusNormal,
		Message: fmt.Sprintf("Alert %s resolved successfully", alertID),
	}
}

// UserStatus assembles the full per-user view, refreshing a stale
// context first.
func (c *Coordinator) UserStatus(ctx context.Context, user types.UserID) *UserStatusReport {
	now := c.now()

	c.mu.Lock()
	uc := c.context(user)
	stale := now.Sub(uc.LastUpdated) > contextStaleness
	c.mu.Unlock()
	if stale {
		c.refreshContext(ctx, user)
	}

	report := &UserStatusReport{UserID: user, Timestamp: now}
	if c.health != nil {
		report.Health, _ = c.health.Status(ctx, user)
	}
	if c.safety != nil {
		report.Safety, _ = c.safety.Status(ctx, user)
	}
	if c.reminder != nil {
		report.Reminders, _ = c.reminder.Status(ctx, user)
	}
	if c.social != nil {
		report.Social, _ = c.social.Status(ctx, user)
	}
	if c.emergency != nil {
		report.Emergency = c.emergency.Status(ctx, user)
	}

	c.mu.Lock()
	report.Context = *c.context(user)
	report.Context.Alerts = append([]types.Alert(nil), report.Context.Alerts...)
	report.Context.Recommendations = append([]types.Recommendation(nil), report.Context.Recommendations...)
	c.mu.Unlock()

	report.Summary = c.summarize(ctx, report)
	return report
}

// summarize produces the caregiver-facing summary, preferring the
// narrator and falling back to a plain composition of the component
// summaries.
func (c *Coordinator) summarize(ctx context.Context, report *UserStatusReport) string {
	fallback := plainSummary(report)
	if c.narrator == nil {
		return fallback
	}

	section := func(label, summary string) string {
		if summary == "" {
			summary = "No " + strings.ToLower(label) + " data available"
		}
		return fmt.Sprintf("- %s: %s", label, summary)
	}
	var healthSum, safetySum, reminderSum, socialSum string
	if report.Health != nil {
		healthSum = report.Health.Summary
	}
	if report.Safety != nil {
		safetySum = report.Safety.Summary
	}
	if report.Reminders != nil {
		reminderSum = report.Reminders.Summary
	}
	if report.Social != nil {
		socialSum = report.Social.Summary
	}
	activeEmergency := "None"
	if report.Emergency != nil && report.Emergency.Active != nil {
		activeEmergency = fmt.Sprintf("Active %s emergency", report.Emergency.Active.Type)
	}

	prompt := fmt.Sprintf(
		"Provide a concise status summary for elderly user %s.\nCurrent location: %s\nCurrent activity: %s\nOverall status: %s\nActive emergency: %s\nComponent summaries:\n%s\n%s\n%s\n%s",
		report.UserID,
		orUnknown(report.Context.Location),
		orUnknown(report.Context.Activity),
		report.Context.OverallStatus,
		activeEmergency,
		section("Health", healthSum),
		section("Safety", safetySum),
		section("Reminders", reminderSum),
		section("Social", socialSum),
	)
	text, err := c.narrator.Generate(ctx, prompt, 200, 0.7, "status_summary")
	if err != nil {
		slog.Warn("status summary narration failed", "user", report.UserID, "error", err)
		return fallback
	}
	return text
}

func plainSummary(report *UserStatusReport) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Overall status: %s.", report.Context.OverallStatus))
	if report.Emergency != nil && report.Emergency.Active != nil {
		parts = append(parts, fmt.Sprintf("Active %s emergency.", report.Emergency.Active.Type))
	}
	if n := len(report.Context.Alerts); n > 0 {
		parts = append(parts, fmt.Sprintf("%d unresolved alerts.", n))
	}
	return strings.Join(parts, " ")
}

// Users returns the known user ids, sorted.
func (c *Coordinator) Users() []types.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	users := make([]types.UserID, 0, len(c.contexts))
	for user := range c.contexts {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

// Context returns a copy of the user's aggregate context.
func (c *Coordinator) Context(user types.UserID) (types.UserContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	uc, ok := c.contexts[user]
	if !ok {
		return types.UserContext{}, false
	}
	out := *uc
	out.Alerts = append([]types.Alert(nil), uc.Alerts...)
	out.Recommendations = append([]types.Recommendation(nil), uc.Recommendations...)
	return out, true
}

// SystemStatus reports fleet-wide counts and the wiring state.
func (c *Coordinator) SystemStatus() *SystemStatusReport {
	now := c.now()

	c.mu.Lock()
	counts := map[string]int{
		types.StatusNormal:    0,
		types.StatusAttention: 0,
		types.StatusAlert:     0,
		types.StatusEmergency: 0,
		types.StatusUnknown:   0,
	}
	alerts := 0
	emergencies := 0
	for _, uc := range c.contexts {
		counts[uc.OverallStatus]++
		alerts += len(uc.Alerts)
		if uc.EmergencyStatus != emergencyNone {
			emergencies++
		}
	}
	users := len(c.contexts)
	c.mu.Unlock()

	uptime := now.Sub(c.startedAt)
	return &SystemStatusReport{
		Timestamp:         now,
		ActiveUsers:       users,
		ActiveAlerts:      alerts,
		ActiveEmergencies: emergencies,
		UserStatusCounts:  counts,
		AgentsStatus: map[string]bool{
			"health_monitor":     c.health != nil,
			"safety_guardian":    c.safety != nil,
			"daily_assistant":    c.reminder != nil,
			"social_engagement":  c.social != nil,
			"emergency_response": c.emergency != nil,
		},
		StartedAt: c.startedAt,
		Uptime:    formatUptime(uptime),
	}
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

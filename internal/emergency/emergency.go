// internal/emergency/emergency.go

// Package emergency tracks active emergencies per user and drives the
// escalation ladder: app notification, then urgent caregiver
// notification, then simulated emergency services.
package emergency

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/carecompanion/internal/config"
	"github.com/user/carecompanion/internal/store"
	"github.com/user/carecompanion/internal/types"
)

const (
	historyCap      = 20
	notificationCap = 20
)

// Agent owns emergency state. At most one emergency is active per
// user; a new one of a different type supersedes the old.
type Agent struct {
	mu         sync.Mutex
	escalation time.Duration
	maxLevel   int
	interval   time.Duration
	store      types.Store
	narrator   types.Narrator
	notifier   types.Notifier
	target     string
	now        func() time.Time
	users      map[types.UserID]*userState
}

type userState struct {
	active        *types.Emergency
	history       []types.Emergency
	notifications []types.Notification
	contacts      []types.EmergencyContact
}

// StatusReport is the outward emergency view for one user.
type StatusReport struct {
	UserID        types.UserID             `json:"user_id"`
	Active        *types.Emergency         `json:"active_emergency"`
	RecentHistory []types.Emergency        `json:"recent_history"`
	Notifications []types.Notification     `json:"recent_notifications"`
	Contacts      []types.EmergencyContact `json:"emergency_contacts"`
}

func New(cfg *config.Config, st types.Store, narrator types.Narrator, notifier types.Notifier, now func() time.Time) *Agent {
	if now == nil {
		now = time.Now
	}
	escalation := 5 * time.Minute
	maxLevel := 3
	interval := 30 * time.Second
	target := ""
	if cfg != nil && cfg.Telegram.Token != "" {
		target = fmt.Sprintf("telegram:%d", cfg.Telegram.ChatID)
	}
	if cfg != nil {
		if cfg.Emergency.EscalationIntervalMinutes > 0 {
			escalation = time.Duration(cfg.Emergency.EscalationIntervalMinutes) * time.Minute
		}
		if cfg.Emergency.MaxLevel > 0 {
			maxLevel = cfg.Emergency.MaxLevel
		}
		if cfg.Agents.EmergencyInterval > 0 {
			interval = time.Duration(cfg.Agents.EmergencyInterval) * time.Second
		}
	}
	return &Agent{
		escalation: escalation,
		maxLevel:   maxLevel,
		interval:   interval,
		store:      st,
		narrator:   narrator,
		notifier:   notifier,
		target:     target,
		now:        now,
		users:      make(map[types.UserID]*userState),
	}
}

func (a *Agent) Name() string            { return "emergency_response" }
func (a *Agent) Interval() time.Duration { return a.interval }

// locked. Seeds default contacts on first sighting.
func (a *Agent) state(user types.UserID) *userState {
	st, ok := a.users[user]
	if !ok {
		st = &userState{contacts: defaultContacts()}
		a.users[user] = st
	}
	return st
}

func defaultContacts() []types.EmergencyContact {
	return []types.EmergencyContact{
		{Name: "Jane Smith", Relation: "Daughter", Phone: "555-1234", Priority: 1, NotifyFor: []string{"all"}},
		{Name: "Michael Johnson", Relation: "Son", Phone: "555-5678", Priority: 2, NotifyFor: []string{"health", "fall"}},
		{Name: "Dr. Robert Williams", Relation: "Physician", Phone: "555-9101", Priority: 3, NotifyFor: []string{"health"}},
	}
}

// HandleEmergency opens or updates an emergency for the user. A repeat
// of the same type refreshes the details but keeps the escalation
// clock; a different type supersedes the active one. Serious cases
// (high-impact falls, critical health details) jump straight to
// level 2.
func (a *Agent) HandleEmergency(ctx context.Context, user types.UserID, emergencyType string, details map[string]any, location string) types.AgentResult {
	if user == "" {
		return types.ErrorResult("missing user id in emergency data")
	}
	if emergencyType == "" {
		emergencyType = "unknown"
	}
	now := a.now()

	em := &types.Emergency{
		ID:              types.NewEmergencyID(),
		UserID:          user,
		Type:            emergencyType,
		Details:         details,
		Location:        location,
		Level:           1,
		StartedAt:       now,
		LastEscalatedAt: now,
	}

	a.mu.Lock()
	st := a.state(user)
	switch {
	case st.active == nil:
		st.active = em
		slog.Info("emergency created", "user", user, "type", em.Type, "id", em.ID)
	case st.active.Type == em.Type:
		// Same type: fresh details, same escalation clock.
		em.ID = st.active.ID
		em.Level = st.active.Level
		em.StartedAt = st.active.StartedAt
		em.LastEscalatedAt = st.active.LastEscalatedAt
		st.active = em
		slog.Info("emergency updated", "user", user, "type", em.Type, "id", em.ID)
	default:
		old := *st.active
		old.Resolved = true
		old.ResolvedAt = now
		old.Resolution = "Superseded by new emergency"
		st.history = bounded(append(st.history, old), historyCap)
		st.active = em
		slog.Info("emergency superseded", "user", user, "old_type", old.Type, "new_type", em.Type)
	}
	active := *st.active
	a.mu.Unlock()

	a.persistEvent(ctx, user, "emergency_created", fmt.Sprintf("%s emergency at %s", active.Type, orUnknown(active.Location)))

	// Initial response: caregivers first, then an immediate jump for
	// serious cases.
	a.notifyCaregivers(ctx, user, active, false)
	if seriousCase(active) {
		a.escalate(ctx, user, 2)
	}
	a.narrate(ctx, user, active)

	a.mu.Lock()
	msg := fmt.Sprintf("Emergency %s created and initial response taken", st.active.ID)
	a.mu.Unlock()
	return types.AgentResult{
		Status:        types.StatusEmergency,
		Message:       msg,
		Emergency:     true,
		EmergencyType: active.Type,
		Location:      active.Location,
	}
}

// seriousCase reports whether the emergency warrants skipping straight
// to caregiver escalation.
func seriousCase(em types.Emergency) bool {
	switch em.Type {
	case types.EmergencyFall:
		force, _ := em.Details["impact_force_level"].(string)
		return strings.EqualFold(force, "high")
	case types.EmergencyHealth:
		return strings.Contains(strings.ToLower(fmt.Sprint(em.Details)), "critical")
	default:
		return false
	}
}

// Update advances the escalation ladder for emergencies that have gone
// unanswered past the escalation interval.
func (a *Agent) Update(ctx context.Context) error {
	now := a.now()

	a.mu.Lock()
	var due []types.UserID
	for user, st := range a.users {
		if st.active == nil || st.active.Level >= a.maxLevel {
			continue
		}
		if now.Sub(st.active.LastEscalatedAt) >= a.escalation {
			due = append(due, user)
		}
	}
	a.mu.Unlock()

	for _, user := range due {
		a.mu.Lock()
		level := 0
		if st := a.users[user]; st.active != nil {
			level = st.active.Level + 1
		}
		a.mu.Unlock()
		if level > 0 {
			a.escalate(ctx, user, level)
		}
	}
	return nil
}

// escalate moves the user's active emergency to the given level and
// performs that level's action.
func (a *Agent) escalate(ctx context.Context, user types.UserID, level int) {
	if level > a.maxLevel {
		level = a.maxLevel
	}

	a.mu.Lock()
	st := a.state(user)
	if st.active == nil || level <= st.active.Level {
		a.mu.Unlock()
		return
	}
	st.active.Level = level
	st.active.LastEscalatedAt = a.now()
	active := *st.active
	a.mu.Unlock()

	slog.Info("emergency escalated", "user", user, "level", level, "type", active.Type)
	switch level {
	case 2:
		a.notifyCaregivers(ctx, user, active, true)
	case 3:
		a.notifyEmergencyServices(ctx, user, active)
	}
}

// Resolve closes the user's active emergency. When id is non-empty it
// must match the active emergency. Failures are in-band.
func (a *Agent) Resolve(ctx context.Context, user types.UserID, id types.EmergencyID, resolution string) types.AgentResult {
	a.mu.Lock()
	st, ok := a.users[user]
	if !ok || st.active == nil {
		a.mu.Unlock()
		return types.ErrorResult(fmt.Sprintf("no active emergency found for user %s", user))
	}
	if id != "" && st.active.ID != id {
		activeID := st.active.ID
		a.mu.Unlock()
		return types.ErrorResult(fmt.Sprintf("emergency ID %s does not match active emergency %s", id, activeID))
	}

	now := a.now()
	st.active.Resolved = true
	st.active.ResolvedAt = now
	if resolution == "" {
		resolution = "Manually resolved"
	}
	st.active.Resolution = resolution
	resolved := *st.active
	st.history = bounded(append(st.history, resolved), historyCap)
	st.active = nil
	a.mu.Unlock()

	a.persistEvent(ctx, user, "emergency_resolved", fmt.Sprintf("emergency %s: %s", resolved.ID, resolution))
	slog.Info("emergency resolved", "user", user, "id", resolved.ID)

	return types.AgentResult{
		Status:  types.StatusNormal,
		Message: fmt.Sprintf("Emergency %s resolved successfully", resolved.ID),
	}
}

// Active returns a copy of the user's active emergency, if any.
func (a *Agent) Active(user types.UserID) *types.Emergency {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.users[user]
	if !ok || st.active == nil {
		return nil
	}
	em := *st.active
	return &em
}

// Status returns the emergency view for the user: active emergency,
// last five history entries and notifications, and the contact list.
func (a *Agent) Status(_ context.Context, user types.UserID) *StatusReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state(user)
	report := &StatusReport{
		UserID:        user,
		RecentHistory: lastN(st.history, 5),
		Notifications: lastN(st.notifications, 5),
		Contacts:      append([]types.EmergencyContact(nil), st.contacts...),
	}
	if st.active != nil {
		em := *st.active
		report.Active = &em
	}
	return report
}

// UpdateContacts replaces the user's contact list. Entries without a
// name and phone are dropped; missing priority sorts last and missing
// notify_for defaults to all emergency types.
func (a *Agent) UpdateContacts(_ context.Context, user types.UserID, contacts []types.EmergencyContact) ([]types.EmergencyContact, error) {
	if user == "" {
		return nil, fmt.Errorf("missing user id")
	}

	var valid []types.EmergencyContact
	for _, c := range contacts {
		if c.Name == "" || c.Phone == "" {
			continue
		}
		if c.Priority == 0 {
			c.Priority = 999
		}
		if len(c.NotifyFor) == 0 {
			c.NotifyFor = []string{"all"}
		}
		valid = append(valid, c)
	}
	sort.SliceStable(valid, func(i, j int) bool { return valid[i].Priority < valid[j].Priority })

	a.mu.Lock()
	st := a.state(user)
	st.contacts = valid
	a.mu.Unlock()

	slog.Info("emergency contacts updated", "user", user, "contacts", len(valid))
	return valid, nil
}

// notifyCaregivers fans a message out to every contact subscribed to
// this emergency type, highest priority first.
func (a *Agent) notifyCaregivers(ctx context.Context, user types.UserID, em types.Emergency, urgent bool) {
	a.mu.Lock()
	st := a.state(user)
	var recipients []string
	for _, c := range st.contacts {
		if c.WantsType(em.Type) {
			recipients = append(recipients, c.Name)
		}
	}
	a.mu.Unlock()

	msg := caregiverMessage(em, urgent)
	note := types.Notification{
		EmergencyID: em.ID,
		UserID:      user,
		Channel:     "caregiver",
		Recipients:  recipients,
		Message:     msg,
		SentAt:      a.now(),
	}
	a.record(ctx, user, note, "caregiver_notification")
	slog.Info("caregivers notified", "user", user, "recipients", strings.Join(recipients, ", "), "urgent", urgent)
}

// notifyEmergencyServices simulates a handoff to emergency medical
// services.
func (a *Agent) notifyEmergencyServices(ctx context.Context, user types.UserID, em types.Emergency) {
	note := types.Notification{
		EmergencyID: em.ID,
		UserID:      user,
		Channel:     "emergency_services",
		Recipients:  []string{"emergency_medical_services"},
		Message:     serviceMessage(em),
		SentAt:      a.now(),
	}
	a.record(ctx, user, note, "emergency_services_notification")
	slog.Info("emergency services notified", "user", user, "type", em.Type)
}

// record stores the notification, persists it as an event, and pushes
// it out through the notifier. Delivery failures are logged only.
func (a *Agent) record(ctx context.Context, user types.UserID, note types.Notification, eventType string) {
	a.mu.Lock()
	st := a.state(user)
	st.notifications = bounded(append(st.notifications, note), notificationCap)
	a.mu.Unlock()

	a.persistEvent(ctx, user, eventType, note.Message)
	if a.notifier != nil {
		target := a.target
		if target == "" {
			target = string(user)
		}
		if err := a.notifier.Notify(ctx, target, note.Message); err != nil {
			slog.Warn("emergency notification delivery failed", "user", user, "channel", note.Channel, "error", err)
		}
	}
}

func caregiverMessage(em types.Emergency, urgent bool) string {
	prefix := ""
	if urgent {
		prefix = "URGENT: "
	}
	switch em.Type {
	case types.EmergencyFall:
		return fmt.Sprintf("%sFall detected for %s at %s in %s. Please respond immediately.",
			prefix, em.UserID, em.StartedAt.Format("15:04"), orUnknown(em.Location))
	case types.EmergencyHealth:
		return fmt.Sprintf("%sHealth emergency for %s: %s. Please respond immediately.",
			prefix, em.UserID, detailText(em.Details))
	default:
		return fmt.Sprintf("%sEmergency for %s: %s. Please respond immediately.",
			prefix, em.UserID, detailText(em.Details))
	}
}

func serviceMessage(em types.Emergency) string {
	switch em.Type {
	case types.EmergencyFall:
		return fmt.Sprintf("Fall emergency for elderly patient ID %s. Location: %s. No response to caregiver notifications.",
			em.UserID, orUnknown(em.Location))
	case types.EmergencyHealth:
		return fmt.Sprintf("Health emergency for elderly patient ID %s. Issue: %s. No response to caregiver notifications.",
			em.UserID, detailText(em.Details))
	default:
		return fmt.Sprintf("Emergency situation for elderly patient ID %s. Issue: %s. No response to caregiver notifications.",
			em.UserID, detailText(em.Details))
	}
}

func detailText(details map[string]any) string {
	if len(details) == 0 {
		return "No details"
	}
	parts := make([]string, 0, len(details))
	for _, k := range sortedKeys(details) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, details[k]))
	}
	return strings.Join(parts, ", ")
}

func (a *Agent) narrate(ctx context.Context, user types.UserID, em types.Emergency) {
	if a.narrator == nil {
		return
	}
	prompt := fmt.Sprintf(
		"Analyze the emergency for user %s.\nEmergency type: %s\nLocation: %s\nDetails: %s\nProvide a severity assessment and recommended immediate actions.",
		user, em.Type, orUnknown(em.Location), detailText(em.Details),
	)
	text, err := a.narrator.Generate(ctx, prompt, 200, 0.7, "emergency_notification")
	if err != nil {
		slog.Warn("emergency narration failed", "user", user, "error", err)
		return
	}
	a.persistEvent(ctx, user, "emergency_analysis", text)
}

func (a *Agent) persistEvent(ctx context.Context, user types.UserID, eventType, message string) {
	if a.store == nil {
		return
	}
	if _, err := a.store.Insert(ctx, store.TableEvents, map[string]any{
		"user_id": string(user),
		"type":    eventType,
		"message": message,
	}); err != nil {
		slog.Error("persist emergency event", "user", user, "error", err)
	}
}

func bounded[T any](s []T, max int) []T {
	if len(s) <= max {
		return s
	}
	return append([]T(nil), s[len(s)-max:]...)
}

func lastN[T any](s []T, n int) []T {
	if len(s) <= n {
		return append([]T(nil), s...)
	}
	return append([]T(nil), s[len(s)-n:]...)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

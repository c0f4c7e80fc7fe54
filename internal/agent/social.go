// internal/agent/social.go
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

// interactionWeights scores each contact mode by how much social value
// a minute of it carries. Unknown modes count at half weight.
var interactionWeights = map[string]float64{
	"in_person_visit": 1.0,
	"video_call":      0.8,
	"phone_call":      0.6,
	"text_message":    0.3,
	"email":           0.3,
	"group_activity":  0.9,
	"community_event": 0.7,
}

const defaultInteractionWeight = 0.5

// SocialPrefs is a user's interaction preferences.
type SocialPrefs struct {
	PreferredInteractionTypes []string `json:"preferred_interaction_types"`
	PreferredContacts         []string `json:"preferred_contacts"`
	PreferredFrequency        string   `json:"preferred_frequency"`
	ActivityInterests         []string `json:"activity_interests"`
}

// ActivitySuggestion is one proposed social activity.
type ActivitySuggestion struct {
	Type              string `json:"type"`
	Title             string `json:"title"`
	Description       string `json:"description"`
	Priority          string `json:"priority"`
	EstimatedDuration int    `json:"estimated_duration"`
}

// SocialAgent tracks social interactions, detects isolation, and
// suggests activities to keep engagement up.
type SocialAgent struct {
	mu                 sync.Mutex
	isolationThreshold time.Duration
	preferredWeekly    int
	interval           time.Duration
	store              types.Store
	narrator           types.Narrator
	now                Clock
	users              map[types.UserID]*socialState
}

type socialState struct {
	history     []types.SocialInteraction
	alerts      []types.Alert
	prefs       SocialPrefs
	suggestions []ActivitySuggestion
	analysis    *SocialAnalysis
	analyzedAt  time.Time
}

// SocialAnalysis summarizes interaction patterns over the past month.
type SocialAnalysis struct {
	Timestamp      time.Time      `json:"timestamp"`
	WeeklyCount    int            `json:"weekly_interaction_count"`
	MonthlyCount   int            `json:"monthly_interaction_count"`
	WeeklyMinutes  float64        `json:"weekly_interaction_minutes"`
	MonthlyMinutes float64        `json:"monthly_interaction_minutes"`
	TypeCounts     map[string]int `json:"interaction_type_counts"`
	ContactCounts  map[string]int `json:"contact_type_counts"`
	AvgDuration    float64        `json:"average_duration"`
	HoursSinceLast float64        `json:"hours_since_last_interaction"`
	Status         string         `json:"status"`
	Concerns       []string       `json:"concerns"`
}

// SocialStatusReport is the outward status shape for one user.
type SocialStatusReport struct {
	UserID      types.UserID         `json:"user_id"`
	Timestamp   time.Time            `json:"timestamp"`
	Analysis    *SocialAnalysis      `json:"analysis"`
	Suggestions []ActivitySuggestion `json:"suggestions"`
	Alerts      []types.Alert        `json:"alerts"`
	Summary     string               `json:"summary"`
}

func NewSocial(cfg *config.Config, st types.Store, narrator types.Narrator, now Clock) *SocialAgent {
	if now == nil {
		now = time.Now
	}
	isolation := 72 * time.Hour
	preferredWeekly := 5
	interval := time.Hour
	if cfg != nil {
		if cfg.Social.IsolationThresholdHours > 0 {
			isolation = time.Duration(cfg.Social.IsolationThresholdHours * float64(time.Hour))
		}
		if cfg.Social.PreferredWeeklyInteractions > 0 {
			preferredWeekly = cfg.Social.PreferredWeeklyInteractions
		}
		if cfg.Agents.SocialInterval > 0 {
			interval = time.Duration(cfg.Agents.SocialInterval) * time.Second
		}
	}
	return &SocialAgent{
		isolationThreshold: isolation,
		preferredWeekly:    preferredWeekly,
		interval:           interval,
		store:              st,
		narrator:           narrator,
		now:                now,
		users:              make(map[types.UserID]*socialState),
	}
}

func (a *SocialAgent) Name() string            { return "social_engagement" }
func (a *SocialAgent) Interval() time.Duration { return a.interval }

// locked. Creates empty state with default preferences on first
// sighting.
func (a *SocialAgent) state(user types.UserID) *socialState {
	st, ok := a.users[user]
	if !ok {
		st = &socialState{prefs: defaultSocialPrefs()}
		a.users[user] = st
	}
	return st
}

func defaultSocialPrefs() SocialPrefs {
	return SocialPrefs{
		PreferredInteractionTypes: []string{"in_person_visit", "video_call", "phone_call"},
		PreferredContacts:         []string{"family", "friends", "caregivers"},
		PreferredFrequency:        "daily",
		ActivityInterests:         []string{"reading", "music", "television", "conversation"},
	}
}

// ProcessReading records one social interaction and re-evaluates the
// user's engagement.
func (a *SocialAgent) ProcessReading(ctx context.Context, user types.UserID, in types.SocialInteraction) types.AgentResult {
	if user == "" {
		return types.ErrorResult("missing user id in social interaction")
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = a.now()
	}
	if in.InteractionType == "" {
		return types.ErrorResult("social interaction missing interaction_type")
	}

	a.mu.Lock()
	st := a.state(user)
	st.history = append(st.history, in)
	sort.SliceStable(st.history, func(i, j int) bool {
		return st.history[i].Timestamp.Before(st.history[j].Timestamp)
	})
	analysis := a.analyze(st)
	st.analysis = analysis
	st.analyzedAt = a.now()
	alerts := a.isolationAlerts(st, analysis)
	for _, al := range alerts {
		st.alerts = appendBounded(st.alerts, al, socialAlertCap)
	}
	st.suggestions = a.suggest(st, analysis)
	a.mu.Unlock()

	a.persistInteraction(ctx, user, in)
	a.persistAlerts(ctx, user, alerts)
	slog.Info("social interaction recorded", "user", user, "type", in.InteractionType, "duration_minutes", in.DurationMinutes)

	return types.AgentResult{
		Status:  analysis.Status,
		Message: socialSummary(analysis),
		Alerts:  alerts,
	}
}

// Update re-evaluates users whose cached analysis has gone stale.
func (a *SocialAgent) Update(ctx context.Context) error {
	now := a.now()

	a.mu.Lock()
	type pending struct {
		user   types.UserID
		alerts []types.Alert
	}
	var work []pending
	for user, st := range a.users {
		if now.Sub(st.analyzedAt) <= a.interval {
			continue
		}
		analysis := a.analyze(st)
		st.analysis = analysis
		st.analyzedAt = now
		alerts := a.isolationAlerts(st, analysis)
		for _, al := range alerts {
			st.alerts = appendBounded(st.alerts, al, socialAlertCap)
		}
		st.suggestions = a.suggest(st, analysis)
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

// Status returns the current social view for the user. Missing data
// is an error.
func (a *SocialAgent) Status(_ context.Context, user types.UserID) (*SocialStatusReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.users[user]
	if !ok || len(st.history) == 0 {
		return nil, fmt.Errorf("no social data available for user %s", user)
	}
	if st.analysis == nil {
		st.analysis = a.analyze(st)
		st.analyzedAt = a.now()
		st.suggestions = a.suggest(st, st.analysis)
	}
	return &SocialStatusReport{
		UserID:      user,
		Timestamp:   st.analyzedAt,
		Analysis:    st.analysis,
		Suggestions: append([]ActivitySuggestion(nil), st.suggestions...),
		Alerts:      lastN(st.alerts, 5),
		Summary:     socialSummary(st.analysis),
	}, nil
}

// UpdatePreferences replaces non-empty preference fields for the user
// and refreshes suggestions.
func (a *SocialAgent) UpdatePreferences(_ context.Context, user types.UserID, prefs SocialPrefs) error {
	if user == "" {
		return fmt.Errorf("missing user id")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state(user)
	if len(prefs.PreferredInteractionTypes) > 0 {
		st.prefs.PreferredInteractionTypes = prefs.PreferredInteractionTypes
	}
	if len(prefs.PreferredContacts) > 0 {
		st.prefs.PreferredContacts = prefs.PreferredContacts
	}
	if prefs.PreferredFrequency != "" {
		st.prefs.PreferredFrequency = prefs.PreferredFrequency
	}
	if len(prefs.ActivityInterests) > 0 {
		st.prefs.ActivityInterests = prefs.ActivityInterests
	}
	if st.analysis != nil {
		st.suggestions = a.suggest(st, st.analysis)
	}
	slog.Info("social preferences updated", "user", user)
	return nil
}

// analyze computes weekly and monthly interaction stats. Caller holds
// the lock.
func (a *SocialAgent) analyze(st *socialState) *SocialAnalysis {
	now := a.now()
	weekAgo := now.AddDate(0, 0, -7)
	monthAgo := now.AddDate(0, 0, -30)

	an := &SocialAnalysis{
		Timestamp:     now,
		TypeCounts:    make(map[string]int),
		ContactCounts: make(map[string]int),
	}

	var monthlyDuration float64
	for _, in := range st.history {
		if !in.Timestamp.After(monthAgo) {
			continue
		}
		weight, ok := interactionWeights[in.InteractionType]
		if !ok {
			weight = defaultInteractionWeight
		}
		an.MonthlyCount++
		an.MonthlyMinutes += in.DurationMinutes * weight
		monthlyDuration += in.DurationMinutes
		an.TypeCounts[in.InteractionType]++
		an.ContactCounts[orUnknown(in.ContactType)]++
		if in.Timestamp.After(weekAgo) {
			an.WeeklyCount++
			an.WeeklyMinutes += in.DurationMinutes * weight
		}
	}
	if an.MonthlyCount > 0 {
		an.AvgDuration = monthlyDuration / float64(an.MonthlyCount)
	}

	isolated := true
	if len(st.history) > 0 {
		last := st.history[len(st.history)-1].Timestamp
		an.HoursSinceLast = now.Sub(last).Hours()
		isolated = now.Sub(last) > a.isolationThreshold
	}

	switch {
	case isolated:
		an.Status = types.StatusAlert
	case an.WeeklyCount > 0 && an.WeeklyCount < 3:
		an.Status = types.StatusAttention
	default:
		an.Status = types.StatusNormal
	}

	if isolated && len(st.history) > 0 {
		an.Concerns = append(an.Concerns, "Extended period without social interaction")
	}
	if an.WeeklyCount < 3 {
		an.Concerns = append(an.Concerns, "Low weekly interaction count")
	}
	if len(an.TypeCounts) < 2 {
		an.Concerns = append(an.Concerns, "Limited variety of interaction types")
	}
	if an.AvgDuration < 15 {
		an.Concerns = append(an.Concerns, "Short average interaction duration")
	}
	return an
}

// isolationAlerts raises alerts for isolation and low weekly
// frequency. Repeat alerts with identical messages are suppressed.
// Caller holds the lock.
func (a *SocialAgent) isolationAlerts(st *socialState, an *SocialAnalysis) []types.Alert {
	if len(st.history) == 0 {
		return nil
	}
	now := a.now()
	var alerts []types.Alert

	if hours := an.HoursSinceLast; time.Duration(hours*float64(time.Hour)) > a.isolationThreshold {
		level := types.LevelWarning
		if time.Duration(hours*float64(time.Hour)) > 2*a.isolationThreshold {
			level = types.LevelUrgent
		}
		alerts = append(alerts, types.Alert{
			ID:        types.NewAlertID(),
			Type:      "social_isolation",
			Level:     level,
			Message:   fmt.Sprintf("Social isolation detected: %d hours since last social interaction", int(hours)),
			Source:    a.Name(),
			Timestamp: now,
		})
	}

	expected := expectedWeekly(st.prefs.PreferredFrequency, a.preferredWeekly)
	if an.WeeklyCount < expected/2 {
		alerts = append(alerts, types.Alert{
			ID:        types.NewAlertID(),
			Type:      "low_interaction_frequency",
			Level:     types.LevelInfo,
			Message:   fmt.Sprintf("Low social interaction frequency: %d interactions in the past week (expected: %d)", an.WeeklyCount, expected),
			Source:    a.Name(),
			Timestamp: now,
		})
	}

	kept := alerts[:0]
	for _, al := range alerts {
		if !containsAlert(st.alerts, al) {
			kept = append(kept, al)
		}
	}
	return kept
}

func expectedWeekly(frequency string, fallback int) int {
	switch frequency {
	case "daily":
		return 7
	case "every_other_day":
		return 3
	case "weekly":
		return 1
	default:
		return fallback
	}
}

// suggest builds up to five activity suggestions matched to the
// current status and preferences. Caller holds the lock.
func (a *SocialAgent) suggest(st *socialState, an *SocialAnalysis) []ActivitySuggestion {
	prefs := st.prefs
	prefers := func(t string) bool {
		for _, p := range prefs.PreferredInteractionTypes {
			if p == t {
				return true
			}
		}
		return false
	}
	interest := func() string {
		if len(prefs.ActivityInterests) == 0 {
			return "conversation"
		}
		return prefs.ActivityInterests[rand.Intn(len(prefs.ActivityInterests))]
	}

	var suggestions []ActivitySuggestion
	switch an.Status {
	case types.StatusAlert:
		if prefers("phone_call") {
			suggestions = append(suggestions, ActivitySuggestion{
				Type:              "phone_call",
				Title:             "Call a family member",
				Description:       "A quick call to check in with a loved one can help reduce feelings of isolation.",
				Priority:          "high",
				EstimatedDuration: 15,
			})
		}
		if prefers("video_call") {
			suggestions = append(suggestions, ActivitySuggestion{
				Type:              "video_call",
				Title:             "Video call with a friend or family member",
				Description:       "Seeing a familiar face can boost your mood and reduce isolation.",
				Priority:          "high",
				EstimatedDuration: 30,
			})
		}
		suggestions = append(suggestions, ActivitySuggestion{
			Type:              "support_group",
			Title:             "Join an online support group",
			Description:       "Connect with others who share similar experiences.",
			Priority:          "medium",
			EstimatedDuration: 60,
		})
	case types.StatusAttention:
		if prefers("in_person_visit") {
			suggestions = append(suggestions, ActivitySuggestion{
				Type:              "in_person_visit",
				Title:             "Schedule a visit with a friend or family member",
				Description:       "In-person social interaction can significantly improve well-being.",
				Priority:          "medium",
				EstimatedDuration: 60,
			})
		}
		if prefers("group_activity") {
			act := interest()
			suggestions = append(suggestions, ActivitySuggestion{
				Type:              "group_activity",
				Title:             fmt.Sprintf("Join a %s group or class", act),
				Description:       fmt.Sprintf("Engaging in %s with others combines socialization with an activity you enjoy.", act),
				Priority:          "medium",
				EstimatedDuration: 90,
			})
		}
		suggestions = append(suggestions, ActivitySuggestion{
			Type:              "community_event",
			Title:             "Attend a community event",
			Description:       "Local events provide opportunities to meet neighbors and community members.",
			Priority:          "low",
			EstimatedDuration: 120,
		})
	default:
		if prefers("in_person_visit") && an.TypeCounts["in_person_visit"] == 0 {
			suggestions = append(suggestions, ActivitySuggestion{
				Type:              "in_person_visit",
				Title:             "Schedule a visit with a friend or family member",
				Description:       "Regular in-person visits help maintain strong social connections.",
				Priority:          "low",
				EstimatedDuration: 60,
			})
		}
		if len(prefs.ActivityInterests) > 0 {
			act := interest()
			suggestions = append(suggestions, ActivitySuggestion{
				Type:              "shared_activity",
				Title:             fmt.Sprintf("Share %s with a friend", act),
				Description:       fmt.Sprintf("Enjoying %s together can strengthen your relationship.", act),
				Priority:          "low",
				EstimatedDuration: 60,
			})
		}
		if an.TypeCounts["community_event"] == 0 {
			suggestions = append(suggestions, ActivitySuggestion{
				Type:              "community_event",
				Title:             "Explore local community events",
				Description:       "Community events provide opportunities to meet new people and stay connected.",
				Priority:          "low",
				EstimatedDuration: 120,
			})
		}
	}

	// Nudge toward variety when interaction modes are narrow.
	if len(an.TypeCounts) < 2 {
		for _, t := range sortedKeys(interactionWeights) {
			if an.TypeCounts[t] > 0 {
				continue
			}
			suggestions = append(suggestions, ActivitySuggestion{
				Type:              t,
				Title:             fmt.Sprintf("Try a new way to connect: %s", strings.ReplaceAll(t, "_", " ")),
				Description:       "Varying the ways you connect with others can enrich your social life.",
				Priority:          "medium",
				EstimatedDuration: 30,
			})
			break
		}
	}
	if len(an.ContactCounts) < 2 {
		for _, c := range []string{"family", "friend", "neighbor", "community member"} {
			if an.ContactCounts[c] > 0 {
				continue
			}
			suggestions = append(suggestions, ActivitySuggestion{
				Type:              "expand_network",
				Title:             fmt.Sprintf("Connect with a %s", c),
				Description:       fmt.Sprintf("Expanding your social circle to include %ss can provide new perspectives and support.", c),
				Priority:          "low",
				EstimatedDuration: 30,
			})
			break
		}
	}

	if len(suggestions) > 5 {
		suggestions = suggestions[:5]
	}
	return suggestions
}

func (a *SocialAgent) persistInteraction(ctx context.Context, user types.UserID, in types.SocialInteraction) {
	if a.store == nil {
		return
	}
	_, err := a.store.Insert(ctx, store.TableEvents, map[string]any{
		"user_id":          string(user),
		"type":             "social_interaction",
		"interaction_type": in.InteractionType,
		"duration_minutes": in.DurationMinutes,
		"contact_type":     in.ContactType,
		"timestamp":        in.Timestamp.Format(time.RFC3339),
	})
	if err != nil {
		slog.Error("persist social interaction", "user", user, "error", err)
	}
}

func (a *SocialAgent) persistAlerts(ctx context.Context, user types.UserID, alerts []types.Alert) {
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
			slog.Error("persist social alert", "user", user, "error", err)
		}
	}
}

func socialSummary(an *SocialAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Weekly interactions: %d. ", an.WeeklyCount)
	if an.HoursSinceLast > 0 {
		fmt.Fprintf(&b, "Last interaction: %d hours ago. ", int(an.HoursSinceLast))
	}
	switch an.Status {
	case types.StatusNormal:
		b.WriteString("Social engagement level is healthy.")
	case types.StatusAttention:
		b.WriteString("Social engagement could be improved.")
	default:
		b.WriteString("Social engagement needs immediate attention: " + strings.Join(an.Concerns, "; "))
	}
	return b.String()
}

// internal/types/models.go
package types

import (
	"time"
)

// Domain and overall statuses, ordered from best to worst.
const (
	StatusNormal    = "normal"
	StatusAttention = "attention"
	StatusAlert     = "alert"
	StatusEmergency = "emergency"
	StatusUnknown   = "unknown"
	StatusError     = "error"
)

// Alert severity levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelUrgent  = "urgent"
)

// Emergency types.
const (
	EmergencyFall   = "fall"
	EmergencyHealth = "health"
	EmergencySafety = "safety"
)

type Alert struct {
	ID        AlertID   `json:"id"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// SameContent reports whether two alerts carry the same payload,
// ignoring the generated ID. Used for context deduplication.
func (a Alert) SameContent(b Alert) bool {
	return a.Type == b.Type &&
		a.Level == b.Level &&
		a.Message == b.Message &&
		a.Source == b.Source &&
		a.Timestamp.Equal(b.Timestamp)
}

type Recommendation struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Priority string `json:"priority"`
	Source   string `json:"source"`
}

type Reminder struct {
	ID           ReminderID `json:"id"`
	UserID       UserID     `json:"user_id"`
	Type         string     `json:"type"`
	Content      string     `json:"content"`
	ScheduledAt  time.Time  `json:"scheduled_at"`
	CreatedAt    time.Time  `json:"created_at"`
	Sent         bool       `json:"sent"`
	SentAt       time.Time  `json:"sent_at,omitzero"`
	Acknowledged bool       `json:"acknowledged"`
	AckedAt      time.Time  `json:"acked_at,omitzero"`
}

type EmergencyContact struct {
	Name      string   `json:"name"`
	Relation  string   `json:"relation"`
	Phone     string   `json:"phone"`
	Priority  int      `json:"priority"`
	NotifyFor []string `json:"notify_for"`
}

// WantsType reports whether the contact should be notified for the
// given emergency type.
func (c EmergencyContact) WantsType(emergencyType string) bool {
	for _, t := range c.NotifyFor {
		if t == "all" || t == emergencyType {
			return true
		}
	}
	return false
}

type Emergency struct {
	ID              EmergencyID    `json:"id"`
	UserID          UserID         `json:"user_id"`
	Type            string         `json:"type"`
	Details         map[string]any `json:"details,omitempty"`
	Location        string         `json:"location,omitempty"`
	Level           int            `json:"level"`
	StartedAt       time.Time      `json:"started_at"`
	LastEscalatedAt time.Time      `json:"last_escalated_at"`
	Resolved        bool           `json:"resolved"`
	ResolvedAt      time.Time      `json:"resolved_at,omitzero"`
	Resolution      string         `json:"resolution,omitempty"`
}

type Notification struct {
	EmergencyID EmergencyID `json:"emergency_id"`
	UserID      UserID      `json:"user_id"`
	Channel     string      `json:"channel"`
	Recipients  []string    `json:"recipients,omitempty"`
	Message     string      `json:"message"`
	SentAt      time.Time   `json:"sent_at"`
}

// UserContext is the coordinator's per-user aggregate view. One is
// created lazily on first sighting and never destroyed.
type UserContext struct {
	UserID          UserID           `json:"user_id"`
	Name            string           `json:"name,omitempty"`
	LastUpdated     time.Time        `json:"last_updated"`
	HealthStatus    string           `json:"health_status"`
	SafetyStatus    string           `json:"safety_status"`
	ReminderStatus  string           `json:"reminder_status"`
	SocialStatus    string           `json:"social_status"`
	EmergencyStatus string           `json:"emergency_status"`
	Location        string           `json:"location,omitempty"`
	Activity        string           `json:"activity,omitempty"`
	Alerts          []Alert          `json:"alerts"`
	Recommendations []Recommendation `json:"recommendations"`
	OverallStatus   string           `json:"overall_status"`
}

// AgentResult is what a domain agent hands back to the coordinator
// after processing one reading. Errors are in-band: Status "error"
// with a Message, never a Go error across the boundary.
type AgentResult struct {
	Status          string           `json:"status"`
	Message         string           `json:"message,omitempty"`
	Alerts          []Alert          `json:"alerts,omitempty"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`
	Emergency       bool             `json:"emergency,omitempty"`
	EmergencyType   string           `json:"emergency_type,omitempty"`
	Location        string           `json:"location,omitempty"`
	Activity        string           `json:"activity,omitempty"`
}

func ErrorResult(msg string) AgentResult {
	return AgentResult{Status: StatusError, Message: msg}
}

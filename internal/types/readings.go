// internal/types/readings.go
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Envelope is the inbound message shape: a reading type tag, the user
// it belongs to, and the type-specific payload.
type Envelope struct {
	Type   string          `json:"type"`
	UserID UserID          `json:"user_id"`
	Data   json.RawMessage `json:"data"`
}

// Reading is the closed set of inbound reading variants. Dispatch on
// the concrete type is exhaustive; unknown type tags are rejected at
// the parsing boundary and never reach an agent.
type Reading interface {
	Kind() string
	reading()
}

type HealthReading struct {
	Timestamp time.Time `json:"timestamp,omitzero"`
	HeartRate float64   `json:"heart_rate,omitempty"`
	Systolic  float64   `json:"blood_pressure_systolic,omitempty"`
	Diastolic float64   `json:"blood_pressure_diastolic,omitempty"`
	Glucose   float64   `json:"glucose_level,omitempty"`
	Oxygen    float64   `json:"oxygen_saturation,omitempty"`
	Details   string    `json:"details,omitempty"`
}

func (HealthReading) Kind() string { return "health" }
func (HealthReading) reading()     {}

// YesNoBool decodes sensor fields that arrive either as JSON booleans
// or as the strings "Yes"/"No". Anything other than "Yes" reads false.
type YesNoBool bool

func (b *YesNoBool) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case bool:
		*b = YesNoBool(t)
	case string:
		*b = YesNoBool(strings.EqualFold(strings.TrimSpace(t), "yes"))
	case nil:
		*b = false
	default:
		return fmt.Errorf("invalid boolean value %s", data)
	}
	return nil
}

type SafetyReading struct {
	Timestamp          time.Time `json:"timestamp,omitzero"`
	Location           string    `json:"location,omitempty"`
	Activity           string    `json:"activity,omitempty"`
	FallDetected       YesNoBool `json:"fall_detected,omitempty"`
	ImpactForce        string    `json:"impact_force,omitempty"`
	PostFallInactivity int       `json:"post_fall_inactivity,omitempty"`
}

func (SafetyReading) Kind() string { return "safety" }
func (SafetyReading) reading()     {}

// ReminderEvent carries either an acknowledgment of an existing
// reminder or a request to schedule a new one, selected by Action.
type ReminderEvent struct {
	Action       string     `json:"action"`
	ReminderID   ReminderID `json:"reminder_id,omitempty"`
	ReminderType string     `json:"reminder_type,omitempty"`
	Content      string     `json:"content,omitempty"`
	ScheduledAt  time.Time  `json:"scheduled_at,omitzero"`
}

const (
	ReminderActionAck = "acknowledge"
	ReminderActionAdd = "add"
)

func (ReminderEvent) Kind() string { return "reminder" }
func (ReminderEvent) reading()     {}

type SocialInteraction struct {
	Timestamp       time.Time `json:"timestamp,omitzero"`
	InteractionType string    `json:"interaction_type"`
	DurationMinutes float64   `json:"duration_minutes,omitempty"`
	ContactType     string    `json:"contact_type,omitempty"`
	InitiatedByUser bool      `json:"initiated_by_user,omitempty"`
	Notes           string    `json:"notes,omitempty"`
}

func (SocialInteraction) Kind() string { return "social" }
func (SocialInteraction) reading()     {}

// ParseEnvelope decodes the payload into exactly one reading variant.
// Missing timestamps default to now.
func ParseEnvelope(env Envelope, now time.Time) (Reading, error) {
	if env.UserID == "" {
		return nil, fmt.Errorf("envelope missing user_id")
	}
	data := env.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	switch env.Type {
	case "health":
		var r HealthReading
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode health reading: %w", err)
		}
		if r.Timestamp.IsZero() {
			r.Timestamp = now
		}
		return r, nil
	case "safety":
		var r SafetyReading
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode safety reading: %w", err)
		}
		if r.Timestamp.IsZero() {
			r.Timestamp = now
		}
		return r, nil
	case "reminder":
		var r ReminderEvent
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode reminder event: %w", err)
		}
		if r.Action == "" {
			r.Action = ReminderActionAck
		}
		return r, nil
	case "social":
		var r SocialInteraction
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("decode social interaction: %w", err)
		}
		if r.Timestamp.IsZero() {
			r.Timestamp = now
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown reading type %q", env.Type)
	}
}

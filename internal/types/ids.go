// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type UserID string
type AlertID string
type ReminderID string
type EmergencyID string
type RecordID string

func NewAlertID() AlertID {
	return AlertID(uuid.New().String())
}

func NewReminderID() ReminderID {
	return ReminderID(uuid.New().String())
}

func NewEmergencyID() EmergencyID {
	return EmergencyID(uuid.New().String())
}

func NewRecordID() RecordID {
	return RecordID(uuid.New().String())
}

// internal/types/interfaces.go
package types

import (
	"context"
)

// Store is the audit-trail record store. Inserts are immediately
// visible to subsequent queries; there are no transactions.
type Store interface {
	Insert(ctx context.Context, table string, record map[string]any) (RecordID, error)
	Query(ctx context.Context, table string, q Query) ([]map[string]any, error)
	GetByID(ctx context.Context, table string, id RecordID) (map[string]any, error)
	Update(ctx context.Context, table string, id RecordID, updates map[string]any) error
	Delete(ctx context.Context, table string, id RecordID) error
}

// Query narrows a table scan. A nil Where matches everything.
type Query struct {
	Where   map[string]any
	OrderBy string
	Desc    bool
	Limit   int
}

// Analyzer exposes read-only historical summaries computed from the
// monitoring datasets.
type Analyzer interface {
	UserIDs(ctx context.Context) ([]UserID, error)
	HealthSummary(ctx context.Context, user UserID) (*HealthSummary, error)
	SafetySummary(ctx context.Context, user UserID) (*SafetySummary, error)
	ReminderSummary(ctx context.Context, user UserID) (*ReminderSummary, error)
}

type HealthSummary struct {
	UserID            UserID
	Records           int
	AvgHeartRate      float64
	AvgSystolic       float64
	AvgDiastolic      float64
	AvgGlucose        float64
	AvgOxygen         float64
	ThresholdBreaches int
}

type SafetySummary struct {
	UserID         UserID
	Records        int
	Falls          int
	LocationCounts map[string]int
	ActivityCounts map[string]int
}

type ReminderSummary struct {
	UserID       UserID
	Records      int
	Sent         int
	Acknowledged int
	ByType       map[string]int
}

// Narrator turns structured state into a short human summary. Output
// is attached to responses, never branched on.
type Narrator interface {
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float64, kind string) (string, error)
}

// Notifier delivers a message to a target address. Targets are
// prefix-routed (e.g. "telegram:12345", "log:caregivers").
type Notifier interface {
	Notify(ctx context.Context, target string, message string) error
}

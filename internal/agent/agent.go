// internal/agent/agent.go
package agent

import (
	"context"
	"time"
)

// History caps. Oldest entries are evicted first.
const (
	readingHistoryCap = 100
	alertHistoryCap   = 20
	socialAlertCap    = 10
)

// Agent is the common surface the scheduler drives. Update performs
// one periodic pass over all known users.
type Agent interface {
	Name() string
	Interval() time.Duration
	Update(ctx context.Context) error
}

// Clock supplies the current time. Injected so escalation and
// staleness behavior is testable.
type Clock func() time.Time

// Range is an inclusive value band.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// MetricStats summarizes one metric over a reading history.
type MetricStats struct {
	Current float64 `json:"current"`
	Mean    float64 `json:"mean"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Count   int     `json:"count"`
}

// statusForConcerns maps a concern count to a domain status: none is
// normal, one needs attention, more is an alert.
func statusForConcerns(n int) string {
	switch n {
	case 0:
		return "normal"
	case 1:
		return "attention"
	default:
		return "alert"
	}
}

// appendBounded appends v and evicts from the front past the cap.
func appendBounded[T any](s []T, v T, max int) []T {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}

// lastN returns the trailing n elements as a copy.
func lastN[T any](s []T, n int) []T {
	if len(s) > n {
		s = s[len(s)-n:]
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

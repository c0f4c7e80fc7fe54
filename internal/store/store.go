// internal/store/store.go
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/user/carecompanion/internal/types"
)

// Known tables. Unknown table names are created on first insert so
// callers can record ad-hoc audit rows.
const (
	TableUsers     = "users"
	TableHealth    = "health_data"
	TableSafety    = "safety_data"
	TableReminders = "reminders"
	TableAlerts    = "alerts"
	TableEvents    = "events"
)

// MemStore is a mutex-guarded in-memory record store. Every insert is
// immediately visible to subsequent queries; there are no transactions
// and no rollback. State survives restarts only via snapshots.
type MemStore struct {
	mu     sync.Mutex
	tables map[string][]map[string]any
	now    func() time.Time
}

func New() *MemStore {
	return &MemStore{
		tables: make(map[string][]map[string]any),
		now:    time.Now,
	}
}

// Insert adds a record to the table, assigning an id and created_at
// when absent, and returns the record id.
func (s *MemStore) Insert(_ context.Context, table string, record map[string]any) (types.RecordID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := make(map[string]any, len(record)+2)
	for k, v := range record {
		row[k] = v
	}
	id, ok := row["id"].(string)
	if !ok || id == "" {
		id = string(types.NewRecordID())
		row["id"] = id
	}
	if _, ok := row["created_at"]; !ok {
		row["created_at"] = s.now().UTC().Format(time.RFC3339Nano)
	}

	s.tables[table] = append(s.tables[table], row)
	return types.RecordID(id), nil
}

// Query returns records matching all Where conditions, ordered and
// limited per the query. Results are copies; mutating them does not
// affect the store.
func (s *MemStore) Query(_ context.Context, table string, q types.Query) ([]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []map[string]any
	for _, row := range s.tables[table] {
		if matches(row, q.Where) {
			out = append(out, copyRow(row))
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			less := compareValues(out[i][q.OrderBy], out[j][q.OrderBy]) < 0
			if q.Desc {
				return !less
			}
			return less
		})
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// GetByID returns the record with the given id, or an error if absent.
func (s *MemStore) GetByID(_ context.Context, table string, id types.RecordID) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.tables[table] {
		if row["id"] == string(id) {
			return copyRow(row), nil
		}
	}
	return nil, fmt.Errorf("record %s not found in %s", id, table)
}

// Update applies the given field updates to the record with the id.
func (s *MemStore) Update(_ context.Context, table string, id types.RecordID, updates map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.tables[table] {
		if row["id"] == string(id) {
			for k, v := range updates {
				row[k] = v
			}
			return nil
		}
	}
	return fmt.Errorf("record %s not found in %s", id, table)
}

// Delete removes the record with the id.
func (s *MemStore) Delete(_ context.Context, table string, id types.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.tables[table]
	for i, row := range rows {
		if row["id"] == string(id) {
			s.tables[table] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("record %s not found in %s", id, table)
}

// Count returns the number of records in the table.
func (s *MemStore) Count(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[table])
}

func matches(row map[string]any, where map[string]any) bool {
	for k, want := range where {
		got, ok := row[k]
		if !ok {
			return false
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func copyRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// compareValues orders two record field values. Numbers compare
// numerically, everything else by string form. Missing values sort
// first.
func compareValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	default:
		return 0
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

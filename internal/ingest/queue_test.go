// internal/ingest/queue_test.go
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/carecompanion/internal/types"
)

func TestQueueConcurrency(t *testing.T) {
	queue := NewQueue(2)
	queue.Start(context.Background())
	defer queue.Stop()

	var running int32
	var maxSeen int32

	queue.SetProcessor(func(_ context.Context, env types.Envelope) types.AgentResult {
		current := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&maxSeen)
			if current <= old || atomic.CompareAndSwapInt32(&maxSeen, old, current) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return types.AgentResult{Status: types.StatusNormal}
	})

	for i := 0; i < 5; i++ {
		env := types.Envelope{Type: "health", UserID: types.UserID(fmt.Sprintf("user-%d", i))}
		if err := queue.Enqueue(env); err != nil {
			t.Fatal(err)
		}
	}

	if !queue.WaitIdle(2 * time.Second) {
		t.Fatal("queue did not drain")
	}
	if m := atomic.LoadInt32(&maxSeen); m > 2 {
		t.Errorf("expected max 2 concurrent, saw %d", m)
	}
}

func TestQueueProcessorCalled(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	var processed int32
	queue.SetProcessor(func(_ context.Context, env types.Envelope) types.AgentResult {
		atomic.AddInt32(&processed, 1)
		return types.AgentResult{Status: types.StatusNormal}
	})

	if err := queue.Enqueue(types.Envelope{Type: "health", UserID: "u1"}); err != nil {
		t.Fatal(err)
	}
	if !queue.WaitIdle(time.Second) {
		t.Fatal("queue did not drain")
	}
	if atomic.LoadInt32(&processed) != 1 {
		t.Errorf("expected 1 processed envelope, got %d", processed)
	}
}

func TestQueueSameUserOrdering(t *testing.T) {
	queue := NewQueue(4)
	queue.Start(context.Background())
	defer queue.Stop()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	queue.SetProcessor(func(_ context.Context, env types.Envelope) types.AgentResult {
		var seq struct {
			Seq int `json:"seq"`
		}
		_ = json.Unmarshal(env.Data, &seq)
		mu.Lock()
		order = append(order, seq.Seq)
		n := len(order)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
		return types.AgentResult{Status: types.StatusNormal}
	})

	for i := 0; i < 3; i++ {
		env := types.Envelope{
			Type:   "health",
			UserID: "same-user",
			Data:   json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)),
		}
		if err := queue.Enqueue(env); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelopes to process")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, seq := range order {
		if seq != i {
			t.Fatalf("out of order processing: %v", order)
		}
	}
}

func TestQueueRejectsMissingUser(t *testing.T) {
	queue := NewQueue(1)
	queue.Start(context.Background())
	defer queue.Stop()

	if err := queue.Enqueue(types.Envelope{Type: "health"}); err == nil {
		t.Fatal("expected error for envelope without user")
	}
}

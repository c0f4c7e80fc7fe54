// internal/ingest/queue.go

// Package ingest feeds inbound envelopes to the coordinator through
// per-user FIFO lanes with a global concurrency cap.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/carecompanion/internal/types"
)

const laneBuffer = 100

// Processor consumes one envelope. Failures are in-band on the result.
type Processor func(ctx context.Context, env types.Envelope) types.AgentResult

// Queue manages per-user lanes with a global concurrency semaphore.
// Each user gets its own FIFO channel so readings for one user apply
// in arrival order, while the semaphore limits the total number of
// envelopes in flight across all users.
type Queue struct {
	lanes     map[types.UserID]chan types.Envelope
	semaphore *semaphore.Weighted
	processor Processor
	active    atomic.Int64 // queued plus in-flight envelopes

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
}

// NewQueue creates a Queue that allows up to maxConcurrent envelopes
// to be processed simultaneously across all user lanes.
func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	return &Queue{
		lanes:     make(map[types.UserID]chan types.Envelope),
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// SetProcessor sets the function invoked for each dequeued envelope.
func (q *Queue) SetProcessor(fn Processor) {
	q.processor = fn
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for
// in-flight processors to finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	for _, lane := range q.lanes {
		close(lane)
	}
	q.lanes = make(map[types.UserID]chan types.Envelope)
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds an envelope to the user's lane, creating the lane (and
// its goroutine) on first use. Returns an error if the lane's buffer
// is full or the envelope has no user.
func (q *Queue) Enqueue(env types.Envelope) error {
	if env.UserID == "" {
		return fmt.Errorf("envelope missing user_id")
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	lane, exists := q.lanes[env.UserID]
	if !exists {
		lane = make(chan types.Envelope, laneBuffer)
		q.lanes[env.UserID] = lane
		q.wg.Add(1)
		go q.processLane(env.UserID, lane)
	}

	select {
	case lane <- env:
		q.active.Add(1)
		return nil
	default:
		return fmt.Errorf("queue full for user %s", env.UserID)
	}
}

// processLane drains a single user lane, acquiring a semaphore slot
// before invoking the processor synchronously. This keeps strict FIFO
// ordering per user while the semaphore limits cross-user parallelism.
func (q *Queue) processLane(user types.UserID, lane chan types.Envelope) {
	defer q.wg.Done()
	for {
		select {
		case env, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				q.active.Add(-1)
				return
			}
			if q.processor != nil {
				res := q.processor(q.ctx, env)
				if res.Status == types.StatusError {
					slog.Warn("envelope rejected", "user", string(user), "type", env.Type, "reason", res.Message)
				}
			}
			q.semaphore.Release(1)
			q.active.Add(-1)
		case <-q.ctx.Done():
			return
		}
	}
}

// WaitIdle blocks until no envelopes are queued or in flight, or the
// timeout expires. Returns true if idle, false if timed out.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.active.Load() == 0 {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

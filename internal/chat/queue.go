package chat

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/easeaico/persona-core/internal/memory"
	"github.com/easeaico/persona-core/internal/types"
)

const (
	memoryQueueDepth = 64
	memoryJobTimeout = 2 * time.Minute
)

type memoryJob struct {
	conversationID string
	manager        *memory.Manager
	userText       string
	reply          string
	emotional      *types.EmotionalContext
}

// memoryQueue records exchanges after the reply is out. Jobs for one conversation always land
// on the same worker so they are applied in order.
type memoryQueue struct {
	shards []chan memoryJob
	group  errgroup.Group

	mu     sync.RWMutex
	closed bool
}

func newMemoryQueue(workers int) *memoryQueue {
	if workers <= 0 {
		workers = 1
	}
	q := &memoryQueue{shards: make([]chan memoryJob, workers)}
	for i := range q.shards {
		ch := make(chan memoryJob, memoryQueueDepth)
		q.shards[i] = ch
		q.group.Go(func() error {
			for job := range ch {
				q.process(job)
			}
			return nil
		})
	}
	return q
}

func (q *memoryQueue) process(job memoryJob) {
	ctx, cancel := context.WithTimeout(context.Background(), memoryJobTimeout)
	defer cancel()

	scope := job.manager.Scope()
	records, err := job.manager.RecordExchange(ctx, job.userText, job.reply, job.emotional)
	if err != nil {
		slog.Error("failed to record exchange",
			"conversation_id", job.conversationID,
			"user_id", scope.UserID,
			"persona_id", scope.PersonaID,
			"error", err.Error())
	}
	if len(records) > 0 {
		slog.Debug("memories recorded", "conversation_id", job.conversationID, "count", len(records))
	}
}

// enqueue reports false once the queue is closed.
func (q *memoryQueue) enqueue(job memoryJob) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	q.shards[shardFor(job.conversationID, len(q.shards))] <- job
	return true
}

// close stops accepting jobs and waits for queued ones to finish.
func (q *memoryQueue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		for _, ch := range q.shards {
			close(ch)
		}
	}
	q.mu.Unlock()
	_ = q.group.Wait()
}

func shardFor(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

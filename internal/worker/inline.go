package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/uuid"
)

// Enqueuer accepts jobs for later processing.
type Enqueuer interface {
	Enqueue(ctx context.Context, queue string, jobType JobType, payload interface{}) error
}

// Inline runs each job in the caller's goroutine as soon as it is
// enqueued. It replaces the Redis queue when Redis is disabled; there are
// no retries.
type Inline struct {
	mu       sync.RWMutex
	handlers map[JobType]JobHandler
}

func NewInline() *Inline {
	return &Inline{handlers: make(map[JobType]JobHandler)}
}

func (i *Inline) RegisterHandler(jobType JobType, handler JobHandler) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.handlers[jobType] = handler
}

func (i *Inline) Enqueue(ctx context.Context, queue string, jobType JobType, payload interface{}) error {
	i.mu.RLock()
	handler, ok := i.handlers[jobType]
	i.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no handler registered for job type: %s", jobType)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("generate job id: %w", err)
	}
	now := time.Now()
	return handler(ctx, &Job{
		ID:        id.String(),
		Type:      jobType,
		Queue:     queue,
		Payload:   raw,
		Attempts:  0,
		MaxTries:  1,
		CreatedAt: now,
		ProcessAt: now,
	})
}

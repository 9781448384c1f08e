package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/babymaxMAX/autosub/internal/models"
)

// Ref is the lightweight queue entry pointing at a durable task row.
type Ref struct {
	TaskID     string `json:"id"`
	Priority   int    `json:"priority"`
	EnqueuedAt int64  `json:"enqueuedAt"` // unix milliseconds
}

// NewRef builds a queue reference for the given task.
func NewRef(task models.Task, now time.Time) Ref {
	return Ref{
		TaskID:     task.ID,
		Priority:   task.Priority,
		EnqueuedAt: now.UnixMilli(),
	}
}

// ErrQueueUnavailable indicates the queue backend could not be reached.
var ErrQueueUnavailable = errors.New("task queue unavailable")

// TaskQueue distributes task references to workers in non-decreasing
// (priority, enqueue time) order with at-least-once delivery. A claimed
// reference is invisible to other consumers until it is acked or its lease
// expires.
type TaskQueue interface {
	Enqueue(ctx context.Context, ref Ref) error
	Claim(ctx context.Context, leaseTTL time.Duration) (Ref, bool, error)
	Ack(ctx context.Context, ref Ref) error
	Nack(ctx context.Context, ref Ref) error
	RequeueExpired(ctx context.Context, now time.Time) (int, error)
	Len(ctx context.Context) (int64, error)
}

// priorityBand separates priority classes in the sorted-set score. Enqueue
// timestamps in unix milliseconds stay below 2^42 until the year 2109, so
// score ordering is strictly priority first, then submission time, and the
// combined value stays exactly representable in a float64.
const priorityBand = int64(1) << 42

func scoreFor(ref Ref) float64 {
	return float64(int64(ref.Priority)*priorityBand + ref.EnqueuedAt)
}

func encodeRef(ref Ref) (string, error) {
	raw, err := json.Marshal(ref)
	if err != nil {
		return "", fmt.Errorf("encode queue ref: %w", err)
	}
	return string(raw), nil
}

func decodeRef(member string) (Ref, error) {
	var ref Ref
	if err := json.Unmarshal([]byte(member), &ref); err != nil {
		return Ref{}, fmt.Errorf("decode queue ref: %w", err)
	}
	return ref, nil
}

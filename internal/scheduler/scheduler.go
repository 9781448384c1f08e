package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/babymaxMAX/autosub/internal/models"
	"github.com/babymaxMAX/autosub/internal/queue"
	"github.com/babymaxMAX/autosub/internal/repositories"
	"github.com/babymaxMAX/autosub/internal/tier"
)

// ErrQueuePublishFailed is recorded on tasks whose queue publish retries were
// exhausted after the row was durably written.
var ErrQueuePublishFailed = errors.New("QueuePublishFailed")

// TaskStore captures the persistence operations the scheduler needs.
type TaskStore interface {
	Create(ctx context.Context, task models.Task) error
	Get(ctx context.Context, id string) (models.Task, error)
	MarkPending(ctx context.Context, id string) error
	Fail(ctx context.Context, id, errorMessage string, processingTime float64) error
	RequestCancel(ctx context.Context, id string) error
	ListByUser(ctx context.Context, userID string, limit int) ([]models.Task, error)
}

// Admitter applies tier and rate-limit policy before a task may exist.
type Admitter interface {
	Admit(ctx context.Context, user models.User, requestedDuration float64, opts models.ProcessingOptions) error
}

// Publisher pushes task references onto the priority queue.
type Publisher interface {
	Enqueue(ctx context.Context, ref queue.Ref) error
}

// Scheduler admits validated requests into the task store and priority queue.
// It is the single source of truth for "a task now exists".
type Scheduler struct {
	tasks    TaskStore
	admitter Admitter
	publish  Publisher
	logger   *slog.Logger

	publishRetries int
	publishBackoff time.Duration
	now            func() time.Time
}

// Config tunes the scheduler's publish retry behaviour.
type Config struct {
	PublishRetries int
	PublishBackoff time.Duration
}

// New constructs a Scheduler.
func New(tasks TaskStore, admitter Admitter, publish Publisher, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.PublishRetries <= 0 {
		cfg.PublishRetries = 3
	}
	if cfg.PublishBackoff <= 0 {
		cfg.PublishBackoff = 200 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		tasks:          tasks,
		admitter:       admitter,
		publish:        publish,
		logger:         logger,
		publishRetries: cfg.PublishRetries,
		publishBackoff: cfg.PublishBackoff,
		now:            time.Now,
	}
}

// Submit validates and admits a request, persists the task, and publishes its
// reference. The returned identifier is usable for Query and Cancel
// immediately. Watermarking is forced on for tiers the policy requires it
// for, regardless of what the caller asked.
func (s *Scheduler) Submit(ctx context.Context, user models.User, input models.InputDescriptor, opts models.ProcessingOptions, duration float64) (string, error) {
	if err := s.admitter.Admit(ctx, user, duration, opts); err != nil {
		return "", err
	}

	limits := tier.For(user.Tier)
	if limits.Watermark {
		opts.Watermark = true
	}

	now := s.now().UTC()
	task := models.Task{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Status:    models.StatusCreated,
		Priority:  limits.PriorityClass,
		Input:     input,
		Options:   opts,
		Duration:  duration,
		CreatedAt: now,
	}

	if err := s.tasks.Create(ctx, task); err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}

	if err := s.tasks.MarkPending(ctx, task.ID); err != nil {
		return "", fmt.Errorf("mark task pending: %w", err)
	}

	if err := s.publishWithRetry(ctx, queue.NewRef(task, now)); err != nil {
		// The row is durable; record the failure rather than stranding a
		// pending task with no queue entry. The write must outlive the
		// request context: publish retries give up when the caller
		// disconnects, and a cancelled context would abort this update too,
		// leaving a pending row nothing ever sweeps.
		failCtx := context.WithoutCancel(ctx)
		s.logger.Error("queue publish exhausted", "taskId", task.ID, "error", err)
		if failErr := s.tasks.Fail(failCtx, task.ID, ErrQueuePublishFailed.Error(), 0); failErr != nil {
			s.logger.Error("mark task failed after publish exhaustion", "taskId", task.ID, "error", failErr)
		}
		return "", fmt.Errorf("publish task: %w", err)
	}

	s.logger.Info("task submitted", "taskId", task.ID, "userId", user.ID, "priority", task.Priority, "kind", input.Kind)

	return task.ID, nil
}

// Cancel flags a task for cancellation. Workers observe the flag at the next
// stage boundary; tasks still waiting in the queue are cancelled when claimed.
func (s *Scheduler) Cancel(ctx context.Context, taskID string) error {
	if err := s.tasks.RequestCancel(ctx, taskID); err != nil {
		if errors.Is(err, repositories.ErrStale) {
			return fmt.Errorf("task %s is already finished: %w", taskID, err)
		}
		return fmt.Errorf("request cancel: %w", err)
	}

	s.logger.Info("task cancellation requested", "taskId", taskID)
	return nil
}

// Query returns the task's current status and result locators.
func (s *Scheduler) Query(ctx context.Context, taskID string) (models.Task, error) {
	return s.tasks.Get(ctx, taskID)
}

// History returns the user's most recent tasks.
func (s *Scheduler) History(ctx context.Context, userID string, limit int) ([]models.Task, error) {
	return s.tasks.ListByUser(ctx, userID, limit)
}

func (s *Scheduler) publishWithRetry(ctx context.Context, ref queue.Ref) error {
	var err error
	backoff := s.publishBackoff

	for attempt := 0; attempt < s.publishRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
			timer.Stop()
			backoff *= 2
		}

		if err = s.publish.Enqueue(ctx, ref); err == nil {
			return nil
		}

		s.logger.Warn("queue publish failed", "taskId", ref.TaskID, "attempt", attempt+1, "error", err)
	}

	return err
}

// WithNowFunc overrides the time source, for tests.
func (s *Scheduler) WithNowFunc(now func() time.Time) {
	s.now = now
}

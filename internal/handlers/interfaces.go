package handlers

import (
	"context"

	"github.com/babymaxMAX/autosub/internal/media"
	"github.com/babymaxMAX/autosub/internal/models"
	"github.com/babymaxMAX/autosub/internal/payments"
)

// UserStore captures the persistence operations required by the task handlers.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	GetByChatID(ctx context.Context, chatID int64) (models.User, error)
}

// TaskScheduler admits, tracks, and cancels media-processing tasks.
type TaskScheduler interface {
	Submit(ctx context.Context, user models.User, input models.InputDescriptor, opts models.ProcessingOptions, duration float64) (string, error)
	Cancel(ctx context.Context, taskID string) error
	Query(ctx context.Context, taskID string) (models.Task, error)
	History(ctx context.Context, userID string, limit int) ([]models.Task, error)
}

// MediaProber resolves duration metadata for remote media before admission.
type MediaProber interface {
	Probe(ctx context.Context, url string) (media.Metadata, error)
}

// PaymentReconciler applies provider webhooks and issues checkout links.
type PaymentReconciler interface {
	Apply(ctx context.Context, hook payments.Webhook) (payments.Outcome, error)
	CreateLink(ctx context.Context, userID string, t models.Tier, period string) (payments.Link, error)
}

// QueueStats reports the depth of the pending task queue.
type QueueStats interface {
	Len(ctx context.Context) (int64, error)
}

// TaskStats reports per-status task counts.
type TaskStats interface {
	CountByStatus(ctx context.Context) (map[models.TaskStatus]int, error)
}

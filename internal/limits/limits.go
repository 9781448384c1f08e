package limits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/babymaxMAX/autosub/internal/models"
	"github.com/babymaxMAX/autosub/internal/tier"
)

var (
	// ErrVideoTooLong indicates the source media exceeds the tier's duration cap.
	ErrVideoTooLong = errors.New("video exceeds tier duration limit")
	// ErrSubscriptionExpired indicates a paid tier whose expiry has passed.
	ErrSubscriptionExpired = errors.New("subscription expired")
	// ErrDailyLimitReached indicates the user already used today's task quota.
	ErrDailyLimitReached = errors.New("daily task limit reached")
	// ErrFeatureNotAllowed indicates the requested options exceed the tier's feature set.
	ErrFeatureNotAllowed = errors.New("option not available on this tier")
)

// AdmissionStore is the conditional counter update the limiter relies on.
// The update must be atomic per user: of two concurrent calls at the daily
// limit boundary, exactly one may succeed.
type AdmissionStore interface {
	AdmitTask(ctx context.Context, userID string, day time.Time, dailyLimit int) (bool, error)
}

// Limiter decides whether a user may enqueue another task.
type Limiter struct {
	store AdmissionStore
	now   func() time.Time
}

// New constructs a Limiter on top of the provided admission store.
func New(store AdmissionStore) *Limiter {
	return &Limiter{store: store, now: time.Now}
}

// Admit checks the user's tier limits against the request and, on success,
// consumes one unit of today's quota. Admission errors are reported
// synchronously and never reach the queue.
func (l *Limiter) Admit(ctx context.Context, user models.User, requestedDuration float64, opts models.ProcessingOptions) error {
	now := l.now().UTC()

	if user.Tier.Paid() && user.TierExpiresAt != nil && user.TierExpiresAt.Before(now) {
		return ErrSubscriptionExpired
	}

	limits := tier.For(user.Tier)

	if requestedDuration > limits.MaxDuration {
		return fmt.Errorf("%w: %.0fs > %.0fs", ErrVideoTooLong, requestedDuration, limits.MaxDuration)
	}

	if !limits.Allows(opts) {
		return ErrFeatureNotAllowed
	}

	admitted, err := l.store.AdmitTask(ctx, user.ID, now, limits.DailyTasks)
	if err != nil {
		return fmt.Errorf("admit task: %w", err)
	}
	if !admitted {
		return fmt.Errorf("%w: %d per day", ErrDailyLimitReached, limits.DailyTasks)
	}

	return nil
}

// WithNowFunc overrides the time source, for tests.
func (l *Limiter) WithNowFunc(now func() time.Time) {
	l.now = now
}

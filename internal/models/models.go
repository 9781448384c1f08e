package models

import (
	"fmt"
	"time"
)

// Tier identifies a user's subscription level.
type Tier string

const (
	TierFree    Tier = "free"
	TierPro     Tier = "pro"
	TierCreator Tier = "creator"
)

// ParseTier converts a stored string into a Tier, rejecting unknown values.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierFree, TierPro, TierCreator:
		return Tier(s), nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}

// Paid reports whether the tier requires an active subscription.
func (t Tier) Paid() bool {
	return t == TierPro || t == TierCreator
}

// TaskStatus tracks a task through its lifecycle.
type TaskStatus string

const (
	StatusCreated    TaskStatus = "created"
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether no further transitions may leave the status.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether moving from s to next is a legal step in the
// task state machine. Failure is reachable from pending for tasks that never
// reach a worker (queue publish exhaustion).
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case StatusCreated:
		return next == StatusPending || next == StatusFailed
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed || next == StatusCancelled
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	default:
		return false
	}
}

// InputKind describes where a task's source media comes from.
type InputKind string

const (
	InputUpload    InputKind = "upload"
	InputYouTube   InputKind = "youtube"
	InputTikTok    InputKind = "tiktok"
	InputInstagram InputKind = "instagram"
)

// InputDescriptor locates the source media for a task.
type InputDescriptor struct {
	Kind    InputKind
	Locator string
}

// ProcessingOptions selects which pipeline stages a task runs.
type ProcessingOptions struct {
	Subtitles      bool
	Translate      bool
	Voiceover      bool
	VerticalFormat bool
	Watermark      bool
	SourceLanguage string
	TargetLanguage string
}

// User is an account on the chat platform.
type User struct {
	ID            string
	ChatID        int64
	Tier          Tier
	TierExpiresAt *time.Time
	TasksToday    int
	TasksTotal    int
	LastTaskDate  *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Task is one media-processing request and its lifecycle record. Priority is
// frozen at creation time from the owner's tier and never changes afterwards.
type Task struct {
	ID              string
	UserID          string
	Status          TaskStatus
	Priority        int
	Input           InputDescriptor
	Options         ProcessingOptions
	Duration        float64
	OutputPath      string
	SubtitlesPath   string
	ErrorMessage    string
	ProcessingTime  float64
	CancelRequested bool
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// Payment statuses as reported by the provider and stored in the ledger.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
	PaymentRefunded  = "refunded"
)

// Subscription periods a payment can grant.
const (
	PeriodMonthly = "monthly"
	PeriodYearly  = "yearly"
	PeriodOnetime = "onetime"
)

// Payment is a provider-reported transaction. ExternalID is the provider's
// idempotency key; a second webhook carrying the same value must not apply
// tier effects twice.
type Payment struct {
	ID                 string
	UserID             string
	ExternalID         string
	Amount             float64
	Currency           string
	Tier               Tier
	SubscriptionPeriod string
	Status             string
	CreatedAt          time.Time
	CompletedAt        *time.Time
}

package payments

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/babymaxMAX/autosub/internal/models"
	"github.com/babymaxMAX/autosub/internal/repositories"
	"github.com/babymaxMAX/autosub/internal/tier"
)

// Webhook is the provider's payment notification. Amount stays a json.Number
// so the signature is computed over the exact bytes the provider signed.
type Webhook struct {
	OrderID    string      `json:"order_id"`
	Amount     json.Number `json:"amount"`
	Status     string      `json:"status"`
	Signature  string      `json:"signature"`
	ExternalID string      `json:"external_id,omitempty"`
}

// Outcome classifies what applying a webhook did.
type Outcome int

const (
	// OutcomeApplied means the webhook changed ledger state.
	OutcomeApplied Outcome = iota
	// OutcomeDuplicate means an earlier delivery already applied this webhook.
	OutcomeDuplicate
	// OutcomeRejected means the signature did not verify.
	OutcomeRejected
	// OutcomeUnknown means no payment matches the webhook's order.
	OutcomeUnknown
	// OutcomeIgnored means the provider status carries no ledger effect.
	OutcomeIgnored
)

// LedgerStore is the persistence surface the reconciler needs.
type LedgerStore interface {
	Create(ctx context.Context, payment models.Payment) error
	GetByExternalID(ctx context.Context, externalID string) (models.Payment, error)
	MarkStatus(ctx context.Context, externalID, status string) error
	CompleteAndUpgrade(ctx context.Context, externalID string, t models.Tier, expiresAt *time.Time) error
}

// Config carries the provider credentials and link endpoint.
type Config struct {
	Secret    string
	ProjectID string
	BaseURL   string
}

// Reconciler verifies provider webhooks and applies their effects exactly
// once, and issues new payment links.
type Reconciler struct {
	store  LedgerStore
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewReconciler constructs a Reconciler.
func NewReconciler(store LedgerStore, cfg Config, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// Signature computes the provider's webhook signature for the given fields.
func Signature(orderID, amount, status, secret string) string {
	sum := sha256.Sum256([]byte(orderID + amount + status + secret))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether the webhook's signature matches the shared secret.
func (r *Reconciler) Verify(hook Webhook) bool {
	expected := Signature(hook.OrderID, hook.Amount.String(), hook.Status, r.cfg.Secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(hook.Signature)) == 1
}

// Apply reconciles one webhook delivery against the ledger. Replays of an
// already-applied webhook report OutcomeDuplicate and mutate nothing.
func (r *Reconciler) Apply(ctx context.Context, hook Webhook) (Outcome, error) {
	if !r.Verify(hook) {
		r.logger.Warn("payment webhook signature rejected", "orderId", hook.OrderID)
		return OutcomeRejected, nil
	}

	key := hook.ExternalID
	if key == "" {
		key = hook.OrderID
	}

	payment, err := r.store.GetByExternalID(ctx, key)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			r.logger.Warn("payment webhook for unknown order", "orderId", hook.OrderID)
			return OutcomeUnknown, nil
		}
		return OutcomeUnknown, fmt.Errorf("load payment: %w", err)
	}

	switch hook.Status {
	case "success", models.PaymentCompleted:
		expiresAt := r.expiry(payment.SubscriptionPeriod)
		err := r.store.CompleteAndUpgrade(ctx, key, payment.Tier, expiresAt)
		if errors.Is(err, repositories.ErrStale) {
			return OutcomeDuplicate, nil
		}
		if err != nil {
			return OutcomeUnknown, fmt.Errorf("complete payment: %w", err)
		}
		r.logger.Info("payment completed",
			"orderId", hook.OrderID, "userId", payment.UserID, "tier", payment.Tier)
		return OutcomeApplied, nil

	case models.PaymentFailed, models.PaymentRefunded:
		err := r.store.MarkStatus(ctx, key, hook.Status)
		if errors.Is(err, repositories.ErrStale) {
			return OutcomeDuplicate, nil
		}
		if err != nil {
			return OutcomeUnknown, fmt.Errorf("record payment status: %w", err)
		}
		r.logger.Info("payment status recorded", "orderId", hook.OrderID, "status", hook.Status)
		return OutcomeApplied, nil

	default:
		r.logger.Info("payment webhook ignored", "orderId", hook.OrderID, "status", hook.Status)
		return OutcomeIgnored, nil
	}
}

// Link is a freshly created payment with its provider checkout URL.
type Link struct {
	Payment models.Payment
	URL     string
}

// CreateLink opens a pending ledger entry for a subscription purchase and
// builds the checkout URL the user is sent to.
func (r *Reconciler) CreateLink(ctx context.Context, userID string, t models.Tier, period string) (Link, error) {
	price, err := tier.PriceFor(t, period)
	if err != nil {
		return Link{}, err
	}

	payment := models.Payment{
		ID:                 uuid.NewString(),
		UserID:             userID,
		Amount:             price,
		Currency:           "RUB",
		Tier:               t,
		SubscriptionPeriod: period,
		Status:             models.PaymentPending,
		CreatedAt:          r.now().UTC(),
	}
	payment.ExternalID = payment.ID

	if err := r.store.Create(ctx, payment); err != nil {
		return Link{}, fmt.Errorf("create payment: %w", err)
	}

	amount := strconv.FormatFloat(price, 'f', -1, 64)
	sum := sha256.Sum256([]byte(r.cfg.ProjectID + amount + payment.ID + r.cfg.Secret))

	values := url.Values{}
	values.Set("project_id", r.cfg.ProjectID)
	values.Set("amount", amount)
	values.Set("order_id", payment.ID)
	values.Set("signature", hex.EncodeToString(sum[:]))

	return Link{Payment: payment, URL: r.cfg.BaseURL + "?" + values.Encode()}, nil
}

// WithNowFunc overrides the time source, for tests.
func (r *Reconciler) WithNowFunc(now func() time.Time) {
	r.now = now
}

func (r *Reconciler) expiry(period string) *time.Time {
	var d time.Duration
	switch period {
	case models.PeriodMonthly:
		d = 30 * 24 * time.Hour
	case models.PeriodYearly:
		d = 365 * 24 * time.Hour
	default:
		return nil
	}
	t := r.now().UTC().Add(d)
	return &t
}

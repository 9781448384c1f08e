package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/babymaxMAX/autosub/internal/db"
	"github.com/babymaxMAX/autosub/internal/models"
)

// PostgresPaymentRepository provides PostgreSQL-backed persistence for the
// payment ledger. external_id carries a uniqueness constraint so provider
// replays cannot create duplicate rows.
type PostgresPaymentRepository struct {
	pool db.Pool
}

// NewPostgresPaymentRepository constructs a payment repository backed by PostgreSQL.
func NewPostgresPaymentRepository(pool db.Pool) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{pool: pool}
}

const paymentColumns = `id, user_id, external_id, amount, currency, tier, subscription_period, status, created_at, completed_at`

// Create persists a new pending payment.
func (r *PostgresPaymentRepository) Create(ctx context.Context, payment models.Payment) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO payments (id, user_id, external_id, amount, currency, tier, subscription_period, status, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, payment.ID, payment.UserID, payment.ExternalID, payment.Amount, payment.Currency,
		string(payment.Tier), payment.SubscriptionPeriod, payment.Status, payment.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return ErrConflict
			case "23503":
				return ErrNotFound
			}
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

// GetByExternalID fetches a payment by the provider's idempotency key.
func (r *PostgresPaymentRepository) GetByExternalID(ctx context.Context, externalID string) (models.Payment, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Payment{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE external_id = $1`, externalID)
	return scanPayment(row)
}

// MarkStatus records a non-granting provider status (failed, refunded).
func (r *PostgresPaymentRepository) MarkStatus(ctx context.Context, externalID, status string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE payments
        SET status = $2
        WHERE external_id = $1 AND status <> 'completed'
    `, externalID, status)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrStale
	}

	return nil
}

// CompleteAndUpgrade marks the payment completed and applies the granted tier
// to the owning user inside one transaction. The guard on the payment row
// makes the whole operation idempotent: a replayed webhook that lost the race
// observes zero affected rows and reports ErrStale instead of granting twice.
func (r *PostgresPaymentRepository) CompleteAndUpgrade(ctx context.Context, externalID string, t models.Tier, expiresAt *time.Time) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin payment transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var userID string
	err = tx.QueryRow(ctx, `
        UPDATE payments
        SET status = 'completed', completed_at = NOW()
        WHERE external_id = $1 AND status <> 'completed'
        RETURNING user_id
    `, externalID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrStale
		}
		return fmt.Errorf("complete payment: %w", err)
	}

	if t != "" {
		tag, err := tx.Exec(ctx, `
            UPDATE users
            SET tier = $2, tier_expires_at = $3, updated_at = NOW()
            WHERE id = $1
        `, userID, string(t), expiresAt)
		if err != nil {
			return fmt.Errorf("upgrade user tier: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit payment transaction: %w", err)
	}

	return nil
}

func scanPayment(row pgx.Row) (models.Payment, error) {
	var (
		payment  models.Payment
		tierName string
	)
	err := row.Scan(&payment.ID, &payment.UserID, &payment.ExternalID, &payment.Amount,
		&payment.Currency, &tierName, &payment.SubscriptionPeriod, &payment.Status,
		&payment.CreatedAt, &payment.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Payment{}, ErrNotFound
		}
		return models.Payment{}, fmt.Errorf("scan payment: %w", err)
	}

	if tierName != "" {
		payment.Tier, err = models.ParseTier(tierName)
		if err != nil {
			return models.Payment{}, fmt.Errorf("scan payment: %w", err)
		}
	}

	return payment, nil
}

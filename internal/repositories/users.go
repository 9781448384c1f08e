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

// PostgresUserRepository provides PostgreSQL-backed persistence for users.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user repository backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

const userColumns = `id, chat_id, tier, tier_expires_at, tasks_today, tasks_total, last_task_date, created_at, updated_at`

// Create persists a new user record.
func (r *PostgresUserRepository) Create(ctx context.Context, user models.User) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO users (id, chat_id, tier, tier_expires_at, tasks_today, tasks_total, last_task_date, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `, user.ID, user.ChatID, string(user.Tier), user.TierExpiresAt, user.TasksToday, user.TasksTotal, user.LastTaskDate, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID fetches a user by their internal identifier.
func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByChatID fetches a user by their chat-platform identity.
func (r *PostgresUserRepository) GetByChatID(ctx context.Context, chatID int64) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE chat_id = $1`, chatID)
	return scanUser(row)
}

// AdmitTask performs the per-user admission increment: it resets the daily
// counter when the calendar day changed and increments it, but only while the
// post-reset count is still under the daily limit. The single conditional
// UPDATE linearizes concurrent admissions for the same user, so two calls at
// limit-1 can never both succeed.
func (r *PostgresUserRepository) AdmitTask(ctx context.Context, userID string, day time.Time, dailyLimit int) (bool, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE users
        SET tasks_today = CASE WHEN last_task_date IS DISTINCT FROM $2::date THEN 1 ELSE tasks_today + 1 END,
            tasks_total = tasks_total + 1,
            last_task_date = $2::date,
            updated_at = NOW()
        WHERE id = $1
          AND (CASE WHEN last_task_date IS DISTINCT FROM $2::date THEN 0 ELSE tasks_today END) < $3
    `, userID, day, dailyLimit)
	if err != nil {
		return false, fmt.Errorf("admit task for user: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// UpdateTier sets a user's subscription tier and expiry.
func (r *PostgresUserRepository) UpdateTier(ctx context.Context, userID string, t models.Tier, expiresAt *time.Time) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE users
        SET tier = $2, tier_expires_at = $3, updated_at = NOW()
        WHERE id = $1
    `, userID, string(t), expiresAt)
	if err != nil {
		return fmt.Errorf("update user tier: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var (
		user     models.User
		tierName string
	)
	err := row.Scan(&user.ID, &user.ChatID, &tierName, &user.TierExpiresAt, &user.TasksToday, &user.TasksTotal, &user.LastTaskDate, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("scan user: %w", err)
	}

	user.Tier, err = models.ParseTier(tierName)
	if err != nil {
		return models.User{}, fmt.Errorf("scan user: %w", err)
	}

	return user, nil
}

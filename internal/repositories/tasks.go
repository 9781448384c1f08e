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

// PostgresTaskRepository provides PostgreSQL-backed persistence for tasks.
//
// Status updates are guarded by the set of states they may legally leave, so
// a redelivered queue reference can never drag a task backwards through the
// state machine or out of a terminal state.
type PostgresTaskRepository struct {
	pool db.Pool
}

// NewPostgresTaskRepository constructs a task repository backed by PostgreSQL.
func NewPostgresTaskRepository(pool db.Pool) *PostgresTaskRepository {
	return &PostgresTaskRepository{pool: pool}
}

const taskColumns = `id, user_id, status, priority, input_kind, input_locator,
        subtitles, translate, voiceover, vertical_format, watermark,
        source_language, target_language, duration,
        output_path, subtitles_path, error_message, processing_time,
        cancel_requested, created_at, started_at, completed_at`

// Create persists a new task row.
func (r *PostgresTaskRepository) Create(ctx context.Context, task models.Task) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO tasks (id, user_id, status, priority, input_kind, input_locator,
                subtitles, translate, voiceover, vertical_format, watermark,
                source_language, target_language, duration,
                output_path, subtitles_path, error_message, processing_time,
                cancel_requested, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
    `, task.ID, task.UserID, string(task.Status), task.Priority,
		string(task.Input.Kind), task.Input.Locator,
		task.Options.Subtitles, task.Options.Translate, task.Options.Voiceover,
		task.Options.VerticalFormat, task.Options.Watermark,
		task.Options.SourceLanguage, task.Options.TargetLanguage, task.Duration,
		task.OutputPath, task.SubtitlesPath, task.ErrorMessage, task.ProcessingTime,
		task.CancelRequested, task.CreatedAt)
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
		return fmt.Errorf("insert task: %w", err)
	}

	return nil
}

// Get fetches a task by identifier.
func (r *PostgresTaskRepository) Get(ctx context.Context, id string) (models.Task, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Task{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

// MarkPending transitions a freshly created task to pending.
func (r *PostgresTaskRepository) MarkPending(ctx context.Context, id string) error {
	return r.transition(ctx, id, `
        UPDATE tasks SET status = 'pending'
        WHERE id = $1 AND status = 'created'
    `)
}

// MarkProcessing records that a worker picked the task up. The guard accepts
// tasks already in processing so a redelivered lease resumes execution
// instead of failing.
func (r *PostgresTaskRepository) MarkProcessing(ctx context.Context, id string, startedAt time.Time) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE tasks
        SET status = 'processing', started_at = COALESCE(started_at, $2)
        WHERE id = $1 AND status IN ('pending', 'processing')
    `, id, startedAt)
	if err != nil {
		return fmt.Errorf("mark task processing: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrStale
	}

	return nil
}

// SaveArtifacts checkpoints stage results while the task is still processing.
func (r *PostgresTaskRepository) SaveArtifacts(ctx context.Context, id, outputPath, subtitlesPath string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE tasks
        SET output_path = CASE WHEN $2 <> '' THEN $2 ELSE output_path END,
            subtitles_path = CASE WHEN $3 <> '' THEN $3 ELSE subtitles_path END
        WHERE id = $1 AND status = 'processing'
    `, id, outputPath, subtitlesPath)
	if err != nil {
		return fmt.Errorf("save task artifacts: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrStale
	}

	return nil
}

// Complete moves a processing task into its successful terminal state.
func (r *PostgresTaskRepository) Complete(ctx context.Context, id, outputPath, subtitlesPath string, processingTime float64) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE tasks
        SET status = 'completed', output_path = $2, subtitles_path = $3,
            processing_time = $4, completed_at = NOW()
        WHERE id = $1 AND status = 'processing'
    `, id, outputPath, subtitlesPath, processingTime)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrStale
	}

	return nil
}

// Fail moves a task into the failed terminal state with a stage error code.
func (r *PostgresTaskRepository) Fail(ctx context.Context, id, errorMessage string, processingTime float64) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE tasks
        SET status = 'failed', error_message = $2, processing_time = $3, completed_at = NOW()
        WHERE id = $1 AND status IN ('created', 'pending', 'processing')
    `, id, errorMessage, processingTime)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrStale
	}

	return nil
}

// Cancel moves a pending or processing task into the cancelled terminal state.
func (r *PostgresTaskRepository) Cancel(ctx context.Context, id string, processingTime float64) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE tasks
        SET status = 'cancelled', processing_time = $2, completed_at = NOW()
        WHERE id = $1 AND status IN ('pending', 'processing')
    `, id, processingTime)
	if err != nil {
		return fmt.Errorf("cancel task: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrStale
	}

	return nil
}

// RequestCancel flags a non-terminal task for cancellation. Workers observe
// the flag at stage boundaries; the flag is advisory, not a lock.
func (r *PostgresTaskRepository) RequestCancel(ctx context.Context, id string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `
        UPDATE tasks
        SET cancel_requested = TRUE
        WHERE id = $1 AND status IN ('created', 'pending', 'processing')
    `, id)
	if err != nil {
		return fmt.Errorf("request task cancel: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrStale
	}

	return nil
}

// ListByUser returns the user's most recent tasks.
func (r *PostgresTaskRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = 20
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT `+taskColumns+`
        FROM tasks
        WHERE user_id = $1
        ORDER BY created_at DESC
        LIMIT $2
    `, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query user tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user tasks: %w", err)
	}

	return tasks, nil
}

// CountByStatus returns the number of tasks per status, for the admin surface.
func (r *PostgresTaskRepository) CountByStatus(ctx context.Context) (map[models.TaskStatus]int, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tasks by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.TaskStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		counts[models.TaskStatus(status)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task counts: %w", err)
	}

	return counts, nil
}

func (r *PostgresTaskRepository) transition(ctx context.Context, id, query string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("transition task: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrStale
	}

	return nil
}

func scanTask(row pgx.Row) (models.Task, error) {
	var (
		task   models.Task
		status string
		kind   string
	)
	err := row.Scan(&task.ID, &task.UserID, &status, &task.Priority, &kind, &task.Input.Locator,
		&task.Options.Subtitles, &task.Options.Translate, &task.Options.Voiceover,
		&task.Options.VerticalFormat, &task.Options.Watermark,
		&task.Options.SourceLanguage, &task.Options.TargetLanguage, &task.Duration,
		&task.OutputPath, &task.SubtitlesPath, &task.ErrorMessage, &task.ProcessingTime,
		&task.CancelRequested, &task.CreatedAt, &task.StartedAt, &task.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Task{}, ErrNotFound
		}
		return models.Task{}, fmt.Errorf("scan task: %w", err)
	}

	task.Status = models.TaskStatus(status)
	task.Input.Kind = models.InputKind(kind)

	return task, nil
}

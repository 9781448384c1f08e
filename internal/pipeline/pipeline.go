package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/babymaxMAX/autosub/internal/logging"
	"github.com/babymaxMAX/autosub/internal/media"
	"github.com/babymaxMAX/autosub/internal/models"
	"github.com/babymaxMAX/autosub/internal/repositories"
	"github.com/babymaxMAX/autosub/internal/tier"
)

// Failure codes recorded on tasks, one per pipeline stage.
const (
	CodeDownloadFailed      = "DownloadFailed"
	CodeTranscriptionFailed = "TranscriptionFailed"
	CodeTranslationFailed   = "TranslationFailed"
	CodeVoiceoverFailed     = "VoiceoverFailed"
	CodeProcessingFailed    = "ProcessingFailed"
	CodeDeliveryFailed      = "DeliveryFailed"
	CodeInternalError       = "InternalError"
)

// TaskStore captures the persistence operations the pipeline needs.
type TaskStore interface {
	Get(ctx context.Context, id string) (models.Task, error)
	MarkProcessing(ctx context.Context, id string, startedAt time.Time) error
	SaveArtifacts(ctx context.Context, id, outputPath, subtitlesPath string) error
	Complete(ctx context.Context, id, outputPath, subtitlesPath string, processingTime float64) error
	Fail(ctx context.Context, id, errorMessage string, processingTime float64) error
	Cancel(ctx context.Context, id string, processingTime float64) error
}

// UserStore resolves task owners for delivery and quality limits.
type UserStore interface {
	GetByID(ctx context.Context, id string) (models.User, error)
}

// ArtifactStore persists rendered artifacts and returns public locations.
type ArtifactStore interface {
	Save(ctx context.Context, name string, r io.Reader) (string, error)
}

// Fetcher resolves an input descriptor to a local media file.
type Fetcher interface {
	Fetch(ctx context.Context, input models.InputDescriptor, destDir string) (string, error)
}

// Transcriber produces a subtitle file from media.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaPath, sourceLanguage, destDir string) (string, error)
}

// Translator produces a translated subtitle file.
type Translator interface {
	Translate(ctx context.Context, subtitlePath, sourceLanguage, targetLanguage, destDir string) (string, error)
}

// Synthesizer produces a voiceover audio track from subtitles.
type Synthesizer interface {
	Synthesize(ctx context.Context, subtitlePath, language, destDir string) (string, error)
}

// Renderer combines media, subtitles, and voiceover into the final file.
type Renderer interface {
	Render(ctx context.Context, req media.RenderRequest, destDir string) (string, error)
}

// Notifier hands terminal results back to the chat front end.
type Notifier interface {
	Notify(ctx context.Context, note media.DeliveryNote) error
}

// Providers bundles the capability providers a runner executes stages with.
type Providers struct {
	Fetcher     Fetcher
	Transcriber Transcriber
	Translator  Translator
	Synthesizer Synthesizer
	Renderer    Renderer
	Notifier    Notifier
	Artifacts   ArtifactStore
}

// execution carries per-task state across stages.
type execution struct {
	task  models.Task
	user  models.User
	dir   string
	start time.Time

	mediaPath     string
	subtitlesPath string
	voiceoverPath string
	outputPath    string

	outputURL    string
	subtitlesURL string
}

// stage is one step of the pipeline: a predicate deciding whether the task
// needs it, an executor, and the failure code recorded when it breaks.
type stage struct {
	name        string
	failureCode string
	applies     func(models.Task) bool
	run         func(ctx context.Context, ex *execution) error
}

// RunnerConfig tunes stage retry behaviour and the work area.
type RunnerConfig struct {
	WorkDir         string
	StageAttempts   int
	StageRetryDelay time.Duration
}

// Runner drives one claimed task through the pipeline state machine. Stage
// failures are terminal for the task, never for the runner.
type Runner struct {
	tasks     TaskStore
	users     UserStore
	providers Providers
	cfg       RunnerConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewRunner constructs a Runner.
func NewRunner(tasks TaskStore, users UserStore, providers Providers, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.StageAttempts <= 0 {
		cfg.StageAttempts = 2
	}
	if cfg.StageRetryDelay <= 0 {
		cfg.StageRetryDelay = 5 * time.Second
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		tasks:     tasks,
		users:     users,
		providers: providers,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Execute runs the full pipeline for the referenced task. A nil return means
// the task reached a terminal state (or was already terminal) and the queue
// reference may be acknowledged; a non-nil return means an infrastructure
// failure where redelivery should retry the whole attempt.
func (r *Runner) Execute(ctx context.Context, taskID string) error {
	task, err := r.tasks.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			r.logger.Error("claimed task does not exist", "taskId", taskID)
			return nil
		}
		return fmt.Errorf("load task: %w", err)
	}

	// A redelivered reference for a finished task is acknowledged, not re-run.
	if task.Status.Terminal() {
		return nil
	}

	start := r.now()

	if task.CancelRequested {
		return r.cancel(ctx, task, start)
	}

	if err := r.tasks.MarkProcessing(ctx, task.ID, start); err != nil {
		if errors.Is(err, repositories.ErrStale) {
			return nil
		}
		return fmt.Errorf("mark processing: %w", err)
	}
	task.Status = models.StatusProcessing

	user, err := r.users.GetByID(ctx, task.UserID)
	if err != nil {
		return fmt.Errorf("load task owner: %w", err)
	}

	// A fresh work directory per attempt: redelivery after a crash must
	// never collide with a prior attempt's partial artifacts.
	dir := filepath.Join(r.cfg.WorkDir, fmt.Sprintf("task_%s_%s", task.ID, uuid.NewString()[:8]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	ex := &execution{task: task, user: user, dir: dir, start: start}

	for _, st := range r.stages() {
		if !st.applies(ex.task) {
			continue
		}

		// Cancellation is polled at stage boundaries only; provider calls
		// are opaque and run to completion.
		fresh, err := r.tasks.Get(ctx, task.ID)
		if err == nil && fresh.CancelRequested {
			return r.cancel(ctx, ex.task, start)
		}

		r.logger.Info("stage started", "taskId", task.ID, "stage", st.name)

		stageCtx, span := logging.StartSpan(ctx, "pipeline."+st.name)
		err = r.runStage(stageCtx, st, ex)
		span.End()
		if err != nil {
			message := fmt.Sprintf("%s: %v", st.failureCode, err)
			r.logger.Error("stage failed", "taskId", task.ID, "stage", st.name, "error", err)
			if failErr := r.tasks.Fail(ctx, task.ID, message, r.elapsed(start)); failErr != nil {
				return fmt.Errorf("persist stage failure: %w", failErr)
			}
			r.notify(ctx, ex, models.StatusFailed, message)
			return nil
		}

		if err := r.checkpoint(ctx, ex); err != nil {
			return err
		}
	}

	if err := r.tasks.Complete(ctx, task.ID, ex.outputURL, ex.subtitlesURL, r.elapsed(start)); err != nil {
		return fmt.Errorf("persist completion: %w", err)
	}

	r.notify(ctx, ex, models.StatusCompleted, "")
	r.logger.Info("task completed", "taskId", task.ID, "seconds", r.elapsed(start))

	return nil
}

// FailInternal records a generic internal failure, used by the pool boundary
// when stage execution panics.
func (r *Runner) FailInternal(ctx context.Context, taskID string) {
	if err := r.tasks.Fail(ctx, taskID, CodeInternalError, 0); err != nil {
		r.logger.Error("persist internal failure", "taskId", taskID, "error", err)
	}
}

func (r *Runner) stages() []stage {
	return []stage{
		{
			name:        "fetch",
			failureCode: CodeDownloadFailed,
			applies:     func(models.Task) bool { return true },
			run: func(ctx context.Context, ex *execution) error {
				path, err := r.providers.Fetcher.Fetch(ctx, ex.task.Input, ex.dir)
				if err != nil {
					return err
				}
				ex.mediaPath = path
				return nil
			},
		},
		{
			name:        "transcribe",
			failureCode: CodeTranscriptionFailed,
			applies: func(t models.Task) bool {
				return t.Options.Subtitles || t.Options.Translate || t.Options.Voiceover
			},
			run: func(ctx context.Context, ex *execution) error {
				path, err := r.providers.Transcriber.Transcribe(ctx, ex.mediaPath, ex.task.Options.SourceLanguage, ex.dir)
				if err != nil {
					return err
				}
				ex.subtitlesPath = path
				return nil
			},
		},
		{
			name:        "translate",
			failureCode: CodeTranslationFailed,
			applies: func(t models.Task) bool {
				return t.Options.Translate &&
					t.Options.TargetLanguage != "" &&
					t.Options.TargetLanguage != t.Options.SourceLanguage
			},
			run: func(ctx context.Context, ex *execution) error {
				path, err := r.providers.Translator.Translate(ctx, ex.subtitlesPath,
					ex.task.Options.SourceLanguage, ex.task.Options.TargetLanguage, ex.dir)
				if err != nil {
					return err
				}
				ex.subtitlesPath = path
				return nil
			},
		},
		{
			name:        "synthesize",
			failureCode: CodeVoiceoverFailed,
			applies:     func(t models.Task) bool { return t.Options.Voiceover },
			run: func(ctx context.Context, ex *execution) error {
				language := ex.task.Options.TargetLanguage
				if language == "" {
					language = ex.task.Options.SourceLanguage
				}
				path, err := r.providers.Synthesizer.Synthesize(ctx, ex.subtitlesPath, language, ex.dir)
				if err != nil {
					return err
				}
				ex.voiceoverPath = path
				return nil
			},
		},
		{
			name:        "render",
			failureCode: CodeProcessingFailed,
			applies:     func(models.Task) bool { return true },
			run: func(ctx context.Context, ex *execution) error {
				subtitlePath := ""
				if ex.task.Options.Subtitles {
					subtitlePath = ex.subtitlesPath
				}
				path, err := r.providers.Renderer.Render(ctx, media.RenderRequest{
					MediaPath:     ex.mediaPath,
					SubtitlePath:  subtitlePath,
					VoiceoverPath: ex.voiceoverPath,
					Vertical:      ex.task.Options.VerticalFormat,
					Watermark:     ex.task.Options.Watermark,
					MaxQuality:    tier.For(ex.user.Tier).MaxQuality,
				}, ex.dir)
				if err != nil {
					return err
				}
				ex.outputPath = path
				return nil
			},
		},
		{
			name:        "deliver",
			failureCode: CodeDeliveryFailed,
			applies:     func(models.Task) bool { return true },
			run: func(ctx context.Context, ex *execution) error {
				url, err := r.upload(ctx, ex.task.ID, "output.mp4", ex.outputPath)
				if err != nil {
					return err
				}
				ex.outputURL = url

				if ex.subtitlesPath != "" {
					url, err := r.upload(ctx, ex.task.ID, "subtitles.srt", ex.subtitlesPath)
					if err != nil {
						return err
					}
					ex.subtitlesURL = url
				}

				return nil
			},
		},
	}
}

func (r *Runner) runStage(ctx context.Context, st stage, ex *execution) error {
	var err error
	for attempt := 1; attempt <= r.cfg.StageAttempts; attempt++ {
		err = st.run(ctx, ex)
		if err == nil {
			return nil
		}
		if !media.IsTransient(err) || attempt == r.cfg.StageAttempts {
			return err
		}

		r.logger.Warn("transient stage failure, retrying",
			"taskId", ex.task.ID, "stage", st.name, "attempt", attempt, "error", err)

		timer := time.NewTimer(r.cfg.StageRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		timer.Stop()
	}
	return err
}

// checkpoint persists stage outputs before the pipeline advances.
func (r *Runner) checkpoint(ctx context.Context, ex *execution) error {
	if ex.outputPath == "" && ex.subtitlesPath == "" {
		return nil
	}
	if err := r.tasks.SaveArtifacts(ctx, ex.task.ID, ex.outputPath, ex.subtitlesPath); err != nil {
		return fmt.Errorf("checkpoint artifacts: %w", err)
	}
	return nil
}

func (r *Runner) cancel(ctx context.Context, task models.Task, start time.Time) error {
	elapsed := 0.0
	if task.Status == models.StatusProcessing {
		elapsed = r.elapsed(start)
	}
	if err := r.tasks.Cancel(ctx, task.ID, elapsed); err != nil {
		if errors.Is(err, repositories.ErrStale) {
			return nil
		}
		return fmt.Errorf("persist cancellation: %w", err)
	}
	r.logger.Info("task cancelled", "taskId", task.ID)
	return nil
}

func (r *Runner) upload(ctx context.Context, taskID, name, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact %s: %w", path, err)
	}
	defer f.Close()

	location, err := r.providers.Artifacts.Save(ctx, filepath.Join(taskID, name), f)
	if err != nil {
		return "", fmt.Errorf("upload artifact %s: %w", name, err)
	}

	return location, nil
}

// notify is best effort: the terminal state is already durable and the front
// end can poll, so delivery failures are logged rather than failing the task.
func (r *Runner) notify(ctx context.Context, ex *execution, status models.TaskStatus, message string) {
	if r.providers.Notifier == nil {
		return
	}

	note := media.DeliveryNote{
		TaskID:       ex.task.ID,
		ChatID:       ex.user.ChatID,
		Status:       string(status),
		OutputURL:    ex.outputURL,
		SubtitlesURL: ex.subtitlesURL,
		Error:        message,
	}

	if err := r.providers.Notifier.Notify(ctx, note); err != nil {
		r.logger.Error("deliver result notification", "taskId", ex.task.ID, "error", err)
	}
}

func (r *Runner) elapsed(start time.Time) float64 {
	return r.now().Sub(start).Seconds()
}

// WithNowFunc overrides the time source, for tests.
func (r *Runner) WithNowFunc(now func() time.Time) {
	r.now = now
}

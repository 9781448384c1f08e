package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/babymaxMAX/autosub/internal/config"
	"github.com/babymaxMAX/autosub/internal/db"
	"github.com/babymaxMAX/autosub/internal/handlers"
	"github.com/babymaxMAX/autosub/internal/limits"
	"github.com/babymaxMAX/autosub/internal/media"
	"github.com/babymaxMAX/autosub/internal/middleware"
	"github.com/babymaxMAX/autosub/internal/payments"
	"github.com/babymaxMAX/autosub/internal/pipeline"
	"github.com/babymaxMAX/autosub/internal/queue"
	"github.com/babymaxMAX/autosub/internal/repositories"
	"github.com/babymaxMAX/autosub/internal/scheduler"
	"github.com/babymaxMAX/autosub/internal/storage"
)

// buildServerDependencies wires together concrete implementations used by the
// HTTP handlers.
func buildServerDependencies(pool db.Pool, taskQueue queue.TaskQueue, cfg config.Config, logger *slog.Logger) handlers.Dependencies {
	users := repositories.NewPostgresUserRepository(pool)
	tasks := repositories.NewPostgresTaskRepository(pool)
	ledger := repositories.NewPostgresPaymentRepository(pool)

	admitter := limits.New(users)

	sched := scheduler.New(tasks, admitter, taskQueue, scheduler.Config{
		PublishRetries: cfg.PublishRetries,
		PublishBackoff: cfg.PublishBackoff,
	}, logger)

	prober := media.NewCachingProber(
		media.NewYTDLPProber(cfg.YTDLPPath, cfg.ProbeTimeout),
		cfg.ProbeCacheTTL,
	)

	reconciler := payments.NewReconciler(ledger, payments.Config{
		Secret:    cfg.PaymentSecret,
		ProjectID: cfg.PaymentProjectID,
		BaseURL:   cfg.PaymentBaseURL,
	}, logger)

	return handlers.Dependencies{
		Users:          users,
		Scheduler:      sched,
		Prober:         prober,
		Payments:       reconciler,
		Queue:          taskQueue,
		TaskStats:      tasks,
		WebhookLimiter: middleware.NewIPRateLimiter(30, time.Minute, 10, 5*time.Minute),

		AdminUsername:     cfg.AdminUser,
		AdminPasswordHash: cfg.AdminPasswordHash,
		Version:           Version,
	}
}

// buildRunner assembles the pipeline runner with its capability providers.
func buildRunner(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (*pipeline.Runner, error) {
	artifacts, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
	if err != nil {
		return nil, fmt.Errorf("configure artifact storage: %w", err)
	}

	fetcher := media.NewFetcher(cfg.YTDLPPath, cfg.UploadDir, cfg.FetchTimeout)

	providers := pipeline.Providers{
		Fetcher:     fetcher,
		Transcriber: media.NewTranscriber(cfg.WhisperPath, cfg.WhisperModel, cfg.TranscribeTimeout),
		Translator:  media.NewTranslator(cfg.TranslatePath, cfg.TranslateTimeout),
		Synthesizer: media.NewSynthesizer(cfg.TTSPath, cfg.SynthesizeTimeout),
		Renderer:    media.NewRenderer(cfg.FFmpegPath, cfg.RenderTimeout),
		Notifier:    media.NewNotifier(cfg.CallbackURL, cfg.CallbackTimeout),
		Artifacts:   artifacts,
	}

	tasks := repositories.NewPostgresTaskRepository(pool)
	users := repositories.NewPostgresUserRepository(pool)

	return pipeline.NewRunner(tasks, users, providers, pipeline.RunnerConfig{
		WorkDir:         cfg.WorkDir,
		StageAttempts:   cfg.StageAttempts,
		StageRetryDelay: cfg.StageRetryDelay,
	}, logger), nil
}

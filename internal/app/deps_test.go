package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/babymaxMAX/autosub/internal/config"
	"github.com/babymaxMAX/autosub/internal/queue"
)

type fakePool struct{}

func (fakePool) Acquire(context.Context) (*pgxpool.Conn, error) {
	return nil, errors.New("not implemented")
}

func (fakePool) Close() {}

type fakeQueue struct{}

func (fakeQueue) Enqueue(context.Context, queue.Ref) error { return nil }

func (fakeQueue) Claim(context.Context, time.Duration) (queue.Ref, bool, error) {
	return queue.Ref{}, false, nil
}

func (fakeQueue) Ack(context.Context, queue.Ref) error  { return nil }
func (fakeQueue) Nack(context.Context, queue.Ref) error { return nil }

func (fakeQueue) RequeueExpired(context.Context, time.Time) (int, error) { return 0, nil }

func (fakeQueue) Len(context.Context) (int64, error) { return 0, nil }

func TestBuildServerDependencies(t *testing.T) {
	cfg := config.Config{
		YTDLPPath:     "yt-dlp",
		ProbeTimeout:  time.Second,
		ProbeCacheTTL: time.Minute,
		AdminUser:     "admin",
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps := buildServerDependencies(fakePool{}, fakeQueue{}, cfg, logger)

	if deps.Users == nil {
		t.Fatal("expected user repository to be configured")
	}
	if deps.Scheduler == nil {
		t.Fatal("expected scheduler to be configured")
	}
	if deps.Prober == nil {
		t.Fatal("expected media prober to be configured")
	}
	if deps.Payments == nil {
		t.Fatal("expected payment reconciler to be configured")
	}
	if deps.Queue == nil || deps.TaskStats == nil {
		t.Fatal("expected stats sources to be configured")
	}
	if deps.WebhookLimiter == nil {
		t.Fatal("expected webhook limiter to be configured")
	}
	if deps.AdminUsername != "admin" {
		t.Fatalf("admin username not propagated, got %q", deps.AdminUsername)
	}
}

func TestBuildRunner(t *testing.T) {
	cfg := config.Config{
		YTDLPPath:     "yt-dlp",
		WhisperPath:   "whisper",
		WhisperModel:  "base",
		TranslatePath: "argos-translate",
		TTSPath:       "edge-tts",
		FFmpegPath:    "ffmpeg",
		WorkDir:       t.TempDir(),
		ObjectStore:   config.ObjectStoreConfig{Bucket: "test-bucket", Endpoint: "http://localhost:9000", Region: "us-east-1"},
	}

	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner, err := buildRunner(context.Background(), fakePool{}, cfg, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runner == nil {
		t.Fatal("expected runner to be configured")
	}
}

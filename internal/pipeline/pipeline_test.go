package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/babymaxMAX/autosub/internal/media"
	"github.com/babymaxMAX/autosub/internal/models"
	"github.com/babymaxMAX/autosub/internal/queue"
	"github.com/babymaxMAX/autosub/internal/repositories"
)

type taskStoreStub struct {
	mu    sync.Mutex
	tasks map[string]models.Task

	saved        [][3]string
	completed    bool
	completedOut string
	completedSub string
	failed       bool
	failMessage  string
	cancelled    bool

	getErr error
}

func newTaskStoreStub(task models.Task) *taskStoreStub {
	return &taskStoreStub{tasks: map[string]models.Task{task.ID: task}}
}

func (s *taskStoreStub) Get(ctx context.Context, id string) (models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return models.Task{}, s.getErr
	}
	task, ok := s.tasks[id]
	if !ok {
		return models.Task{}, repositories.ErrNotFound
	}
	return task, nil
}

func (s *taskStoreStub) MarkProcessing(ctx context.Context, id string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.tasks[id]
	task.Status = models.StatusProcessing
	s.tasks[id] = task
	return nil
}

func (s *taskStoreStub) SaveArtifacts(ctx context.Context, id, outputPath, subtitlesPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, [3]string{id, outputPath, subtitlesPath})
	return nil
}

func (s *taskStoreStub) Complete(ctx context.Context, id, outputPath, subtitlesPath string, processingTime float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = true
	s.completedOut = outputPath
	s.completedSub = subtitlesPath
	task := s.tasks[id]
	task.Status = models.StatusCompleted
	s.tasks[id] = task
	return nil
}

func (s *taskStoreStub) Fail(ctx context.Context, id, errorMessage string, processingTime float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = true
	s.failMessage = errorMessage
	task := s.tasks[id]
	task.Status = models.StatusFailed
	s.tasks[id] = task
	return nil
}

func (s *taskStoreStub) Cancel(ctx context.Context, id string, processingTime float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
	task := s.tasks[id]
	task.Status = models.StatusCancelled
	s.tasks[id] = task
	return nil
}

func (s *taskStoreStub) requestCancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.tasks[id]
	task.CancelRequested = true
	s.tasks[id] = task
}

type userStoreStub struct{ user models.User }

func (s *userStoreStub) GetByID(ctx context.Context, id string) (models.User, error) {
	return s.user, nil
}

type artifactStoreStub struct {
	mu    sync.Mutex
	names []string
	err   error
}

func (s *artifactStoreStub) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.names = append(s.names, name)
	return "https://cdn.example.com/" + name, nil
}

type providerScript struct {
	mu    sync.Mutex
	calls []string

	fetchErr      error
	transcribeErr error
	fetchFailures int
	onFetch       func()
}

func (p *providerScript) record(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, name)
}

func (p *providerScript) stageCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *providerScript) Fetch(ctx context.Context, input models.InputDescriptor, destDir string) (string, error) {
	p.record("fetch")
	if p.onFetch != nil {
		p.onFetch()
	}
	p.mu.Lock()
	if p.fetchFailures > 0 {
		p.fetchFailures--
		p.mu.Unlock()
		return "", media.Transient(errors.New("network hiccup"))
	}
	err := p.fetchErr
	p.mu.Unlock()
	if err != nil {
		return "", err
	}
	return writeStageFile(destDir, "source.mp4")
}

func (p *providerScript) Transcribe(ctx context.Context, mediaPath, sourceLanguage, destDir string) (string, error) {
	p.record("transcribe")
	if p.transcribeErr != nil {
		return "", p.transcribeErr
	}
	return writeStageFile(destDir, "source.srt")
}

func (p *providerScript) Translate(ctx context.Context, subtitlePath, sourceLanguage, targetLanguage, destDir string) (string, error) {
	p.record("translate")
	return writeStageFile(destDir, "subtitles_"+targetLanguage+".srt")
}

func (p *providerScript) Synthesize(ctx context.Context, subtitlePath, language, destDir string) (string, error) {
	p.record("synthesize")
	return writeStageFile(destDir, "voiceover.mp3")
}

func (p *providerScript) Render(ctx context.Context, req media.RenderRequest, destDir string) (string, error) {
	p.record("render")
	return writeStageFile(destDir, "output.mp4")
}

func writeStageFile(destDir, name string) (string, error) {
	path := filepath.Join(destDir, name)
	if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type notifierStub struct {
	mu    sync.Mutex
	notes []media.DeliveryNote
}

func (n *notifierStub) Notify(ctx context.Context, note media.DeliveryNote) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func testTask(opts models.ProcessingOptions) models.Task {
	return models.Task{
		ID:       "task-1",
		UserID:   "user-1",
		Status:   models.StatusPending,
		Priority: 3,
		Input:    models.InputDescriptor{Kind: models.InputYouTube, Locator: "https://youtube.com/watch?v=x"},
		Options:  opts,
	}
}

func newTestRunner(t *testing.T, store *taskStoreStub, script *providerScript, notifier *notifierStub, artifacts *artifactStoreStub) *Runner {
	t.Helper()
	if artifacts == nil {
		artifacts = &artifactStoreStub{}
	}
	providers := Providers{
		Fetcher:     script,
		Transcriber: script,
		Translator:  script,
		Synthesizer: script,
		Renderer:    script,
		Artifacts:   artifacts,
	}
	if notifier != nil {
		providers.Notifier = notifier
	}
	users := &userStoreStub{user: models.User{ID: "user-1", ChatID: 42, Tier: models.TierFree}}
	return NewRunner(store, users, providers, RunnerConfig{
		WorkDir:         t.TempDir(),
		StageAttempts:   2,
		StageRetryDelay: time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExecuteRunsAllStages(t *testing.T) {
	store := newTaskStoreStub(testTask(models.ProcessingOptions{
		Subtitles:      true,
		Translate:      true,
		Voiceover:      true,
		SourceLanguage: "en",
		TargetLanguage: "ru",
	}))
	script := &providerScript{}
	notifier := &notifierStub{}
	artifacts := &artifactStoreStub{}

	runner := newTestRunner(t, store, script, notifier, artifacts)

	if err := runner.Execute(context.Background(), "task-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	want := []string{"fetch", "transcribe", "translate", "synthesize", "render"}
	got := script.stageCalls()
	if len(got) != len(want) {
		t.Fatalf("stage calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stage calls = %v, want %v", got, want)
		}
	}

	if !store.completed {
		t.Fatal("task must be completed")
	}
	if store.completedOut != "https://cdn.example.com/task-1/output.mp4" {
		t.Fatalf("unexpected output location %q", store.completedOut)
	}
	if store.completedSub == "" {
		t.Fatal("subtitles location must be persisted")
	}
	if len(notifier.notes) != 1 || notifier.notes[0].Status != "completed" || notifier.notes[0].ChatID != 42 {
		t.Fatalf("unexpected delivery notes: %+v", notifier.notes)
	}
}

func TestExecuteSkipsUnrequestedStages(t *testing.T) {
	store := newTaskStoreStub(testTask(models.ProcessingOptions{
		Subtitles:      true,
		SourceLanguage: "auto",
	}))
	script := &providerScript{}

	runner := newTestRunner(t, store, script, nil, nil)

	if err := runner.Execute(context.Background(), "task-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	for _, call := range script.stageCalls() {
		if call == "translate" || call == "synthesize" {
			t.Fatalf("stage %q must be skipped: %v", call, script.stageCalls())
		}
	}
	if !store.completed {
		t.Fatal("task must be completed")
	}
}

func TestExecuteSkipsTranslationForSameLanguage(t *testing.T) {
	store := newTaskStoreStub(testTask(models.ProcessingOptions{
		Subtitles:      true,
		Translate:      true,
		SourceLanguage: "en",
		TargetLanguage: "en",
	}))
	script := &providerScript{}

	runner := newTestRunner(t, store, script, nil, nil)

	if err := runner.Execute(context.Background(), "task-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	for _, call := range script.stageCalls() {
		if call == "translate" {
			t.Fatal("same-language translation must be skipped")
		}
	}
}

func TestExecuteRecordsStageFailureCode(t *testing.T) {
	store := newTaskStoreStub(testTask(models.ProcessingOptions{Subtitles: true}))
	script := &providerScript{transcribeErr: errors.New("model exploded")}
	notifier := &notifierStub{}

	runner := newTestRunner(t, store, script, notifier, nil)

	if err := runner.Execute(context.Background(), "task-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !store.failed {
		t.Fatal("task must be failed")
	}
	if store.failMessage != "TranscriptionFailed: model exploded" {
		t.Fatalf("unexpected failure message %q", store.failMessage)
	}
	if store.completed {
		t.Fatal("failed task must not complete")
	}
	if len(notifier.notes) != 1 || notifier.notes[0].Status != "failed" {
		t.Fatalf("unexpected delivery notes: %+v", notifier.notes)
	}
}

func TestExecuteRetriesTransientStageOnce(t *testing.T) {
	store := newTaskStoreStub(testTask(models.ProcessingOptions{}))
	script := &providerScript{fetchFailures: 1}

	runner := newTestRunner(t, store, script, nil, nil)

	if err := runner.Execute(context.Background(), "task-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	fetches := 0
	for _, call := range script.stageCalls() {
		if call == "fetch" {
			fetches++
		}
	}
	if fetches != 2 {
		t.Fatalf("expected 2 fetch attempts, got %d", fetches)
	}
	if !store.completed {
		t.Fatal("task must complete after the retry")
	}
}

func TestExecuteGivesUpOnPersistentTransientFailure(t *testing.T) {
	store := newTaskStoreStub(testTask(models.ProcessingOptions{}))
	script := &providerScript{fetchFailures: 5}

	runner := newTestRunner(t, store, script, nil, nil)

	if err := runner.Execute(context.Background(), "task-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !store.failed {
		t.Fatal("task must fail after exhausting attempts")
	}
	if got := store.failMessage; got == "" || got[:14] != "DownloadFailed" {
		t.Fatalf("unexpected failure message %q", got)
	}
}

func TestExecuteHonoursCancellationBetweenStages(t *testing.T) {
	store := newTaskStoreStub(testTask(models.ProcessingOptions{Subtitles: true}))
	// Raise the cancellation flag while fetch runs; the runner must observe
	// it at the next stage boundary and stop there.
	script := &providerScript{onFetch: func() { store.requestCancel("task-1") }}

	runner := newTestRunner(t, store, script, nil, nil)

	if err := runner.Execute(context.Background(), "task-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !store.cancelled {
		t.Fatal("task must be cancelled")
	}
	if store.completed || store.failed {
		t.Fatal("cancelled task must not complete or fail")
	}
	for _, call := range script.stageCalls() {
		if call != "fetch" {
			t.Fatalf("only fetch may run before cancellation, got %v", script.stageCalls())
		}
	}
}

func TestExecuteCancelsBeforeProcessingStarts(t *testing.T) {
	task := testTask(models.ProcessingOptions{})
	task.CancelRequested = true
	store := newTaskStoreStub(task)
	script := &providerScript{}

	runner := newTestRunner(t, store, script, nil, nil)

	if err := runner.Execute(context.Background(), "task-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !store.cancelled {
		t.Fatal("task must be cancelled")
	}
	if len(script.stageCalls()) != 0 {
		t.Fatalf("no stages may run, got %v", script.stageCalls())
	}
}

func TestExecuteAcksTerminalRedelivery(t *testing.T) {
	task := testTask(models.ProcessingOptions{})
	task.Status = models.StatusCompleted
	store := newTaskStoreStub(task)
	script := &providerScript{}

	runner := newTestRunner(t, store, script, nil, nil)

	if err := runner.Execute(context.Background(), "task-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(script.stageCalls()) != 0 {
		t.Fatalf("terminal task must not re-run, got %v", script.stageCalls())
	}
}

func TestExecuteReturnsInfraErrors(t *testing.T) {
	store := newTaskStoreStub(testTask(models.ProcessingOptions{}))
	store.getErr = errors.New("connection refused")
	script := &providerScript{}

	runner := newTestRunner(t, store, script, nil, nil)

	if err := runner.Execute(context.Background(), "task-1"); err == nil {
		t.Fatal("store failures must propagate for redelivery")
	}
	if store.failed || store.completed {
		t.Fatal("no terminal state may be recorded")
	}
}

func TestExecuteFailsDeliveryWhenUploadBreaks(t *testing.T) {
	store := newTaskStoreStub(testTask(models.ProcessingOptions{}))
	script := &providerScript{}
	artifacts := &artifactStoreStub{err: errors.New("bucket gone")}

	runner := newTestRunner(t, store, script, nil, artifacts)

	if err := runner.Execute(context.Background(), "task-1"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if !store.failed {
		t.Fatal("task must fail")
	}
	if got := store.failMessage; got[:14] != "DeliveryFailed" {
		t.Fatalf("unexpected failure message %q", got)
	}
}

type queueStub struct {
	mu     sync.Mutex
	refs   []queue.Ref
	acked  []queue.Ref
	nacked []queue.Ref
}

func (q *queueStub) Enqueue(ctx context.Context, ref queue.Ref) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.refs = append(q.refs, ref)
	return nil
}

func (q *queueStub) Claim(ctx context.Context, leaseTTL time.Duration) (queue.Ref, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.refs) == 0 {
		return queue.Ref{}, false, nil
	}
	ref := q.refs[0]
	q.refs = q.refs[1:]
	return ref, true, nil
}

func (q *queueStub) Ack(ctx context.Context, ref queue.Ref) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, ref)
	return nil
}

func (q *queueStub) Nack(ctx context.Context, ref queue.Ref) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nacked = append(q.nacked, ref)
	return nil
}

func (q *queueStub) RequeueExpired(ctx context.Context, now time.Time) (int, error) {
	return 0, nil
}

func (q *queueStub) Len(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.refs)), nil
}

func (q *queueStub) ackedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.acked)
}

func TestPoolProcessesAndAcks(t *testing.T) {
	store := newTaskStoreStub(testTask(models.ProcessingOptions{}))
	script := &providerScript{}
	runner := newTestRunner(t, store, script, nil, nil)

	q := &queueStub{}
	ref := queue.NewRef(models.Task{ID: "task-1", Priority: 3}, time.Now())
	if err := q.Enqueue(context.Background(), ref); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pool := NewPool(q, runner, PoolConfig{
		Workers:       1,
		ClaimInterval: time.Millisecond,
		LeaseTTL:      time.Minute,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	deadline := time.Now().Add(5 * time.Second)
	for q.ackedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if q.ackedCount() != 1 {
		t.Fatalf("expected 1 ack, got %d", q.ackedCount())
	}
	if !store.completed {
		t.Fatal("task must be completed")
	}
}

type panickingFetcher struct{ providerScript }

func (p *panickingFetcher) Fetch(ctx context.Context, input models.InputDescriptor, destDir string) (string, error) {
	panic("provider bug")
}

func TestPoolRecoversFromPanics(t *testing.T) {
	store := newTaskStoreStub(testTask(models.ProcessingOptions{}))
	script := &panickingFetcher{}

	providers := Providers{
		Fetcher:     script,
		Transcriber: &script.providerScript,
		Translator:  &script.providerScript,
		Synthesizer: &script.providerScript,
		Renderer:    &script.providerScript,
		Artifacts:   &artifactStoreStub{},
	}
	users := &userStoreStub{user: models.User{ID: "user-1", Tier: models.TierFree}}
	runner := NewRunner(store, users, providers, RunnerConfig{
		WorkDir:         t.TempDir(),
		StageAttempts:   1,
		StageRetryDelay: time.Millisecond,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	q := &queueStub{}
	if err := q.Enqueue(context.Background(), queue.NewRef(models.Task{ID: "task-1", Priority: 3}, time.Now())); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	pool := NewPool(q, runner, PoolConfig{
		Workers:       1,
		ClaimInterval: time.Millisecond,
		LeaseTTL:      time.Minute,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	deadline := time.Now().Add(5 * time.Second)
	for q.ackedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if q.ackedCount() != 1 {
		t.Fatalf("panicked task must still be acked, got %d acks", q.ackedCount())
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if !store.failed || store.failMessage != CodeInternalError {
		t.Fatalf("expected InternalError failure, got failed=%v message=%q", store.failed, store.failMessage)
	}
}

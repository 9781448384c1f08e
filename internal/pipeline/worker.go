package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/babymaxMAX/autosub/internal/queue"
)

// PoolConfig controls the concurrency characteristics of the worker pool.
type PoolConfig struct {
	Workers       int
	ClaimInterval time.Duration
	LeaseTTL      time.Duration
}

// Pool claims queued tasks and drives them through the pipeline runner. A
// lease reaper returns expired claims to the pending set so crashed workers
// never strand a task.
type Pool struct {
	queue  queue.TaskQueue
	runner *Runner
	cfg    PoolConfig
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewPool constructs the pool and starts its workers and lease reaper.
func NewPool(q queue.TaskQueue, runner *Runner, cfg PoolConfig, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = 500 * time.Millisecond
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 45 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		queue:  q,
		runner: runner,
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	p.wg.Add(cfg.Workers + 1)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker(i)
	}
	go p.reaper()

	return p
}

// Shutdown cancels the pool context and waits for the worker goroutines to
// exit. In-flight executions are cut short rather than drained; their
// unacked leases expire and the tasks are redelivered elsewhere.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.once.Do(p.cancel)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		ref, ok, err := p.queue.Claim(p.ctx, p.cfg.LeaseTTL)
		if err != nil {
			if p.ctx.Err() != nil {
				return
			}
			p.logger.Error("claim task", "worker", id, "error", err)
			p.sleep(p.cfg.ClaimInterval)
			continue
		}
		if !ok {
			p.sleep(p.cfg.ClaimInterval)
			continue
		}

		p.handle(ref)
	}
}

func (p *Pool) handle(ref queue.Ref) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline panicked", "taskId", ref.TaskID, "panic", r)
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			p.runner.FailInternal(ctx, ref.TaskID)
			p.ack(ref)
		}
	}()

	if err := p.runner.Execute(p.ctx, ref.TaskID); err != nil {
		// The task never reached a terminal state; keep the claim and let
		// the lease expire so another worker retries the whole attempt.
		p.logger.Error("pipeline attempt failed", "taskId", ref.TaskID, "error", err)
		return
	}

	p.ack(ref)
}

func (p *Pool) ack(ref queue.Ref) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.queue.Ack(ctx, ref); err != nil {
		p.logger.Error("ack task", "taskId", ref.TaskID, "error", err)
	}
}

// reaper periodically returns expired leases to the pending set.
func (p *Pool) reaper() {
	defer p.wg.Done()

	interval := p.cfg.LeaseTTL / 4
	if interval < time.Second {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			requeued, err := p.queue.RequeueExpired(p.ctx, time.Now())
			if err != nil {
				if p.ctx.Err() == nil {
					p.logger.Error("requeue expired leases", "error", err)
				}
				continue
			}
			if requeued > 0 {
				p.logger.Warn("requeued expired leases", "count", requeued)
			}
		}
	}
}

func (p *Pool) sleep(d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-p.ctx.Done():
	case <-timer.C:
	}
}

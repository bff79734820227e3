package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
)

// Pool runs Concurrency worker goroutines, each independently executing
// the claim/lease/execute/report loop against the shared store. Workers
// coordinate only through the store; there is no in-process shared
// mutable state between them.
type Pool struct {
	client        redis.UniversalClient
	engine        *Engine
	registry      TaskRegistry
	logger        *slog.Logger
	concurrency   int
	pollInterval  time.Duration
	leaseDuration time.Duration
}

// NewPool builds a worker Pool. A nil logger disables logging.
func NewPool(client redis.UniversalClient, engine *Engine, registry TaskRegistry, logger *slog.Logger, concurrency int, pollInterval, leaseDuration time.Duration) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	if leaseDuration <= 0 {
		leaseDuration = 30 * time.Second
	}
	return &Pool{
		client:        client,
		engine:        engine,
		registry:      registry,
		logger:        logger,
		concurrency:   concurrency,
		pollInterval:  pollInterval,
		leaseDuration: leaseDuration,
	}
}

// Run starts all workers and blocks until ctx is canceled.
func (p *Pool) Run(ctx context.Context) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown-host"
	}
	pid := os.Getpid()

	done := make(chan struct{}, p.concurrency)
	for n := 0; n < p.concurrency; n++ {
		workerID := fmt.Sprintf("%s-%d-%d", hostname, pid, n)
		go func() {
			defer func() { done <- struct{}{} }()
			p.runOne(ctx, workerID)
		}()
	}
	for n := 0; n < p.concurrency; n++ {
		<-done
	}
}

func (p *Pool) runOne(ctx context.Context, workerID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		jobID, err := p.client.SPop(ctx, readyIndexKey).Result()
		if errors.Is(err, redis.Nil) {
			if sleepErr := sleepWithContext(ctx, p.pollInterval); sleepErr != nil {
				return
			}
			continue
		}
		if err != nil {
			p.log("pop ready job failed", workerID, "", err)
			if sleepErr := sleepWithContext(ctx, p.pollInterval); sleepErr != nil {
				return
			}
			continue
		}

		p.handle(ctx, workerID, jobID)
	}
}

func (p *Pool) handle(ctx context.Context, workerID, jobID string) {
	committed, err := p.engine.Lease(ctx, jobID, workerID, p.leaseDuration)
	if err != nil {
		p.log("lease failed", workerID, jobID, err)
		return
	}
	if !committed {
		// Another worker (or the reclaimer) already moved this job out of
		// queued. Re-add it so a worker that still has a legitimate claim
		// can pick it up; this is the only index write a worker makes
		// directly, and it's safe because lease is the sole authority that
		// actually moves a job out of queued.
		if err := p.client.SAdd(ctx, readyIndexKey, jobID).Err(); err != nil {
			p.log("re-add after lost lease race failed", workerID, jobID, err)
		}
		return
	}

	rec, ok, err := p.engine.GetRecord(ctx, jobID)
	if err != nil {
		p.log("re-read after lease failed", workerID, jobID, err)
		return
	}
	if !ok {
		return
	}

	fn, found := p.registry.Resolve(rec.Task)
	if !found {
		if _, err := p.engine.FailPermanent(ctx, jobID, (&ErrTaskUnknown{Task: rec.Task}).Error()); err != nil {
			p.log("fail_permanent (unknown task) failed", workerID, jobID, err)
		}
		return
	}

	runErr := fn(ctx, rec.Payload)
	if runErr == nil {
		if _, err := p.engine.Complete(ctx, jobID); err != nil {
			p.log("complete failed", workerID, jobID, err)
		}
		return
	}

	if rec.Attempts <= rec.MaxRetries {
		if _, err := p.engine.RequeueForRetry(ctx, jobID, runErr.Error()); err != nil {
			p.log("requeue_for_retry failed", workerID, jobID, err)
		}
		return
	}
	if _, err := p.engine.FailPermanent(ctx, jobID, runErr.Error()); err != nil {
		p.log("fail_permanent failed", workerID, jobID, err)
	}
}

func (p *Pool) log(msg, workerID, jobID string, err error) {
	if p.logger == nil {
		return
	}
	p.logger.Warn(msg, "worker_id", workerID, "job_id", jobID, "error", err)
}

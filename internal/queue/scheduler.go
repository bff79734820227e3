package queue

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Scheduler runs the promote-then-reclaim tick described in the component
// design: due-scheduled jobs move to ready, and expired leases are either
// retried with backoff or permanently failed.
type Scheduler struct {
	client           redis.UniversalClient
	engine           *Engine
	clock            Clock
	logger           *slog.Logger
	promoteBatchSize int
	reclaimBatchSize int
}

// NewScheduler builds a Scheduler. A nil logger disables logging.
func NewScheduler(client redis.UniversalClient, engine *Engine, clock Clock, logger *slog.Logger, promoteBatchSize, reclaimBatchSize int) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	if promoteBatchSize < 1 {
		promoteBatchSize = 100
	}
	if reclaimBatchSize < 1 {
		reclaimBatchSize = 100
	}
	return &Scheduler{
		client:           client,
		engine:           engine,
		clock:            clock,
		logger:           logger,
		promoteBatchSize: promoteBatchSize,
		reclaimBatchSize: reclaimBatchSize,
	}
}

// Tick performs one promote pass followed by one reclaim pass, each bounded
// by its configured batch size so a single tick stays short.
func (s *Scheduler) Tick(ctx context.Context) error {
	if err := s.promoteDue(ctx); err != nil {
		return err
	}
	return s.reclaimExpiredLeases(ctx)
}

func (s *Scheduler) promoteDue(ctx context.Context) error {
	nowMs := s.clock.NowMs()
	ids, err := s.client.ZRangeByScore(ctx, scheduledIndexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(nowMs, 10),
		Count: int64(s.promoteBatchSize),
	}).Result()
	if err != nil {
		return err
	}

	for _, id := range ids {
		committed, err := s.engine.Enqueue(ctx, id)
		if err != nil {
			s.log("promote failed", id, err)
			continue
		}
		if committed {
			s.log("promoted", id, nil)
		}
	}
	return nil
}

func (s *Scheduler) reclaimExpiredLeases(ctx context.Context) error {
	nowMs := s.clock.NowMs()
	ids, err := s.client.ZRangeByScore(ctx, leaseIndexKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(nowMs, 10),
		Count: int64(s.reclaimBatchSize),
	}).Result()
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := s.reclaimOne(ctx, id); err != nil {
			s.log("reclaim failed", id, err)
		}
	}
	return nil
}

func (s *Scheduler) reclaimOne(ctx context.Context, jobID string) error {
	rec, ok, err := s.engine.GetRecord(ctx, jobID)
	if err != nil {
		return err
	}
	if !ok || rec.State != StateRunning {
		// Stale index entry: the job already moved on (e.g. completed
		// between the ZRangeByScore scan and this read). Nothing to do.
		return nil
	}

	if rec.Attempts > rec.MaxRetries {
		committed, err := s.engine.FailPermanent(ctx, jobID, "lease expired; retries exhausted")
		if err == nil && committed {
			s.log("lease expired, retries exhausted", jobID, nil)
		}
		return err
	}

	committed, err := s.engine.requeueWithBackoff(ctx, jobID, "lease expired")
	if err == nil && committed {
		s.log("lease expired, rescheduled with backoff", jobID, nil)
	}
	return err
}

func (s *Scheduler) log(msg, jobID string, err error) {
	if s.logger == nil {
		return
	}
	if err != nil {
		s.logger.Warn(msg, "job_id", jobID, "error", err)
		return
	}
	s.logger.Info(msg, "job_id", jobID)
}

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// indexKind names one of the three secondary indices.
type indexKind int

const (
	indexScheduled indexKind = iota
	indexReady
	indexLease
)

// indexTarget is the "index delta" value from the design notes: a
// removal or addition tagged by which index it applies to, and — for the
// two sorted-set indices — how to compute the score from the record after
// mutate has run. There are no higher-order pre/post-op callbacks; every
// transition in this file builds one of these declaratively.
type indexTarget struct {
	kind  indexKind
	score func(JobRecord) float64 // unused for indexReady
}

// transitionTable is the legal (from, to) relation from the component
// design, encoded as data rather than scattered conditionals. running ->
// scheduled is the reclaimer's extension to the table; it is reachable
// only because requeueWithBackoff is the sole caller that requests it, not
// because of any additional guard here.
var transitionTable = map[State]map[State]bool{
	StateScheduled: {StateQueued: true, StateCanceled: true},
	StateQueued:    {StateRunning: true, StateCanceled: true},
	StateRunning:   {StateCompleted: true, StateFailed: true, StateScheduled: true},
}

func legalTransition(from, to State) bool {
	return transitionTable[from][to]
}

// Engine is the sole writer of job state. Every mutation of a job record or
// its index memberships flows through atomicTransition.
type Engine struct {
	client       redis.UniversalClient
	clock        Clock
	maxBackoffMs int64
}

// NewEngine builds an Engine. maxBackoffMs caps the exponential backoff
// computed for reclaimed/retried jobs; a value <= 0 disables the cap.
func NewEngine(client redis.UniversalClient, clock Clock, maxBackoffMs int64) *Engine {
	if clock == nil {
		clock = RealClock{}
	}
	return &Engine{client: client, clock: clock, maxBackoffMs: maxBackoffMs}
}

// Schedule creates a job record in state scheduled and indexes it by
// run_at_ms. There is no prior state to watch, so this writes the full hash
// and the index entry in one transaction rather than going through
// atomicTransition. Calling Schedule twice with the same jobID is
// undefined, per the submission interface contract: last-write-wins on the
// hash, and the index entry duplicates harmlessly.
func (e *Engine) Schedule(ctx context.Context, jobID, task string, payload json.RawMessage, runAtMs int64, maxRetries int, backoffBaseMs int64) error {
	now := e.clock.NowMs()
	if runAtMs == 0 {
		runAtMs = now
	}
	rec := JobRecord{
		ID:            jobID,
		State:         StateScheduled,
		Task:          task,
		Payload:       payload,
		MaxRetries:    maxRetries,
		BackoffBaseMs: backoffBaseMs,
		RunAtMs:       runAtMs,
		CreatedAtMs:   now,
		UpdatedAtMs:   now,
	}

	_, err := e.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, jobKey(jobID), rec.encode())
		pipe.ZAdd(ctx, scheduledIndexKey, redis.Z{Score: float64(runAtMs), Member: jobID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", jobID, err)
	}
	return nil
}

// Enqueue promotes a due scheduled job to ready. Called by the scheduler
// tick's promote pass.
func (e *Engine) Enqueue(ctx context.Context, jobID string) (bool, error) {
	return e.atomicTransition(ctx, jobID, StateScheduled, StateQueued,
		&indexTarget{kind: indexScheduled},
		&indexTarget{kind: indexReady},
		func(*JobRecord) {},
	)
}

// Lease grants a worker exclusive custody of a ready job for leaseDuration.
// attempts is incremented here, not by the worker, so every execution
// attempt is counted including ones that follow a reclaimed lease.
func (e *Engine) Lease(ctx context.Context, jobID, workerID string, leaseDuration time.Duration) (bool, error) {
	leaseExpiresMs := e.clock.NowMs() + leaseDuration.Milliseconds()
	return e.atomicTransition(ctx, jobID, StateQueued, StateRunning,
		&indexTarget{kind: indexReady},
		&indexTarget{kind: indexLease, score: func(JobRecord) float64 { return float64(leaseExpiresMs) }},
		func(r *JobRecord) {
			r.LeaseOwner = workerID
			r.LeaseExpiresMs = leaseExpiresMs
			r.Attempts++
		},
	)
}

// Complete marks a leased job as successfully finished.
func (e *Engine) Complete(ctx context.Context, jobID string) (bool, error) {
	return e.atomicTransition(ctx, jobID, StateRunning, StateCompleted,
		&indexTarget{kind: indexLease},
		nil,
		func(r *JobRecord) {
			r.LeaseOwner = ""
			r.LeaseExpiresMs = 0
		},
	)
}

// FailPermanent marks a leased job as terminally failed, recording the
// error that ended it.
func (e *Engine) FailPermanent(ctx context.Context, jobID, lastError string) (bool, error) {
	return e.atomicTransition(ctx, jobID, StateRunning, StateFailed,
		&indexTarget{kind: indexLease},
		nil,
		func(r *JobRecord) {
			r.LeaseOwner = ""
			r.LeaseExpiresMs = 0
			r.LastError = lastError
		},
	)
}

// RequeueForRetry routes a failed-but-retryable attempt back through the
// scheduled index with exponential backoff, exactly as the reclaimer does
// for expired leases (see scheduler.go) — both paths share
// requeueWithBackoff so retry semantics stay uniform regardless of whether
// the retry was triggered by a task error or a lease timeout.
func (e *Engine) RequeueForRetry(ctx context.Context, jobID, lastError string) (bool, error) {
	return e.requeueWithBackoff(ctx, jobID, lastError)
}

func (e *Engine) requeueWithBackoff(ctx context.Context, jobID, lastError string) (bool, error) {
	return e.atomicTransition(ctx, jobID, StateRunning, StateScheduled,
		&indexTarget{kind: indexLease},
		&indexTarget{kind: indexScheduled, score: func(r JobRecord) float64 { return float64(r.RunAtMs) }},
		func(r *JobRecord) {
			backoff := backoffMs(r.BackoffBaseMs, r.Attempts, e.maxBackoffMs)
			r.RunAtMs = e.clock.NowMs() + backoff
			r.LeaseOwner = ""
			r.LeaseExpiresMs = 0
			r.LastError = lastError
		},
	)
}

// Cancel attempts scheduled -> canceled first; if that is a no-op (the job
// had already left scheduled) it tries queued -> canceled. A running job
// cannot be canceled synchronously, per the concurrency model: both calls
// simply no-op in that case and the caller sees committed=false.
func (e *Engine) Cancel(ctx context.Context, jobID string) (bool, error) {
	committed, err := e.atomicTransition(ctx, jobID, StateScheduled, StateCanceled,
		&indexTarget{kind: indexScheduled},
		nil,
		func(*JobRecord) {},
	)
	if err != nil || committed {
		return committed, err
	}

	return e.atomicTransition(ctx, jobID, StateQueued, StateCanceled,
		&indexTarget{kind: indexReady},
		nil,
		func(*JobRecord) {},
	)
}

// GetRecord reads a job record directly, without a watch. Used by the
// scheduler to decide whether a reclaimed lease should retry or fail, and
// by the worker to re-read task/payload after a successful lease.
func (e *Engine) GetRecord(ctx context.Context, jobID string) (JobRecord, bool, error) {
	h, err := e.client.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return JobRecord{}, false, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if len(h) == 0 {
		return JobRecord{}, false, nil
	}
	rec, err := decodeJobRecord(h)
	if err != nil {
		return JobRecord{}, false, err
	}
	return rec, true, nil
}

// atomicTransition is the sole primitive that mutates a job record. It
// watches job:{id}, checks the expected state, applies the legal-transition
// table, and — within the same MULTI/EXEC as the hash write — applies the
// index removal and addition described by removeIdx/addIdx.
//
// RecordMissing and StateMismatch are not errors: the transition is
// considered lost to a race, and the method returns (false, nil).
// StoreConflict (a failed WATCH) is retried internally with a small bounded
// spin; if that budget is exhausted, redis.TxFailedErr is returned wrapped.
// IllegalTransition and StoreUnavailable are returned as errors.
func (e *Engine) atomicTransition(
	ctx context.Context,
	jobID string,
	from, to State,
	removeIdx, addIdx *indexTarget,
	mutate func(*JobRecord),
) (bool, error) {
	key := jobKey(jobID)
	const maxConflictRetries = 10
	backoff := time.Millisecond

	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		recordMissing := false
		stateMismatch := false

		txErr := e.client.Watch(ctx, func(tx *redis.Tx) error {
			h, err := tx.HGetAll(ctx, key).Result()
			if err != nil {
				return err
			}
			if len(h) == 0 {
				recordMissing = true
				return nil
			}

			rec, err := decodeJobRecord(h)
			if err != nil {
				return err
			}
			if rec.State != from {
				stateMismatch = true
				return nil
			}
			if !legalTransition(from, to) {
				return &ErrIllegalTransition{From: from, To: to}
			}

			mutate(&rec)
			rec.State = to
			rec.UpdatedAtMs = e.clock.NowMs()

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if removeIdx != nil {
					removeFromIndex(ctx, pipe, *removeIdx, jobID)
				}
				pipe.HSet(ctx, key, rec.encode())
				if from == StateRunning {
					// HSet only adds/overwrites the fields it's given; it never
					// deletes a field already present in the hash. Every
					// transition leaving running (complete, fail_permanent,
					// requeue/reclaim) must explicitly drop the lease fields so a
					// stale lease_owner/lease_expires_at_ms can't survive into a
					// non-running state, per invariant 2. Mirrors the source's
					// _clean_terminal_job hdel call.
					pipe.HDel(ctx, key, fieldLeaseOwner, fieldLeaseExpiresMs)
				}
				if addIdx != nil {
					addToIndex(ctx, pipe, *addIdx, jobID, rec)
				}
				return nil
			})
			return err
		}, key)

		switch {
		case txErr == nil:
			if recordMissing || stateMismatch {
				return false, nil
			}
			return true, nil
		case errors.Is(txErr, redis.TxFailedErr):
			if sleepErr := sleepWithContext(ctx, backoff); sleepErr != nil {
				return false, sleepErr
			}
			if backoff *= 2; backoff > 50*time.Millisecond {
				backoff = 50 * time.Millisecond
			}
			continue
		default:
			var illegal *ErrIllegalTransition
			if errors.As(txErr, &illegal) {
				return false, illegal
			}
			return false, fmt.Errorf("store unavailable: %w", txErr)
		}
	}

	return false, fmt.Errorf("job %s: exceeded retry budget on store conflict: %w", jobID, redis.TxFailedErr)
}

func removeFromIndex(ctx context.Context, pipe redis.Pipeliner, target indexTarget, jobID string) {
	switch target.kind {
	case indexScheduled:
		pipe.ZRem(ctx, scheduledIndexKey, jobID)
	case indexReady:
		pipe.SRem(ctx, readyIndexKey, jobID)
	case indexLease:
		pipe.ZRem(ctx, leaseIndexKey, jobID)
	}
}

func addToIndex(ctx context.Context, pipe redis.Pipeliner, target indexTarget, jobID string, rec JobRecord) {
	switch target.kind {
	case indexReady:
		pipe.SAdd(ctx, readyIndexKey, jobID)
	case indexScheduled:
		pipe.ZAdd(ctx, scheduledIndexKey, redis.Z{Score: target.score(rec), Member: jobID})
	case indexLease:
		pipe.ZAdd(ctx, leaseIndexKey, redis.Z{Score: target.score(rec), Member: jobID})
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

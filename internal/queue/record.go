package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// State is the authoritative job state. The legal transitions between
// states are enforced by the engine (see transitionTable in engine.go), not
// by this type.
type State string

const (
	StateScheduled State = "scheduled"
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

func (s State) isTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// JobRecord is the authoritative per-job entity. It is an immutable value:
// every transition produces a new JobRecord rather than mutating one in
// place, and the engine's atomic primitive is the only thing that commits a
// record to the store.
type JobRecord struct {
	ID              string
	State           State
	Task            string
	Payload         json.RawMessage
	Attempts        int
	MaxRetries      int
	BackoffBaseMs   int64
	RunAtMs         int64 // 0 means "not set"
	CreatedAtMs     int64
	UpdatedAtMs     int64
	LeaseOwner      string // present only while State == StateRunning
	LeaseExpiresMs  int64  // present only while State == StateRunning
	LastError       string
}

// hash field names used on the wire. Kept separate from the Go field names
// so the codec has one obvious place to look when the record shape changes.
const (
	fieldID             = "id"
	fieldState          = "state"
	fieldTask           = "task"
	fieldPayload        = "payload"
	fieldAttempts       = "attempts"
	fieldMaxRetries     = "max_retries"
	fieldBackoffBaseMs  = "backoff_base_ms"
	fieldRunAtMs        = "run_at_ms"
	fieldCreatedAtMs    = "created_at_ms"
	fieldUpdatedAtMs    = "updated_at_ms"
	fieldLeaseOwner     = "lease_owner"
	fieldLeaseExpiresMs = "lease_expires_at_ms"
	fieldLastError      = "last_error"
)

// encode turns a JobRecord into the map[string]string shape that HSet
// writes as a Redis hash. Fields that are only meaningful in certain states
// (lease_owner, lease_expires_at_ms, last_error) are omitted rather than
// written empty when the record doesn't carry them. HSet only adds/
// overwrites the fields given to it, so omission alone does not clear a
// stale value already present in the hash from an earlier transition; the
// engine is responsible for issuing an explicit HDel for the lease fields
// whenever a transition leaves the running state (see atomicTransition).
func (r JobRecord) encode() map[string]string {
	h := map[string]string{
		fieldID:            r.ID,
		fieldState:         string(r.State),
		fieldTask:          r.Task,
		fieldPayload:       string(r.Payload),
		fieldAttempts:      strconv.Itoa(r.Attempts),
		fieldMaxRetries:    strconv.Itoa(r.MaxRetries),
		fieldBackoffBaseMs: strconv.FormatInt(r.BackoffBaseMs, 10),
		fieldCreatedAtMs:   strconv.FormatInt(r.CreatedAtMs, 10),
		fieldUpdatedAtMs:   strconv.FormatInt(r.UpdatedAtMs, 10),
	}
	if r.RunAtMs != 0 {
		h[fieldRunAtMs] = strconv.FormatInt(r.RunAtMs, 10)
	}
	if r.LeaseOwner != "" {
		h[fieldLeaseOwner] = r.LeaseOwner
	}
	if r.LeaseExpiresMs != 0 {
		h[fieldLeaseExpiresMs] = strconv.FormatInt(r.LeaseExpiresMs, 10)
	}
	if r.LastError != "" {
		h[fieldLastError] = r.LastError
	}
	return h
}

// decodeJobRecord parses a hash returned by HGetAll. Unknown extra fields
// are tolerated silently (forward compatibility, per the key schema design);
// missing optional fields simply leave the corresponding struct field zero.
func decodeJobRecord(h map[string]string) (JobRecord, error) {
	r := JobRecord{
		ID:         h[fieldID],
		State:      State(h[fieldState]),
		Task:       h[fieldTask],
		Payload:    json.RawMessage(h[fieldPayload]),
		LeaseOwner: h[fieldLeaseOwner],
		LastError:  h[fieldLastError],
	}

	var err error
	if r.Attempts, err = parseInt(h[fieldAttempts]); err != nil {
		return JobRecord{}, fmt.Errorf("decode %s: %w", fieldAttempts, err)
	}
	if r.MaxRetries, err = parseInt(h[fieldMaxRetries]); err != nil {
		return JobRecord{}, fmt.Errorf("decode %s: %w", fieldMaxRetries, err)
	}
	if r.BackoffBaseMs, err = parseInt64(h[fieldBackoffBaseMs]); err != nil {
		return JobRecord{}, fmt.Errorf("decode %s: %w", fieldBackoffBaseMs, err)
	}
	if r.RunAtMs, err = parseInt64Optional(h[fieldRunAtMs]); err != nil {
		return JobRecord{}, fmt.Errorf("decode %s: %w", fieldRunAtMs, err)
	}
	if r.CreatedAtMs, err = parseInt64(h[fieldCreatedAtMs]); err != nil {
		return JobRecord{}, fmt.Errorf("decode %s: %w", fieldCreatedAtMs, err)
	}
	if r.UpdatedAtMs, err = parseInt64(h[fieldUpdatedAtMs]); err != nil {
		return JobRecord{}, fmt.Errorf("decode %s: %w", fieldUpdatedAtMs, err)
	}
	if r.LeaseExpiresMs, err = parseInt64Optional(h[fieldLeaseExpiresMs]); err != nil {
		return JobRecord{}, fmt.Errorf("decode %s: %w", fieldLeaseExpiresMs, err)
	}

	return r, nil
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func parseInt64(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func parseInt64Optional(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

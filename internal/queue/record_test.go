package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobRecordCodecRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		rec  JobRecord
	}{
		{
			name: "scheduled, no lease fields",
			rec: JobRecord{
				ID:            "job-1",
				State:         StateScheduled,
				Task:          "echo",
				Payload:       json.RawMessage(`{"m":"hi"}`),
				Attempts:      0,
				MaxRetries:    5,
				BackoffBaseMs: 500,
				RunAtMs:       1000,
				CreatedAtMs:   1000,
				UpdatedAtMs:   1000,
			},
		},
		{
			name: "running, with lease fields and last_error",
			rec: JobRecord{
				ID:             "job-2",
				State:          StateRunning,
				Task:           "flaky",
				Payload:        json.RawMessage(`{}`),
				Attempts:       2,
				MaxRetries:     3,
				BackoffBaseMs:  100,
				CreatedAtMs:    1000,
				UpdatedAtMs:    2000,
				LeaseOwner:     "host-1-99-0",
				LeaseExpiresMs: 31000,
				LastError:      "boom",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := tt.rec.encode()
			got, err := decodeJobRecord(h)
			require.NoError(t, err)
			assert.Equal(t, tt.rec, got)
		})
	}
}

func TestDecodeJobRecordTolerantOfUnknownFields(t *testing.T) {
	h := JobRecord{ID: "job-3", State: StateQueued, CreatedAtMs: 1, UpdatedAtMs: 1}.encode()
	h["some_future_field"] = "ignored"

	rec, err := decodeJobRecord(h)
	require.NoError(t, err)
	assert.Equal(t, "job-3", rec.ID)
	assert.Equal(t, StateQueued, rec.State)
}

func TestLegalTransitionTable(t *testing.T) {
	cases := []struct {
		from, to State
		legal    bool
	}{
		{StateScheduled, StateQueued, true},
		{StateScheduled, StateCanceled, true},
		{StateScheduled, StateRunning, false},
		{StateQueued, StateRunning, true},
		{StateQueued, StateCanceled, true},
		{StateQueued, StateScheduled, false},
		{StateRunning, StateCompleted, true},
		{StateRunning, StateFailed, true},
		{StateRunning, StateScheduled, true},
		{StateRunning, StateQueued, false},
		{StateCompleted, StateScheduled, false},
		{StateFailed, StateQueued, false},
		{StateCanceled, StateQueued, false},
	}

	for _, c := range cases {
		assert.Equal(t, c.legal, legalTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestBackoffMsCapped(t *testing.T) {
	assert.Equal(t, int64(500), backoffMs(500, 1, 60000))
	assert.Equal(t, int64(1000), backoffMs(500, 2, 60000))
	assert.Equal(t, int64(2000), backoffMs(500, 3, 60000))
	assert.Equal(t, int64(60000), backoffMs(500, 20, 60000))
	assert.Equal(t, int64(8000), backoffMs(500, 5, 0))
}

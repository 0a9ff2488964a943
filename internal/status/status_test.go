package status_test

import (
	"encoding/json"
	"testing"

	"github.com/diagnostiq/tracker/internal/model"
	"github.com/diagnostiq/tracker/internal/status"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		record model.JobRecord
		want   status.State
	}{
		{
			name:   "submitted",
			record: model.JobRecord{RawStatus: "Submitted"},
			want:   status.State{Kind: status.Submitted},
		},
		{
			name:   "queued",
			record: model.JobRecord{RawStatus: "Queued"},
			want:   status.State{Kind: status.Queued},
		},
		{
			name:   "processing",
			record: model.JobRecord{RawStatus: "Processing"},
			want:   status.State{Kind: status.Processing},
		},
		{
			name:   "payload wins over stale sentinel",
			record: model.JobRecord{RawStatus: "Processing", Payload: json.RawMessage(`{"ok":true}`)},
			want:   status.State{Kind: status.Completed},
		},
		{
			name:   "payload wins over contradictory failure",
			record: model.JobRecord{RawStatus: "failed_x", Payload: json.RawMessage(`{}`)},
			want:   status.State{Kind: status.Completed},
		},
		{
			name:   "completed sentinel without payload",
			record: model.JobRecord{RawStatus: "completed"},
			want:   status.State{Kind: status.Completed},
		},
		{
			name:   "failed with reason",
			record: model.JobRecord{RawStatus: "failed_timeout"},
			want:   status.State{Kind: status.Failed, Reason: "timeout"},
		},
		{
			name:   "failed with empty reason",
			record: model.JobRecord{RawStatus: "failed_"},
			want:   status.State{Kind: status.Failed, Reason: ""},
		},
		{
			name:   "empty status",
			record: model.JobRecord{},
			want:   status.State{Kind: status.Unknown},
		},
		{
			name:   "free text error message",
			record: model.JobRecord{RawStatus: "model unavailable, try later"},
			want:   status.State{Kind: status.Failed, Reason: "model unavailable, try later"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, status.Classify(tc.record))
			// referentially pure: second call must agree
			require.Equal(t, tc.want, status.Classify(tc.record))
		})
	}
}

func TestTerminal(t *testing.T) {
	t.Parallel()
	require.True(t, status.State{Kind: status.Completed}.Terminal())
	require.True(t, status.State{Kind: status.Failed}.Terminal())
	require.True(t, status.State{Kind: status.Duplicate}.Terminal())
	require.False(t, status.State{Kind: status.Queued}.Terminal())
	require.False(t, status.State{Kind: status.Processing}.Terminal())
	require.False(t, status.State{Kind: status.Unknown}.Terminal())
}

func TestWarnings(t *testing.T) {
	t.Parallel()

	t.Run("save error is a warning not a state", func(t *testing.T) {
		t.Parallel()
		rec := model.JobRecord{
			Payload:   json.RawMessage(`{"n":1}`),
			SaveError: "disk full",
		}
		require.Equal(t, status.State{Kind: status.Completed}, status.Classify(rec))
		warns := status.Warnings(rec)
		require.Len(t, warns, 1)
		require.Contains(t, warns[0], "disk full")
	})

	t.Run("pending record may carry a save error", func(t *testing.T) {
		t.Parallel()
		rec := model.JobRecord{RawStatus: "Queued", SaveError: "flush failed"}
		require.Equal(t, status.State{Kind: status.Queued}, status.Classify(rec))
		require.NotEmpty(t, status.Warnings(rec))
	})

	t.Run("no warnings", func(t *testing.T) {
		t.Parallel()
		require.Nil(t, status.Warnings(model.JobRecord{RawStatus: "Queued"}))
	})
}

package history_test

import (
	"path/filepath"
	"testing"

	"github.com/diagnostiq/tracker/internal/history"
	"github.com/diagnostiq/tracker/internal/model"

	"github.com/stretchr/testify/require"
)

func TestHistoryRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	db, err := history.InitDB(ctx, filepath.Join(t.TempDir(), "tracker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	sub := model.Submission{ID: "job-1", Name: "scan.png", Digest: "d1", Kind: "analysis"}
	require.NoError(t, history.Record(ctx, db, sub))

	// recording the same open job again is a no-op
	require.NoError(t, history.Record(ctx, db, sub))

	row, err := history.Get(ctx, db, "job-1")
	require.NoError(t, err)
	require.Equal(t, "open", row.State)
	require.Equal(t, "d1", row.Digest)
	require.False(t, row.SubmittedAt.IsZero())

	require.NoError(t, history.Finish(ctx, db, "job-1", "completed"))
	require.ErrorIs(t, history.Finish(ctx, db, "job-1", "failed"), history.ErrAlreadyFinished)
	require.ErrorIs(t, history.Record(ctx, db, sub), history.ErrAlreadyFinished)

	row, err = history.Get(ctx, db, "job-1")
	require.NoError(t, err)
	require.Equal(t, "completed", row.State)
}

func TestHistoryAll(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	db, err := history.InitDB(ctx, filepath.Join(t.TempDir(), "tracker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	subs, err := history.All(ctx, db)
	require.NoError(t, err)
	require.Empty(t, subs)

	require.NoError(t, history.Record(ctx, db, model.Submission{ID: "a", Name: "a.png", Digest: "da", Kind: "analysis"}))
	require.NoError(t, history.Record(ctx, db, model.Submission{ID: "b", Name: "b.png", Digest: "db", Kind: "analysis"}))

	subs, err = history.All(ctx, db)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	require.Equal(t, "a", subs[0].ID)
	require.Equal(t, "b", subs[1].ID)
}

func TestHistoryNotFound(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	db, err := history.InitDB(ctx, filepath.Join(t.TempDir(), "tracker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = history.Get(ctx, db, "nope")
	require.ErrorIs(t, err, history.ErrNotFound)
	require.ErrorIs(t, history.Finish(ctx, db, "nope", "completed"), history.ErrNotFound)
	require.ErrorIs(t, history.Delete(ctx, db, "nope"), history.ErrNotFound)
}

func TestHistoryDelete(t *testing.T) {
	t.Parallel()
	ctx := t.Context()
	db, err := history.InitDB(ctx, filepath.Join(t.TempDir(), "tracker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, history.Record(ctx, db, model.Submission{ID: "a", Name: "a.png", Digest: "da", Kind: "analysis"}))
	require.NoError(t, history.Delete(ctx, db, "a"))
	_, err = history.Get(ctx, db, "a")
	require.ErrorIs(t, err, history.ErrNotFound)
}

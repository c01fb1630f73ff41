package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kptv-player/work/classify"
	"kptv-player/work/session"
)

var _ session.FailureRecorder = (*DB)(nil)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "player.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "player.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestFailureJournal(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, db.RecordFailure(ctx, session.Failure{
		ItemID:         "a",
		ItemName:       "News",
		Transport:      classify.HLS,
		Kind:           session.ErrorSinkLoad,
		Reason:         session.ReasonBothOriginsFailed,
		Message:        "Playback failed on both the proxy and the direct origin.",
		UsingProxy:     false,
		ProxyAttempted: true,
		At:             base,
	}))
	require.NoError(t, db.RecordFailure(ctx, session.Failure{
		ItemID: "a",
		Reason: session.ReasonNoAlternateOrigin,
		At:     base.Add(time.Minute),
	}))
	require.NoError(t, db.RecordFailure(ctx, session.Failure{
		ItemID: "b",
		Reason: session.ReasonYoutubeFailed,
		At:     base.Add(2 * time.Minute),
	}))

	all, err := db.ListFailures(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "b", all[0].ItemID)

	rows, err := db.ListFailures(ctx, "a", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	oldest := rows[1]
	assert.Equal(t, "News", oldest.ItemName)
	assert.Equal(t, classify.HLS, oldest.Transport)
	assert.Equal(t, session.ErrorSinkLoad, oldest.ErrorKind)
	assert.Equal(t, session.ReasonBothOriginsFailed, oldest.Reason)
	assert.True(t, oldest.ProxyAttempted)
	assert.False(t, oldest.UsingProxy)
	assert.True(t, base.Equal(oldest.FailedAt))

	counts, err := db.FailureCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[session.ReasonYoutubeFailed])

	n, err := db.ClearFailures(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["playback_failures_count"])
}

func TestPruneFailures(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	require.NoError(t, db.RecordFailure(ctx, session.Failure{ItemID: "old", At: time.Now().Add(-48 * time.Hour)}))
	require.NoError(t, db.RecordFailure(ctx, session.Failure{ItemID: "new"}))

	n, err := db.PruneFailures(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	require.NoError(t, db.Vacuum(ctx))

	rows, err := db.ListFailures(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "new", rows[0].ItemID)
}

func TestBackup(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	require.NoError(t, db.RecordFailure(ctx, session.Failure{ItemID: "a"}))

	backup := filepath.Join(t.TempDir(), "backups", "copy.db")
	require.NoError(t, db.Backup(ctx, backup))

	copyDB, err := Open(backup)
	require.NoError(t, err)
	defer copyDB.Close()
	rows, err := copyDB.ListFailures(ctx, "a", 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

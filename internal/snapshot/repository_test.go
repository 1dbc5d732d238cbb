package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartcat/habitat-core/internal/infrastructure/database/dbtest"
)

func TestSQLiteRepository_SaveSnapshotPrunes(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(dbtest.Open(t).DB)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.SaveSnapshot(ctx, snapAt(i), 3))
	}

	rows, err := repo.ListSnapshots(ctx, "default", 10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.True(t, rows[0].Reading.Timestamp.Equal(snapAt(4).Reading.Timestamp))
	assert.True(t, rows[2].Reading.Timestamp.Equal(snapAt(2).Reading.Timestamp))
}

func TestSQLiteRepository_SaveSnapshotUpserts(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(dbtest.Open(t).DB)

	snap := snapAt(0)
	require.NoError(t, repo.SaveSnapshot(ctx, snap, 10))
	snap.Status.HeaterOn = true
	require.NoError(t, repo.SaveSnapshot(ctx, snap, 10))

	rows, err := repo.ListSnapshots(ctx, "default", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Status.HeaterOn)
}

func TestSQLiteRepository_SkipsMalformedRows(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)
	repo := NewSQLiteRepository(db.DB)

	require.NoError(t, repo.SaveSnapshot(ctx, snapAt(0), 10))
	_, err := db.ExecContext(ctx,
		`INSERT INTO snapshots (device_id, timestamp, snapshot_json, created_at) VALUES ('default', '2026-03-01T13:00:00.000000000Z', '{not json', '')`)
	require.NoError(t, err)

	rows, err := repo.ListSnapshotsSince(ctx, "default", t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSQLiteRepository_SettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewSQLiteRepository(dbtest.Open(t).DB)

	_, found, err := repo.GetSettings(ctx, "default")
	require.NoError(t, err)
	assert.False(t, found)

	s := DefaultSettings()
	s.AutoMode = false
	require.NoError(t, repo.SaveSettings(ctx, "default", s))
	require.NoError(t, repo.SaveSettings(ctx, "default", s))

	got, found, err := repo.GetSettings(ctx, "default")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, s, got)
}

func TestSQLiteRepository_SaveSnapshotRollsBackOnPruneFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO snapshots").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM snapshots").WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	repo := NewSQLiteRepository(db)
	err = repo.SaveSnapshot(context.Background(), snapAt(0), 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pruning snapshots")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRepository_QueryFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT snapshot_json FROM snapshots").WillReturnError(errors.New("disk I/O error"))

	repo := NewSQLiteRepository(db)
	_, err = repo.ListSnapshots(context.Background(), "default", 5)
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

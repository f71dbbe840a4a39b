package backup_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppongpan/Q-Collector-sub018/backup"
	"github.com/ppongpan/Q-Collector-sub018/schema"
)

func newStore(t *testing.T) (*schema.Driver, *backup.Store) {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "forms.db")
	d, err := schema.Open(ctx, path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	s, err := backup.NewStore(ctx, d)
	require.NoError(t, err)
	return d, s
}

var text = schema.PhysicalType{Name: "text", SQL: "text"}

func TestSnapshotAndRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d, s := newStore(t)

	require.NoError(t, d.CreateTable(ctx, "t_rt"))
	require.NoError(t, d.AddColumn(ctx, "t_rt", "c", text))
	_, err := d.DB().ExecContext(ctx, `insert into "t_rt" ("c") values ('x'), ('y'), ('z')`)
	require.NoError(t, err)

	rec, err := s.Snapshot(ctx, now, "form-1", "t_rt", "c", backup.KindAutoDelete)
	require.NoError(t, err)
	assert.Equal(t, 3, rec.RecordCount)

	require.NoError(t, d.DropColumn(ctx, "t_rt", "c"))
	require.NoError(t, d.AddColumn(ctx, "t_rt", "c", text))

	n, err := s.Restore(ctx, now, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rows, err := d.DB().QueryContext(ctx, `select "c" from "t_rt" order by "id"`)
	require.NoError(t, err)
	defer rows.Close()
	var got []string
	for rows.Next() {
		var v string
		require.NoError(t, rows.Scan(&v))
		got = append(got, v)
	}
	assert.Equal(t, []string{"x", "y", "z"}, got)
}

func TestRestoreSkipsMissingRows(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d, s := newStore(t)

	require.NoError(t, d.CreateTable(ctx, "t_skip"))
	require.NoError(t, d.AddColumn(ctx, "t_skip", "c", text))
	_, err := d.DB().ExecContext(ctx, `insert into "t_skip" ("c") values ('a'), ('b')`)
	require.NoError(t, err)

	rec, err := s.Snapshot(ctx, now, "form-1", "t_skip", "c", backup.KindManual)
	require.NoError(t, err)

	_, err = d.DB().ExecContext(ctx, `delete from "t_skip" where "id" = 1`)
	require.NoError(t, err)

	n, err := s.Restore(ctx, now, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRestoreExpiredBackupFails(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d, s := newStore(t)

	require.NoError(t, d.CreateTable(ctx, "t_exp"))
	require.NoError(t, d.AddColumn(ctx, "t_exp", "c", text))

	rec, err := s.Snapshot(ctx, now, "form-1", "t_exp", "c", backup.KindManual)
	require.NoError(t, err)

	future := now.Add(backup.Retention + time.Hour)
	_, err = s.Restore(ctx, future, rec.ID)
	assert.ErrorIs(t, err, backup.ErrBackupExpired)
}

func TestRestoreMissingColumnFails(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d, s := newStore(t)

	require.NoError(t, d.CreateTable(ctx, "t_col"))
	require.NoError(t, d.AddColumn(ctx, "t_col", "c", text))

	rec, err := s.Snapshot(ctx, now, "form-1", "t_col", "c", backup.KindManual)
	require.NoError(t, err)

	require.NoError(t, d.DropColumn(ctx, "t_col", "c"))

	_, err = s.Restore(ctx, now, rec.ID)
	assert.ErrorIs(t, err, backup.ErrColumnMissing)
}

func TestSweepDeletesExpired(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d, s := newStore(t)

	require.NoError(t, d.CreateTable(ctx, "t_sweep"))
	require.NoError(t, d.AddColumn(ctx, "t_sweep", "c", text))

	_, err := s.Snapshot(ctx, now, "form-1", "t_sweep", "c", backup.KindManual)
	require.NoError(t, err)

	future := now.Add(backup.Retention + time.Hour)
	deleted, err := s.Sweep(ctx, future)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	backups, err := s.List(ctx, future, "form-1", backup.FilterAll)
	require.NoError(t, err)
	assert.Empty(t, backups)
}

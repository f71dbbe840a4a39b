package formreg_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppongpan/Q-Collector-sub018/formreg"
	"github.com/ppongpan/Q-Collector-sub018/migration"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forms.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPutThenFieldByID(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	s, err := formreg.NewStore(ctx, db)
	require.NoError(t, err)

	f := migration.Field{ID: "f1", Title: "Email", Logical: migration.Email, DisplayOrder: 1}
	require.NoError(t, s.Put(ctx, "form1", f))

	got, ok, err := s.FieldByID(ctx, "form1", "f1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, f, got)
}

func TestFieldByIDMissingReturnsFalse(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	s, err := formreg.NewStore(ctx, db)
	require.NoError(t, err)

	_, ok, err := s.FieldByID(ctx, "form1", "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutUpsertsExistingField(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	s, err := formreg.NewStore(ctx, db)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "form1", migration.Field{ID: "f1", Title: "Old", Logical: migration.ShortAnswer, DisplayOrder: 1}))
	require.NoError(t, s.Put(ctx, "form1", migration.Field{ID: "f1", Title: "New", Logical: migration.Paragraph, DisplayOrder: 2}))

	got, ok, err := s.FieldByID(ctx, "form1", "f1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "New", got.Title)
	assert.Equal(t, migration.Paragraph, got.Logical)
	assert.Equal(t, 2, got.DisplayOrder)
}

func TestRemoveThenFieldByIDReturnsFalse(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	s, err := formreg.NewStore(ctx, db)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "form1", migration.Field{ID: "f1", Title: "Email", Logical: migration.Email, DisplayOrder: 1}))
	require.NoError(t, s.Remove(ctx, "form1", "f1"))

	_, ok, err := s.FieldByID(ctx, "form1", "f1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListOrdersByDisplayOrder(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	s, err := formreg.NewStore(ctx, db)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, "form1", migration.Field{ID: "f2", Title: "Second", Logical: migration.Number, DisplayOrder: 2}))
	require.NoError(t, s.Put(ctx, "form1", migration.Field{ID: "f1", Title: "First", Logical: migration.ShortAnswer, DisplayOrder: 1}))

	fields, err := s.List(ctx, "form1")
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "f1", fields[0].ID)
	assert.Equal(t, "f2", fields[1].ID)
}

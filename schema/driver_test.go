package schema_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppongpan/Q-Collector-sub018/schema"
)

func newDriver(t *testing.T) *schema.Driver {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "forms.db")
	d, err := schema.Open(ctx, path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

var text = schema.PhysicalType{Name: "text", SQL: "text"}
var numeric = schema.PhysicalType{Name: "numeric", SQL: "numeric"}

func TestAddColumnThenColumnExists(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t)
	require.NoError(t, d.CreateTable(ctx, "t_abc123"))

	require.NoError(t, d.AddColumn(ctx, "t_abc123", "a", text))

	exists, err := d.ColumnExists(ctx, "t_abc123", "a")
	require.NoError(t, err)
	assert.True(t, exists)

	err = d.AddColumn(ctx, "t_abc123", "a", text)
	assert.ErrorIs(t, err, schema.ErrColumnExists)
}

func TestDropColumnRequiresExisting(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t)
	require.NoError(t, d.CreateTable(ctx, "t_drop"))

	err := d.DropColumn(ctx, "t_drop", "nope")
	assert.ErrorIs(t, err, schema.ErrColumnMissing)

	require.NoError(t, d.AddColumn(ctx, "t_drop", "c", text))
	require.NoError(t, d.DropColumn(ctx, "t_drop", "c"))

	exists, err := d.ColumnExists(ctx, "t_drop", "c")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRenameColumn(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t)
	require.NoError(t, d.CreateTable(ctx, "t_rename"))
	require.NoError(t, d.AddColumn(ctx, "t_rename", "old", text))

	require.NoError(t, d.RenameColumn(ctx, "t_rename", "old", "new"))

	exists, err := d.ColumnExists(ctx, "t_rename", "new")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = d.ColumnExists(ctx, "t_rename", "old")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestModifyColumnTypePreservesData(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t)
	require.NoError(t, d.CreateTable(ctx, "t_modify"))
	require.NoError(t, d.AddColumn(ctx, "t_modify", "n", text))

	_, err := d.DB().ExecContext(ctx, `insert into "t_modify" ("n") values ('10'), ('20')`)
	require.NoError(t, err)

	require.NoError(t, d.ModifyColumnType(ctx, "t_modify", "n", numeric, `cast(%s as numeric)`))

	rows, err := d.DB().QueryContext(ctx, `select "n" from "t_modify" order by "id"`)
	require.NoError(t, err)
	defer rows.Close()

	var got []float64
	for rows.Next() {
		var v float64
		require.NoError(t, rows.Scan(&v))
		got = append(got, v)
	}
	assert.Equal(t, []float64{10, 20}, got)
}

func TestScanValidateFindsFirstInvalid(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t)
	require.NoError(t, d.CreateTable(ctx, "t_scan"))
	require.NoError(t, d.AddColumn(ctx, "t_scan", "n", text))

	_, err := d.DB().ExecContext(ctx, `insert into "t_scan" ("n") values ('10'), ('abc'), ('20')`)
	require.NoError(t, err)

	isNumeric := func(s string) bool {
		for _, r := range s {
			if r < '0' || r > '9' {
				return false
			}
		}
		return s != ""
	}

	ok, bad, err := d.ScanValidate(ctx, "t_scan", "n", isNumeric)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "abc", bad)
}

func TestInvalidIdentifierRejected(t *testing.T) {
	ctx := context.Background()
	d := newDriver(t)
	err := d.CreateTable(ctx, "Not Valid")
	assert.ErrorIs(t, err, schema.ErrInvalidIdentifier)
}

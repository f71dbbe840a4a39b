package migration_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppongpan/Q-Collector-sub018/migration"
)

func TestDetectChangesOrdersRenameModifyAddDrop(t *testing.T) {
	old := []migration.Field{
		{ID: "f1", Title: "Full Name", Logical: migration.ShortAnswer, DisplayOrder: 0},
		{ID: "f2", Title: "Age", Logical: migration.ShortAnswer, DisplayOrder: 1},
		{ID: "f3", Title: "Removed Field", Logical: migration.ShortAnswer, DisplayOrder: 2},
	}
	new := []migration.Field{
		{ID: "f1", Title: "Complete Name", Logical: migration.ShortAnswer, DisplayOrder: 0},
		{ID: "f2", Title: "Age", Logical: migration.Number, DisplayOrder: 1},
		{ID: "f4", Title: "New Field", Logical: migration.Email, DisplayOrder: 3},
	}

	ops, err := migration.DetectChanges("t_form", old, new)
	require.NoError(t, err)
	require.Len(t, ops, 4)

	assert.Equal(t, migration.RenameColumn, ops[0].Kind)
	assert.Equal(t, "f1", ops[0].FieldID)

	assert.Equal(t, migration.ModifyColumn, ops[1].Kind)
	assert.Equal(t, "f2", ops[1].FieldID)

	assert.Equal(t, migration.AddColumn, ops[2].Kind)
	assert.Equal(t, "f4", ops[2].FieldID)

	assert.Equal(t, migration.DropColumn, ops[3].Kind)
	assert.Equal(t, "f3", ops[3].FieldID)
}

func TestDetectChangesNoChangesProducesNoOperations(t *testing.T) {
	fields := []migration.Field{
		{ID: "f1", Title: "Same Title", Logical: migration.ShortAnswer, DisplayOrder: 0},
	}
	ops, err := migration.DetectChanges("t_form", fields, fields)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestDetectChangesStableWithinClass(t *testing.T) {
	old := []migration.Field{}
	new := []migration.Field{
		{ID: "f2", Title: "Second", Logical: migration.ShortAnswer, DisplayOrder: 2},
		{ID: "f1", Title: "First", Logical: migration.ShortAnswer, DisplayOrder: 1},
	}
	ops, err := migration.DetectChanges("t_form", old, new)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "f1", ops[0].FieldID)
	assert.Equal(t, "f2", ops[1].FieldID)
}

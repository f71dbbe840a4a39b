package rbac_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppongpan/Q-Collector-sub018/rbac"
)

func setup(t *testing.T) *rbac.Enforcer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "acl.db")
	e, err := rbac.NewEnforcer(path)
	require.NoError(t, err)
	return e
}

func TestSuperAdminCanDoEverything(t *testing.T) {
	e := setup(t)
	actor := rbac.Actor{ID: "u1", Role: rbac.SuperAdmin}

	for _, op := range []rbac.Operation{
		rbac.OpPreview, rbac.OpApply, rbac.OpHistory, rbac.OpRollback,
		rbac.OpListBackups, rbac.OpRestoreBackup, rbac.OpQueueStatus,
	} {
		ok, err := e.Allow(actor, op)
		require.NoError(t, err)
		assert.Truef(t, ok, "expected super_admin to be allowed %s", op)
	}
}

func TestAdminCannotRollbackOrRestore(t *testing.T) {
	e := setup(t)
	actor := rbac.Actor{ID: "u2", Role: rbac.Admin}

	allowed := map[rbac.Operation]bool{
		rbac.OpPreview:       true,
		rbac.OpApply:         true,
		rbac.OpHistory:       true,
		rbac.OpListBackups:   true,
		rbac.OpQueueStatus:   true,
		rbac.OpRollback:      false,
		rbac.OpRestoreBackup: false,
	}

	for op, want := range allowed {
		ok, err := e.Allow(actor, op)
		require.NoError(t, err)
		assert.Equalf(t, want, ok, "op %s", op)
	}
}

func TestModeratorIsReadOnly(t *testing.T) {
	e := setup(t)
	actor := rbac.Actor{ID: "u3", Role: rbac.Moderator}

	ok, err := e.Allow(actor, rbac.OpApply)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.Allow(actor, rbac.OpRollback)
	require.NoError(t, err)
	assert.False(t, ok)

	for _, op := range []rbac.Operation{rbac.OpPreview, rbac.OpHistory, rbac.OpListBackups, rbac.OpQueueStatus} {
		ok, err := e.Allow(actor, op)
		require.NoError(t, err)
		assert.Truef(t, ok, "expected moderator to be allowed %s", op)
	}
}

func TestUnknownRoleDenied(t *testing.T) {
	e := setup(t)
	actor := rbac.Actor{ID: "u4", Role: rbac.Role("guest")}

	ok, err := e.Allow(actor, rbac.OpPreview)
	require.NoError(t, err)
	assert.False(t, ok)
}

// Package rbac collapses the role checks a migration caller would
// otherwise sprinkle through every handler into a single authorization
// predicate, enforced once at each public entry point of the
// migration engine (and by cmd/fieldmigrate for the backup
// subcommands, which have no engine method). The queue does not check
// roles: it stores each job's actor and the engine checks it when the
// job runs.
package rbac

import (
	"database/sql"

	adapter "github.com/Blank-Xu/sql-adapter"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

// Role is one of the three privilege levels the field migration system
// recognizes. Any other string is denied by construction: Enforcer
// never grants a policy to a role it wasn't seeded with.
type Role string

const (
	SuperAdmin Role = "super_admin"
	Admin      Role = "admin"
	Moderator  Role = "moderator"
)

// Operation names one of the operations exposed to collaborators
// (spec §6). These are the literal "act" strings in the casbin policy.
type Operation string

const (
	OpPreview       Operation = "preview"
	OpApply         Operation = "apply"
	OpHistory       Operation = "history"
	OpRollback      Operation = "rollback"
	OpListBackups   Operation = "listBackups"
	OpRestoreBackup Operation = "restoreBackup"
	OpQueueStatus   Operation = "queueStatus"
)

// Actor identifies the caller of a public operation. It is supplied by
// the collaborator (spec §6 "Authorization is an input to the engine,
// not a responsibility of the engine's internals beyond enforcing this
// matrix").
type Actor struct {
	ID   string
	Role Role
}

const (
	Model = `
[request_definition]
r = sub, act

[policy_definition]
p = sub, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.act == p.act && g(r.sub, p.sub)
`
)

// Enforcer wraps a casbin enforcer seeded with the fixed role matrix
// from spec §6. Unlike the teacher's knot/repo-scoped rbac.Enforcer,
// this one has no notion of a resource domain: the role gate here is
// global to the process, not per-form.
type Enforcer struct {
	E *casbin.Enforcer
}

// moderatorPolicies, adminPolicies and superAdminPolicies are the
// three rows of the role matrix in spec §6. super_admin additionally
// inherits admin's and moderator's policies via grouping, so only the
// operations unique to super_admin (rollback, restoreBackup) need a
// direct policy.
var (
	moderatorPolicies = [][]string{
		{string(Moderator), string(OpPreview)},
		{string(Moderator), string(OpHistory)},
		{string(Moderator), string(OpListBackups)},
		{string(Moderator), string(OpQueueStatus)},
	}
	adminPolicies = [][]string{
		{string(Admin), string(OpPreview)},
		{string(Admin), string(OpApply)},
		{string(Admin), string(OpHistory)},
		{string(Admin), string(OpListBackups)},
		{string(Admin), string(OpQueueStatus)},
	}
	superAdminPolicies = [][]string{
		{string(SuperAdmin), string(OpRollback)},
		{string(SuperAdmin), string(OpRestoreBackup)},
	}
)

// NewEnforcer opens (or creates) a casbin policy table at path,
// seeding the fixed role matrix on first use. Calling it again against
// the same path is idempotent: AddPolicies/AddGroupingPolicy no-op on
// duplicates.
func NewEnforcer(path string) (*Enforcer, error) {
	m, err := model.NewModelFromString(Model)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	a, err := adapter.NewAdapter(db, "sqlite3", "migration_acl")
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(m, a)
	if err != nil {
		return nil, err
	}
	e.EnableAutoSave(false)

	enf := &Enforcer{e}
	if err := enf.seed(); err != nil {
		return nil, err
	}

	return enf, nil
}

func (e *Enforcer) seed() error {
	if _, err := e.E.AddPolicies(moderatorPolicies); err != nil {
		return err
	}
	if _, err := e.E.AddPolicies(adminPolicies); err != nil {
		return err
	}
	if _, err := e.E.AddPolicies(superAdminPolicies); err != nil {
		return err
	}

	// super_admin inherits every admin and moderator permission
	if _, err := e.E.AddGroupingPolicy(string(SuperAdmin), string(Admin)); err != nil {
		return err
	}
	if _, err := e.E.AddGroupingPolicy(string(SuperAdmin), string(Moderator)); err != nil {
		return err
	}

	return nil
}

// Allow reports whether actor is permitted to perform op. A role not
// present in the seeded matrix is always denied.
func (e *Enforcer) Allow(actor Actor, op Operation) (bool, error) {
	if actor.Role != SuperAdmin && actor.Role != Admin && actor.Role != Moderator {
		return false, nil
	}
	return e.E.Enforce(string(actor.Role), string(op))
}

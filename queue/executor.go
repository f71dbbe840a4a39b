package queue

import (
	"context"
	"fmt"

	"github.com/ppongpan/Q-Collector-sub018/migration"
	"github.com/ppongpan/Q-Collector-sub018/rbac"
)

// Executor invokes the migration engine for one job. Separated from
// *migration.Engine by an interface so tests can substitute a fake
// that injects transient failures without a real schema driver.
type Executor interface {
	Execute(ctx context.Context, actor rbac.Actor, formID string, op migration.Operation) (*migration.Record, error)
}

// EngineExecutor adapts a *migration.Engine to Executor, dispatching
// on the operation's kind.
type EngineExecutor struct {
	Engine *migration.Engine
}

var _ Executor = EngineExecutor{}

func (e EngineExecutor) Execute(ctx context.Context, actor rbac.Actor, formID string, op migration.Operation) (*migration.Record, error) {
	switch op.Kind {
	case migration.AddColumn:
		return e.Engine.AddColumn(ctx, actor, formID, op)
	case migration.DropColumn:
		return e.Engine.DropColumn(ctx, actor, formID, op)
	case migration.RenameColumn:
		return e.Engine.RenameColumn(ctx, actor, formID, op)
	case migration.ModifyColumn:
		return e.Engine.ModifyColumnType(ctx, actor, formID, op)
	default:
		return nil, fmt.Errorf("queue: unrecognized operation kind %q", op.Kind)
	}
}

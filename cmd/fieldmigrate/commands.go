package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/ppongpan/Q-Collector-sub018/backup"
	"github.com/ppongpan/Q-Collector-sub018/ident"
	"github.com/ppongpan/Q-Collector-sub018/migration"
	"github.com/ppongpan/Q-Collector-sub018/pagination"
	"github.com/ppongpan/Q-Collector-sub018/rbac"
)

// nowUTC is the CLI's notion of "now" for backup expiration checks.
// Unlike migration.Engine and queue.Queue, the CLI has no test double
// to inject: it is a one-shot process, so the real clock is always
// correct here.
func nowUTC() time.Time { return time.Now().UTC() }

// authorize gates a CLI subcommand the same way migration.Engine gates
// its own public entry points (spec §6's role matrix): a subcommand
// that has no Engine method of its own, like listBackups and
// restoreBackup, still has to go through the enforcer directly instead
// of slipping through ungated.
func authorize(a *app, cmd *cli.Command, op rbac.Operation) error {
	ok, err := a.enforcer.Allow(actorFrom(cmd), op)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: role %q cannot %s", migration.ErrUnauthorized, actorFrom(cmd).Role, op)
	}
	return nil
}

// printJSON writes v to stdout as indented JSON, the way every
// subcommand reports its result: this CLI is an admin/scripting tool,
// not an interactive one, so machine-readable output is the default.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// formsCommand registers a field's current descriptor with the form
// registry, the durable stand-in for the form-builder collaborator's
// own store (spec §6 "Form store").
func formsCommand() *cli.Command {
	return &cli.Command{
		Name:  "forms",
		Usage: "manage the local form/field registry fieldmigrate consults for FieldStillPresent checks",
		Commands: []*cli.Command{
			{
				Name:  "put-field",
				Usage: "register or update a field descriptor for a form",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "form-id", Required: true},
					&cli.StringFlag{Name: "field-id", Required: true},
					&cli.StringFlag{Name: "title", Required: true},
					&cli.StringFlag{Name: "logical", Required: true, Usage: "one of the 17 logical field types"},
					&cli.IntFlag{Name: "order", Value: 0},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := openApp(ctx)
					if err != nil {
						return err
					}
					defer a.Close()

					return a.forms.Put(ctx, cmd.String("form-id"), migration.Field{
						ID:           cmd.String("field-id"),
						Title:        cmd.String("title"),
						Logical:      migration.LogicalType(cmd.String("logical")),
						DisplayOrder: int(cmd.Int("order")),
					})
				},
			},
			{
				Name:  "remove-field",
				Usage: "remove a field descriptor from a form (do this before dropping its column)",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "form-id", Required: true},
					&cli.StringFlag{Name: "field-id", Required: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := openApp(ctx)
					if err != nil {
						return err
					}
					defer a.Close()

					return a.forms.Remove(ctx, cmd.String("form-id"), cmd.String("field-id"))
				},
			},
			{
				Name:  "list",
				Usage: "list a form's currently registered fields",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "form-id", Required: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := openApp(ctx)
					if err != nil {
						return err
					}
					defer a.Close()

					fields, err := a.forms.List(ctx, cmd.String("form-id"))
					if err != nil {
						return err
					}
					return printJSON(fields)
				},
			},
		},
	}
}

// opFromFlags builds a migration.Operation from the flag set every
// preview/apply subcommand shares, deriving column identifiers via
// ident.NormalizeLabel the same pure, pre-transaction way
// migration.DetectChanges does (spec §9: identifier resolution must
// be computed before any transaction opens).
func opFromFlags(cmd *cli.Command) (migration.Operation, error) {
	kind := migration.OperationKind(cmd.String("kind"))
	table := cmd.String("table")
	fieldID := cmd.String("field-id")
	title := cmd.String("title")

	op := migration.Operation{
		Kind:       kind,
		FieldID:    fieldID,
		Table:      table,
		OldLogical: migration.LogicalType(cmd.String("old-logical")),
		NewLogical: migration.LogicalType(cmd.String("new-logical")),
	}

	if title != "" {
		col, err := ident.NormalizeLabel(ident.KindField, title, fieldID)
		if err != nil {
			return migration.Operation{}, err
		}
		op.Column = col
	} else {
		op.Column = cmd.String("column")
	}

	if oldTitle := cmd.String("old-title"); oldTitle != "" {
		oldCol, err := ident.NormalizeLabel(ident.KindField, oldTitle, fieldID)
		if err != nil {
			return migration.Operation{}, err
		}
		op.OldColumn = oldCol
	} else {
		op.OldColumn = cmd.String("old-column")
	}

	return op, nil
}

var opFlags = []cli.Flag{
	&cli.StringFlag{Name: "kind", Required: true, Usage: "ADD_COLUMN, DROP_COLUMN, RENAME_COLUMN or MODIFY_COLUMN"},
	&cli.StringFlag{Name: "form-id", Required: true},
	&cli.StringFlag{Name: "field-id", Required: true},
	&cli.StringFlag{Name: "table", Required: true},
	&cli.StringFlag{Name: "title", Usage: "field's current display title; derives --column if set"},
	&cli.StringFlag{Name: "column", Usage: "explicit column name, if --title is not given"},
	&cli.StringFlag{Name: "old-title", Usage: "field's prior display title, for RENAME_COLUMN"},
	&cli.StringFlag{Name: "old-column", Usage: "explicit prior column name, if --old-title is not given"},
	&cli.StringFlag{Name: "old-logical", Usage: "prior logical type, for MODIFY_COLUMN/DROP_COLUMN"},
	&cli.StringFlag{Name: "new-logical", Usage: "new logical type, for ADD_COLUMN/MODIFY_COLUMN"},
}

// previewCommand surfaces migration.Engine.PreviewMigration, the pure
// operation the form-builder modal calls before a user commits to a
// change (spec §4.4 operation 5).
func previewCommand() *cli.Command {
	return &cli.Command{
		Name:  "preview",
		Usage: "show the SQL and warnings a migration would produce, without applying it",
		Flags: append(append([]cli.Flag{}, opFlags...), actorFlags...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			op, err := opFromFlags(cmd)
			if err != nil {
				return err
			}

			preview, err := a.engine.PreviewMigration(ctx, actorFrom(cmd), cmd.String("form-id"), op)
			if err != nil {
				return err
			}
			return printJSON(preview)
		},
	}
}

// applyCommand enqueues one migration operation; the queue's worker
// loop picks it up and invokes the engine asynchronously (spec §6
// "apply").
func applyCommand() *cli.Command {
	return &cli.Command{
		Name:  "apply",
		Usage: "enqueue a migration operation for the given form",
		Flags: append(append([]cli.Flag{}, opFlags...), actorFlags...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			op, err := opFromFlags(cmd)
			if err != nil {
				return err
			}

			jobID, err := a.queue.Enqueue(ctx, actorFrom(cmd), cmd.String("form-id"), op)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"jobId": jobID})
		},
	}
}

// rollbackCommand surfaces migration.Engine.Rollback (spec §4.4
// operation 6 / §6 "rollback").
func rollbackCommand() *cli.Command {
	return &cli.Command{
		Name:  "rollback",
		Usage: "reverse a prior migration record by id",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "migration-id", Required: true},
		}, actorFlags...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			rec, err := a.engine.Rollback(ctx, actorFrom(cmd), cmd.String("migration-id"))
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}
}

// historyCommand surfaces migration.Engine.History (spec §6
// "history"), newest-first as the exposed contract requires.
func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "list a form's migration records",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "form-id", Required: true},
			&cli.IntFlag{Name: "limit", Value: 0, Usage: "page size; 0 returns every record"},
			&cli.IntFlag{Name: "offset", Value: 0},
		}, actorFlags...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			page := pagination.Page{Offset: int(cmd.Int("offset")), Limit: int(cmd.Int("limit"))}
			recs, err := a.engine.History(ctx, actorFrom(cmd), cmd.String("form-id"), page)
			if err != nil {
				return err
			}
			// engine.History returns oldest-first (its own append-only
			// storage order); the exposed contract (spec §6) wants
			// newest-first, so reverse here at the boundary.
			for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
				recs[i], recs[j] = recs[j], recs[i]
			}
			return printJSON(recs)
		},
	}
}

// queueCommand exposes the queue's observable surface: status,
// per-form metrics and cancellation of a waiting job.
func queueCommand() *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "inspect or manage the migration job queue",
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "waiting/active/completed/failed/delayed counts over a rolling 24h window",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := openApp(ctx)
					if err != nil {
						return err
					}
					defer a.Close()

					status, err := a.queue.Status(ctx)
					if err != nil {
						return err
					}
					return printJSON(status)
				},
			},
			{
				Name:  "metrics",
				Usage: "recent jobs for one form",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "form-id", Required: true},
					&cli.IntFlag{Name: "limit", Value: 50},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := openApp(ctx)
					if err != nil {
						return err
					}
					defer a.Close()

					jobs, err := a.queue.Metrics(ctx, cmd.String("form-id"), int(cmd.Int("limit")))
					if err != nil {
						return err
					}
					return printJSON(jobs)
				},
			},
			{
				Name:  "cancel",
				Usage: "cancel a WAITING job; fails for any job already ACTIVE or terminal",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "job-id", Required: true},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := openApp(ctx)
					if err != nil {
						return err
					}
					defer a.Close()

					return a.queue.Cancel(ctx, cmd.String("job-id"))
				},
			},
			{
				Name:  "work",
				Usage: "run the dispatch/worker loop in the foreground until interrupted",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := openApp(ctx)
					if err != nil {
						return err
					}
					defer a.Close()

					a.queue.Start(ctx)
					<-ctx.Done()
					a.queue.Stop()
					return nil
				},
			},
		},
	}
}

// backupsCommand surfaces listBackups and restoreBackup (spec §6),
// plus the periodic expired-backup sweep spec §4.3 calls for.
func backupsCommand() *cli.Command {
	return &cli.Command{
		Name:  "backups",
		Usage: "list, restore or sweep column-data backups",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list backups for a form",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "form-id", Required: true},
					&cli.StringFlag{Name: "filter", Value: "all", Usage: "active, expired or all"},
				}, actorFlags...),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := openApp(ctx)
					if err != nil {
						return err
					}
					defer a.Close()

					if err := authorize(a, cmd, rbac.OpListBackups); err != nil {
						return err
					}

					recs, err := a.backups.List(ctx, nowUTC(), cmd.String("form-id"), backup.Filter(cmd.String("filter")))
					if err != nil {
						return err
					}
					return printJSON(recs)
				},
			},
			{
				Name:  "restore",
				Usage: "restore a backup by id",
				Flags: append([]cli.Flag{
					&cli.StringFlag{Name: "backup-id", Required: true},
				}, actorFlags...),
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := openApp(ctx)
					if err != nil {
						return err
					}
					defer a.Close()

					if err := authorize(a, cmd, rbac.OpRestoreBackup); err != nil {
						return err
					}

					n, err := a.backups.Restore(ctx, nowUTC(), cmd.String("backup-id"))
					if err != nil {
						return err
					}
					return printJSON(map[string]int{"restoredRowCount": n})
				},
			},
			{
				Name:  "sweep",
				Usage: "delete every backup whose retention window has passed",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					a, err := openApp(ctx)
					if err != nil {
						return err
					}
					defer a.Close()

					n, err := a.backups.Sweep(ctx, nowUTC())
					if err != nil {
						return err
					}
					return printJSON(map[string]int{"deleted": n})
				},
			},
		},
	}
}

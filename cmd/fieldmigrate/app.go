package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/ppongpan/Q-Collector-sub018/backup"
	"github.com/ppongpan/Q-Collector-sub018/config"
	"github.com/ppongpan/Q-Collector-sub018/eventsink"
	"github.com/ppongpan/Q-Collector-sub018/formreg"
	flog "github.com/ppongpan/Q-Collector-sub018/log"
	"github.com/ppongpan/Q-Collector-sub018/migration"
	"github.com/ppongpan/Q-Collector-sub018/queue"
	"github.com/ppongpan/Q-Collector-sub018/rbac"
	"github.com/ppongpan/Q-Collector-sub018/schema"
)

// app bundles every wired component a subcommand might need. Each
// subcommand opens its own app and closes it on return; the CLI is a
// one-shot process invoked per operation, not a long-lived server.
type app struct {
	cfg      *config.Config
	driver   *schema.Driver
	backups  *backup.Store
	enforcer *rbac.Enforcer
	forms    *formreg.Store
	engine   *migration.Engine
	queue    *queue.Queue
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := flog.FromContext(ctx)

	driver, err := schema.Open(ctx, cfg.Core.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open schema driver: %w", err)
	}

	backups, err := backup.NewStore(ctx, driver)
	if err != nil {
		return nil, fmt.Errorf("open backup store: %w", err)
	}
	backups.SetRetention(time.Duration(cfg.Backup.RetentionDays) * 24 * time.Hour)

	enforcer, err := rbac.NewEnforcer(cfg.Core.ACLPath)
	if err != nil {
		return nil, fmt.Errorf("open rbac enforcer: %w", err)
	}

	forms, err := formreg.NewStore(ctx, driver.DB())
	if err != nil {
		return nil, fmt.Errorf("open form registry: %w", err)
	}

	sink := eventsink.Slog{Logger: logger}

	engine, err := migration.NewEngine(ctx, driver, backups, enforcer, sink, forms)
	if err != nil {
		return nil, fmt.Errorf("build migration engine: %w", err)
	}

	q, err := queue.NewQueue(ctx, driver.DB(), queue.EngineExecutor{Engine: engine}, sink,
		queue.WithVisibilityTimeout(cfg.Queue.VisibilityTimeout),
		queue.WithPollInterval(cfg.Queue.PollInterval),
		queue.WithRetryDelay(cfg.Queue.RetryBaseDelay, cfg.Queue.RetryMaxDelay))
	if err != nil {
		return nil, fmt.Errorf("build migration queue: %w", err)
	}

	return &app{cfg: cfg, driver: driver, backups: backups, enforcer: enforcer, forms: forms, engine: engine, queue: q}, nil
}

func (a *app) Close() error {
	return a.driver.Close()
}

// actorFrom reads the --actor-id/--actor-role flags every mutating
// subcommand accepts, matching spec §6's "authorization is an input
// to the engine" contract.
func actorFrom(cmd *cli.Command) rbac.Actor {
	return rbac.Actor{
		ID:   cmd.String("actor-id"),
		Role: rbac.Role(cmd.String("actor-role")),
	}
}

var actorFlags = []cli.Flag{
	&cli.StringFlag{Name: "actor-id", Usage: "caller identity", Required: true},
	&cli.StringFlag{Name: "actor-role", Usage: "caller role: super_admin, admin or moderator", Required: true},
}

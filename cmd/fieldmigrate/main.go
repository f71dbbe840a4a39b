// Command fieldmigrate is the administrative CLI for the field
// migration system: preview and apply schema changes, inspect and
// roll back history, manage the durable job queue, and list or
// restore backups. Composed the way cmd/knot assembles guard, hook
// and keyfetch into one cli.Command tree.
package main

import (
	"context"
	"os"

	"github.com/urfave/cli/v3"

	flog "github.com/ppongpan/Q-Collector-sub018/log"
)

func main() {
	cmd := &cli.Command{
		Name:  "fieldmigrate",
		Usage: "Q-Collector field migration administration tool",
		Commands: []*cli.Command{
			formsCommand(),
			previewCommand(),
			applyCommand(),
			rollbackCommand(),
			historyCommand(),
			queueCommand(),
			backupsCommand(),
		},
	}

	logger := flog.New("fieldmigrate")

	ctx := context.Background()
	ctx = flog.IntoContext(ctx, logger)

	if err := cmd.Run(ctx, os.Args); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

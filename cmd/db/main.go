package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/robalyx/answervote/cmd/db/commands"
	"github.com/robalyx/answervote/internal/database/migrations"
	"github.com/robalyx/answervote/internal/setup"
	"github.com/robalyx/answervote/internal/setup/telemetry"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v3"
)

// DBLogDir specifies where database tool log files are stored.
const DBLogDir = "logs/db_logs"

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := setup.InitializeApp(ctx, telemetry.ServiceDB, DBLogDir)
	if err != nil {
		return err
	}
	defer app.Cleanup(context.Background())

	if app.DB == nil {
		return setup.ErrPostgresRequired
	}

	deps := &commands.CLIDependencies{
		App:      app,
		Migrator: migrate.NewMigrator(app.DB.DB(), migrations.Migrations),
		Logger:   app.Logger,
	}

	cmd := &cli.Command{
		Name:  "db",
		Usage: "Database management tool for answer votes",
		Commands: append(
			commands.MigrationCommands(deps),
			commands.VoteCommands(deps)...,
		),
	}

	return cmd.Run(ctx, os.Args)
}

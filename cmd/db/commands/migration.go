package commands

import (
	"context"

	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// MigrationCommands returns all migration-related commands.
func MigrationCommands(deps *CLIDependencies) []*cli.Command {
	return []*cli.Command{
		{
			Name:   "init",
			Usage:  "Initialize migration tables",
			Action: handleInit(deps),
		},
		{
			Name:   "migrate",
			Usage:  "Create or update the answer_counters and vote_records tables",
			Action: handleMigrate(deps),
		},
		{
			Name:   "rollback",
			Usage:  "Rollback the last migration group",
			Action: handleRollback(deps),
		},
		{
			Name:   "status",
			Usage:  "Show migration status",
			Action: handleStatus(deps),
		},
		{
			Name:      "create",
			Usage:     "Create a new Go migration file",
			ArgsUsage: "NAME",
			Action:    handleCreate(deps),
		},
	}
}

// handleInit handles the 'init' command.
func handleInit(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, _ *cli.Command) error {
		if err := deps.Migrator.Init(ctx); err != nil {
			return err
		}

		deps.Logger.Info("Initialized migration tables")
		return nil
	}
}

// handleMigrate handles the 'migrate' command.
func handleMigrate(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, _ *cli.Command) error {
		if err := deps.Migrator.Init(ctx); err != nil {
			return err
		}

		return withMigrationLock(ctx, deps, func() error {
			group, err := deps.Migrator.Migrate(ctx)
			if err != nil {
				return err
			}

			if group.IsZero() {
				deps.Logger.Info("No new migrations to run (database is up to date)")
				return nil
			}

			deps.Logger.Info("Successfully migrated", zap.String("group", group.String()))
			return nil
		})
	}
}

// handleRollback handles the 'rollback' command.
func handleRollback(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, _ *cli.Command) error {
		return withMigrationLock(ctx, deps, func() error {
			group, err := deps.Migrator.Rollback(ctx)
			if err != nil {
				return err
			}

			if group.IsZero() {
				deps.Logger.Info("No groups to roll back")
				return nil
			}

			deps.Logger.Info("Successfully rolled back", zap.String("group", group.String()))
			return nil
		})
	}
}

// handleStatus handles the 'status' command.
func handleStatus(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, _ *cli.Command) error {
		ms, err := deps.Migrator.MigrationsWithStatus(ctx)
		if err != nil {
			return err
		}

		deps.Logger.Info("Migration status",
			zap.String("migrations", ms.String()),
			zap.String("unapplied", ms.Unapplied().String()),
			zap.String("lastGroup", ms.LastGroup().String()),
		)
		return nil
	}
}

// handleCreate handles the 'create' command.
func handleCreate(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		if c.Args().Len() != 1 {
			return ErrNameRequired
		}

		mf, err := deps.Migrator.CreateGoMigration(ctx, c.Args().First())
		if err != nil {
			return err
		}

		deps.Logger.Info("Created Go migration",
			zap.String("name", mf.Name),
			zap.String("path", mf.Path),
		)
		return nil
	}
}

// withMigrationLock runs fn while holding the migrator's table lock.
func withMigrationLock(ctx context.Context, deps *CLIDependencies, fn func() error) error {
	if err := deps.Migrator.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if err := deps.Migrator.Unlock(ctx); err != nil {
			deps.Logger.Warn("Failed to release migration lock", zap.Error(err))
		}
	}()

	return fn()
}

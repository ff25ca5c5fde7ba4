package commands

import (
	"context"
	"fmt"

	"github.com/robalyx/answervote/internal/export"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

// VoteCommands returns the commands that inspect and repair vote data.
func VoteCommands(deps *CLIDependencies) []*cli.Command {
	return []*cli.Command{
		{
			Name:  "reconcile",
			Usage: "Compare every answer's counters with its ledger records",
			Description: `Recount the ledger of every answer and compare it with the stored counters.
Ledger records of answers without counters are reported as orphans.

Examples:
  db reconcile            # Report drifted answers, exit non-zero on drift
  db reconcile --repair   # Overwrite drifted counters and purge orphan records`,
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:    "repair",
					Usage:   "Overwrite drifted counters with the ledger tally",
					Aliases: []string{"r"},
				},
				&cli.IntFlag{
					Name:  "workers",
					Usage: "Number of answers checked concurrently (defaults to reconcile.workers)",
				},
			},
			Action: handleReconcile(deps),
		},
		{
			Name:  "export",
			Usage: "Snapshot counters and ledger records for offline audit",
			Description: `Write the current counters and vote records to the output directory.

Examples:
  db export --out exports/today
  db export --out exports/today --format sqlite`,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "out",
					Usage:   "Output directory",
					Value:   "exports",
					Aliases: []string{"o"},
				},
				&cli.StringSliceFlag{
					Name:    "format",
					Usage:   "Export formats (sqlite, csv)",
					Value:   []string{string(export.FormatSQLite), string(export.FormatCSV)},
					Aliases: []string{"f"},
				},
			},
			Action: handleExport(deps),
		},
	}
}

// handleReconcile handles the 'reconcile' command.
func handleReconcile(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		repair := c.Bool("repair")

		report, err := deps.App.Reconciler(repair, int(c.Int("workers"))).Run(ctx)
		if err != nil {
			return fmt.Errorf("failed to reconcile counters: %w", err)
		}

		for _, mismatch := range report.Mismatches {
			deps.Logger.Warn("Counter drift",
				zap.String("answerID", mismatch.AnswerID),
				zap.Int64("storedUpvotes", mismatch.Stored.Upvotes),
				zap.Int64("storedDownvotes", mismatch.Stored.Downvotes),
				zap.Int64("talliedUpvotes", mismatch.Tallied.Upvotes),
				zap.Int64("talliedDownvotes", mismatch.Tallied.Downvotes))
		}

		deps.Logger.Info("Reconciliation finished",
			zap.Int("checked", report.Checked),
			zap.Int("drifted", len(report.Mismatches)),
			zap.Int("repaired", report.Repaired),
			zap.Int("orphans", report.Orphans),
			zap.Bool("repair", repair))

		if !repair && (len(report.Mismatches) > 0 || report.Orphans > 0) {
			return fmt.Errorf("%w: %d answers, %d orphans", ErrDriftDetected, len(report.Mismatches), report.Orphans)
		}
		return nil
	}
}

// handleExport handles the 'export' command.
func handleExport(deps *CLIDependencies) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		formats := make([]export.Format, 0, len(c.StringSlice("format")))
		for _, name := range c.StringSlice("format") {
			format, err := export.ParseFormat(name)
			if err != nil {
				return err
			}
			formats = append(formats, format)
		}

		models := deps.App.DB.Model()
		exporter := export.New(
			models.AnswerCounter(), models.VoteRecord(), c.String("out"), formats,
			deps.App.Config.Common.Reconcile.Workers, deps.Logger,
		)

		manifest, err := exporter.ExportAll(ctx)
		if err != nil {
			return err
		}

		deps.Logger.Info("Export completed",
			zap.String("out", c.String("out")),
			zap.Int("answers", manifest.Answers),
			zap.Int("records", manifest.Records),
			zap.Int("drifted", len(manifest.Drifted)))
		return nil
	}
}

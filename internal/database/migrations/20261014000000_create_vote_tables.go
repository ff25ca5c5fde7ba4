package migrations

import (
	"context"
	"fmt"

	"github.com/robalyx/answervote/internal/database/types"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		models := []any{
			(*types.AnswerCounter)(nil),
			(*types.VoteRecord)(nil),
		}

		for _, model := range models {
			_, err := db.NewCreateTable().
				Model(model).
				IfNotExists().
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to create table %T: %w", model, err)
			}
		}

		// Counters never go negative and records only hold castable actions
		constraints := []struct {
			table string
			name  string
			check string
		}{
			{"answer_counters", "answer_counters_upvotes_check", "upvotes >= 0"},
			{"answer_counters", "answer_counters_downvotes_check", "downvotes >= 0"},
			{"vote_records", "vote_records_action_check", "action IN (-1, 1)"},
		}

		for _, c := range constraints {
			_, err := db.NewRaw(fmt.Sprintf(`
				DO $$
				BEGIN
					IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = '%s') THEN
						ALTER TABLE %s ADD CONSTRAINT %s CHECK (%s);
					END IF;
				END $$;
			`, c.name, c.table, c.name, c.check)).Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to add constraint %s: %w", c.name, err)
			}
		}

		// Cascade deletion and reconciliation scan records by answer
		_, err := db.NewCreateIndex().
			Model((*types.VoteRecord)(nil)).
			Index("idx_vote_records_answer_id").
			Column("answer_id").
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create vote record answer index: %w", err)
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		models := []any{
			(*types.VoteRecord)(nil),
			(*types.AnswerCounter)(nil),
		}

		for _, model := range models {
			_, err := db.NewDropTable().
				Model(model).
				IfExists().
				Cascade().
				Exec(ctx)
			if err != nil {
				return fmt.Errorf("failed to drop table %T: %w", model, err)
			}
		}

		return nil
	})
}

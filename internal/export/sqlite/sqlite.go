package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robalyx/answervote/internal/export/types"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// FileName is the name of the database written by the exporter.
const FileName = "votes.db"

const (
	// batchSize is the number of rows inserted per transaction.
	batchSize = 1000
	// timeLayout stores timestamps as sortable text.
	timeLayout = time.RFC3339Nano
)

// Exporter handles exporting vote snapshots to a SQLite database.
type Exporter struct {
	outDir string
}

// New creates a new SQLite exporter instance.
func New(outDir string) *Exporter {
	return &Exporter{outDir: outDir}
}

// Export writes the counters and ledger records of a snapshot.
func (e *Exporter) Export(snapshot *types.Snapshot) error {
	path := filepath.Join(e.outDir, FileName)

	// Remove existing file if it exists
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove existing file %s: %w", FileName, err)
	}

	conn, err := sqlite.OpenConn(path, sqlite.OpenCreate|sqlite.OpenReadWrite)
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}
	defer conn.Close()

	err = sqlitex.ExecuteScript(conn, `
		CREATE TABLE answer_counters (
			answer_id TEXT PRIMARY KEY,
			question_id TEXT NOT NULL,
			upvotes INTEGER NOT NULL CHECK (upvotes >= 0),
			downvotes INTEGER NOT NULL CHECK (downvotes >= 0),
			updated_at TEXT NOT NULL
		);
		CREATE TABLE vote_records (
			username TEXT NOT NULL,
			question_id TEXT NOT NULL,
			answer_id TEXT NOT NULL,
			action INTEGER NOT NULL CHECK (action IN (-1, 1)),
			updated_at TEXT NOT NULL,
			PRIMARY KEY (username, question_id, answer_id)
		);
		CREATE INDEX idx_vote_records_answer_id ON vote_records (answer_id);
		CREATE TABLE snapshot (
			taken_at TEXT NOT NULL
		);
	`, nil)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	err = sqlitex.Execute(conn, "INSERT INTO snapshot (taken_at) VALUES (?)", &sqlitex.ExecOptions{
		Args: []any{snapshot.TakenAt.UTC().Format(timeLayout)},
	})
	if err != nil {
		return fmt.Errorf("failed to write snapshot time: %w", err)
	}

	err = insertBatches(conn, len(snapshot.Counters), func(i int) error {
		c := snapshot.Counters[i]
		return sqlitex.Execute(conn,
			"INSERT INTO answer_counters (answer_id, question_id, upvotes, downvotes, updated_at) VALUES (?, ?, ?, ?, ?)",
			&sqlitex.ExecOptions{
				Args: []any{c.AnswerID, c.QuestionID, c.Upvotes, c.Downvotes, c.UpdatedAt.UTC().Format(timeLayout)},
			})
	})
	if err != nil {
		return fmt.Errorf("failed to export counters: %w", err)
	}

	err = insertBatches(conn, len(snapshot.Records), func(i int) error {
		r := snapshot.Records[i]
		return sqlitex.Execute(conn,
			"INSERT INTO vote_records (username, question_id, answer_id, action, updated_at) VALUES (?, ?, ?, ?, ?)",
			&sqlitex.ExecOptions{
				Args: []any{r.Username, r.QuestionID, r.AnswerID, int64(r.Action), r.UpdatedAt.UTC().Format(timeLayout)},
			})
	})
	if err != nil {
		return fmt.Errorf("failed to export vote records: %w", err)
	}

	return nil
}

// insertBatches calls insert for each row index, committing every batchSize rows.
func insertBatches(conn *sqlite.Conn, n int, insert func(i int) error) error {
	for start := 0; start < n; start += batchSize {
		end := min(start+batchSize, n)

		if err := sqlitex.Execute(conn, "BEGIN TRANSACTION", nil); err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		for i := start; i < end; i++ {
			if err := insert(i); err != nil {
				_ = sqlitex.Execute(conn, "ROLLBACK", nil)
				return fmt.Errorf("failed to insert row: %w", err)
			}
		}

		if err := sqlitex.Execute(conn, "COMMIT", nil); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
	}

	return nil
}

package csv

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/robalyx/answervote/internal/export/types"
)

// File names written by the exporter.
const (
	CountersFile = "answer_counters.csv"
	RecordsFile  = "vote_records.csv"
)

// Exporter handles exporting vote snapshots to csv files.
type Exporter struct {
	outDir string
}

// New creates a new csv exporter instance.
func New(outDir string) *Exporter {
	return &Exporter{outDir: outDir}
}

// Export writes counters and ledger records to separate csv files.
func (e *Exporter) Export(snapshot *types.Snapshot) error {
	counters := make([][]string, 0, len(snapshot.Counters))
	for _, c := range snapshot.Counters {
		counters = append(counters, []string{
			c.AnswerID,
			c.QuestionID,
			strconv.FormatInt(c.Upvotes, 10),
			strconv.FormatInt(c.Downvotes, 10),
			c.UpdatedAt.UTC().Format(time.RFC3339Nano),
		})
	}

	if err := e.writeFile(CountersFile,
		[]string{"answer_id", "question_id", "upvotes", "downvotes", "updated_at"}, counters); err != nil {
		return fmt.Errorf("failed to export counters: %w", err)
	}

	records := make([][]string, 0, len(snapshot.Records))
	for _, r := range snapshot.Records {
		records = append(records, []string{
			r.Username,
			r.QuestionID,
			r.AnswerID,
			r.Action.String(),
			r.UpdatedAt.UTC().Format(time.RFC3339Nano),
		})
	}

	if err := e.writeFile(RecordsFile,
		[]string{"username", "question_id", "answer_id", "action", "updated_at"}, records); err != nil {
		return fmt.Errorf("failed to export vote records: %w", err)
	}

	return nil
}

// writeFile replaces filename with the header and rows.
func (e *Exporter) writeFile(filename string, header []string, rows [][]string) error {
	file, err := os.Create(filepath.Join(e.outDir, filename))
	if err != nil {
		return fmt.Errorf("failed to create csv file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	if err := writer.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write rows: %w", err)
	}

	return file.Sync()
}

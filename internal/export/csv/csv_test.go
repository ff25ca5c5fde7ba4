package csv_test

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	exportCSV "github.com/robalyx/answervote/internal/export/csv"
	"github.com/robalyx/answervote/internal/export/types"
	"github.com/robalyx/answervote/internal/vote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// readCSV returns every row of a csv file, header included.
func readCSV(t *testing.T, path string) [][]string {
	t.Helper()

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestExport(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	at := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)

	snapshot := &types.Snapshot{
		TakenAt: at,
		Counters: []*vote.Counters{
			{QuestionID: "q1", AnswerID: "a1", Upvotes: 2, UpdatedAt: at},
		},
		Records: []*vote.Record{
			{Key: vote.Key{Username: "alice", QuestionID: "q1", AnswerID: "a1"}, Action: vote.ActionUpvote, UpdatedAt: at},
			{Key: vote.Key{Username: "o'brien, \"jr\"", QuestionID: "q1", AnswerID: "a1"}, Action: vote.ActionUpvote, UpdatedAt: at},
		},
	}

	require.NoError(t, exportCSV.New(dir).Export(snapshot))

	counters := readCSV(t, filepath.Join(dir, exportCSV.CountersFile))
	assert.Equal(t, [][]string{
		{"answer_id", "question_id", "upvotes", "downvotes", "updated_at"},
		{"a1", "q1", "2", "0", "2026-10-14T09:30:00Z"},
	}, counters)

	records := readCSV(t, filepath.Join(dir, exportCSV.RecordsFile))
	require.Len(t, records, 3)
	assert.Equal(t, []string{"username", "question_id", "answer_id", "action", "updated_at"}, records[0])
	assert.Equal(t, "upvote", records[1][3])
	assert.Equal(t, "o'brien, \"jr\"", records[2][0])
}

func TestExportEmptySnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, exportCSV.New(dir).Export(&types.Snapshot{}))

	assert.Len(t, readCSV(t, filepath.Join(dir, exportCSV.CountersFile)), 1)
	assert.Len(t, readCSV(t, filepath.Join(dir, exportCSV.RecordsFile)), 1)
}

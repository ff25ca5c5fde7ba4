package export_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/robalyx/answervote/internal/export"
	"github.com/robalyx/answervote/internal/export/csv"
	"github.com/robalyx/answervote/internal/export/sqlite"
	"github.com/robalyx/answervote/internal/export/types"
	"github.com/robalyx/answervote/internal/vote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seed(t *testing.T) (*vote.MemoryCounters, *vote.MemoryLedger) {
	t.Helper()

	ctx := context.Background()
	counters, ledger := vote.NewMemoryCounters(), vote.NewMemoryLedger()
	aggregator := vote.NewAggregator(counters, ledger, zap.NewNop())

	for _, answerID := range []string{"a1", "a2", "a3"} {
		_, err := aggregator.RegisterAnswer(ctx, "q1", answerID)
		require.NoError(t, err)
	}

	votes := []struct {
		user   string
		answer string
		action vote.Action
	}{
		{"alice", "a1", vote.ActionUpvote},
		{"bob", "a1", vote.ActionDownvote},
		{"carol", "a1", vote.ActionUpvote},
		{"alice", "a2", vote.ActionDownvote},
	}
	for _, v := range votes {
		_, err := aggregator.Vote(ctx, v.user, "q1", v.answer, v.action)
		require.NoError(t, err)
	}

	return counters, ledger
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	counters, ledger := seed(t)
	exporter := export.New(counters, ledger, t.TempDir(), nil, 2, zap.NewNop())

	snapshot, err := exporter.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Len(t, snapshot.Counters, 3)
	require.Len(t, snapshot.Records, 4)

	order := make([]string, 0, len(snapshot.Records))
	for _, record := range snapshot.Records {
		order = append(order, record.AnswerID+"/"+record.Username)
	}
	assert.Equal(t, []string{"a1/alice", "a1/bob", "a1/carol", "a2/alice"}, order)
}

func TestExportAll(t *testing.T) {
	t.Parallel()

	counters, ledger := seed(t)
	ctx := context.Background()

	// Drift one answer and orphan a record so the manifest reports both
	_, err := counters.Overwrite(ctx, "a2", 5, 0)
	require.NoError(t, err)
	require.NoError(t, ledger.Put(ctx, &vote.Record{
		Key:    vote.Key{Username: "dave", QuestionID: "q9", AnswerID: "gone"},
		Action: vote.ActionUpvote,
	}))

	dir := filepath.Join(t.TempDir(), "out")
	exporter := export.New(counters, ledger, dir, []export.Format{export.FormatSQLite, export.FormatCSV}, 4, zap.NewNop())

	manifest, err := exporter.ExportAll(ctx)
	require.NoError(t, err)

	assert.Equal(t, export.EngineVersion, manifest.EngineVersion)
	assert.Equal(t, 3, manifest.Answers)
	assert.Equal(t, 5, manifest.Records)
	assert.Equal(t, []string{"a2", "gone"}, manifest.Drifted)
	assert.Equal(t, []string{"sqlite", "csv"}, manifest.Formats)

	for _, name := range []string{sqlite.FileName, csv.CountersFile, csv.RecordsFile} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	data, err := os.ReadFile(filepath.Join(dir, export.ManifestFile))
	require.NoError(t, err)

	var written types.Manifest
	require.NoError(t, sonic.Unmarshal(data, &written))
	assert.Equal(t, manifest.Drifted, written.Drifted)
	assert.Equal(t, manifest.Records, written.Records)
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	format, err := export.ParseFormat(" SQLite ")
	require.NoError(t, err)
	assert.Equal(t, export.FormatSQLite, format)

	_, err = export.ParseFormat("binary")
	require.ErrorIs(t, err, export.ErrUnsupportedFormat)
}

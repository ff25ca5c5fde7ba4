package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/robalyx/answervote/internal/export/csv"
	"github.com/robalyx/answervote/internal/export/sqlite"
	"github.com/robalyx/answervote/internal/export/types"
	"github.com/robalyx/answervote/internal/vote"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

// Format represents a supported export format.
type Format string

const (
	FormatSQLite Format = "sqlite"
	FormatCSV    Format = "csv"
)

const (
	// EngineVersion represents the version of the export format.
	// This should be updated when making breaking changes to the export format.
	EngineVersion = "1.0.0"

	// ManifestFile describes the export next to the data files.
	ManifestFile = "export_manifest.json"
)

// ParseFormat converts a format name into a Format.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatSQLite:
		return FormatSQLite, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, s)
	}
}

// Exporter snapshots the counters and ledger into offline audit files.
type Exporter struct {
	counters vote.CounterStore
	ledger   vote.LedgerStore
	outDir   string
	formats  []Format
	workers  int
	now      func() time.Time
	logger   *zap.Logger
}

// New creates a new exporter writing the given formats into outDir.
func New(
	counters vote.CounterStore, ledger vote.LedgerStore, outDir string, formats []Format, workers int,
	logger *zap.Logger,
) *Exporter {
	if len(formats) == 0 {
		formats = []Format{FormatSQLite, FormatCSV}
	}
	return &Exporter{
		counters: counters,
		ledger:   ledger,
		outDir:   outDir,
		formats:  formats,
		workers:  max(workers, 1),
		now:      time.Now,
		logger:   logger.Named("exporter"),
	}
}

// ExportAll takes a snapshot and writes it in every configured format.
func (e *Exporter) ExportAll(ctx context.Context) (*types.Manifest, error) {
	if err := os.MkdirAll(e.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	snapshot, err := e.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Took vote snapshot",
		zap.Int("answers", len(snapshot.Counters)),
		zap.Int("records", len(snapshot.Records)))

	for _, format := range e.formats {
		if err := e.export(format, snapshot); err != nil {
			return nil, fmt.Errorf("failed to export %s format: %w", format, err)
		}
		e.logger.Debug("Wrote export format", zap.String("format", string(format)))
	}

	manifest := e.manifest(snapshot)

	data, err := sonic.MarshalIndent(manifest, "", "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export manifest: %w", err)
	}

	if err := os.WriteFile(filepath.Join(e.outDir, ManifestFile), data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write export manifest: %w", err)
	}

	if len(manifest.Drifted) > 0 {
		e.logger.Warn("Exported answers whose counters disagree with the ledger",
			zap.Strings("answerIDs", manifest.Drifted))
	}

	return manifest, nil
}

// Snapshot reads every answer's counters and ledger records. Answers are
// read concurrently, so the snapshot is consistent per answer only.
func (e *Exporter) Snapshot(ctx context.Context) (*types.Snapshot, error) {
	takenAt := e.now().UTC()

	counters, err := e.counters.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list counters: %w", err)
	}

	// Ledger records of answers without counters are exported too
	voted, err := e.ledger.AnswerIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list voted answers: %w", err)
	}

	answerIDs := make([]string, 0, len(counters)+len(voted))
	for _, c := range counters {
		answerIDs = append(answerIDs, c.AnswerID)
	}
	answerIDs = append(answerIDs, voted...)
	slices.Sort(answerIDs)
	answerIDs = slices.Compact(answerIDs)

	p := pool.NewWithResults[[]*vote.Record]().
		WithContext(ctx).
		WithMaxGoroutines(e.workers).
		WithCancelOnError()

	for _, answerID := range answerIDs {
		p.Go(func(ctx context.Context) ([]*vote.Record, error) {
			records, err := e.ledger.ListByAnswer(ctx, answerID)
			if err != nil {
				return nil, fmt.Errorf("failed to list records of answer %q: %w", answerID, err)
			}
			return records, nil
		})
	}

	batches, err := p.Wait()
	if err != nil {
		return nil, err
	}

	var records []*vote.Record
	for _, batch := range batches {
		records = append(records, batch...)
	}
	slices.SortFunc(records, func(a, b *vote.Record) int {
		if c := strings.Compare(a.AnswerID, b.AnswerID); c != 0 {
			return c
		}
		return strings.Compare(a.Username, b.Username)
	})

	return &types.Snapshot{
		TakenAt:  takenAt,
		Counters: counters,
		Records:  records,
	}, nil
}

// manifest summarizes a snapshot, listing answers whose counters do not
// match the tally of their records.
func (e *Exporter) manifest(snapshot *types.Snapshot) *types.Manifest {
	byAnswer := make(map[string][]*vote.Record)
	for _, record := range snapshot.Records {
		byAnswer[record.AnswerID] = append(byAnswer[record.AnswerID], record)
	}

	drifted := []string{}
	seen := make(map[string]bool, len(snapshot.Counters))
	for _, c := range snapshot.Counters {
		seen[c.AnswerID] = true
		tally := vote.Tally(byAnswer[c.AnswerID])
		if tally.Upvotes != c.Upvotes || tally.Downvotes != c.Downvotes {
			drifted = append(drifted, c.AnswerID)
		}
	}
	for answerID := range byAnswer {
		if !seen[answerID] {
			drifted = append(drifted, answerID)
		}
	}
	slices.Sort(drifted)

	formats := make([]string, 0, len(e.formats))
	for _, format := range e.formats {
		formats = append(formats, string(format))
	}

	return &types.Manifest{
		EngineVersion: EngineVersion,
		TakenAt:       snapshot.TakenAt,
		Answers:       len(snapshot.Counters),
		Records:       len(snapshot.Records),
		Drifted:       drifted,
		Formats:       formats,
	}
}

// export handles exporting data in the specified format.
func (e *Exporter) export(format Format, snapshot *types.Snapshot) error {
	var exporter interface {
		Export(snapshot *types.Snapshot) error
	}

	switch format {
	case FormatSQLite:
		exporter = sqlite.New(e.outDir)
	case FormatCSV:
		exporter = csv.New(e.outDir)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	return exporter.Export(snapshot)
}

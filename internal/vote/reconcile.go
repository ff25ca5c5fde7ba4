package vote

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultReconcileWorkers is the number of answers checked at once.
const DefaultReconcileWorkers = 4

// ReconcileReport summarizes a reconciliation run.
type ReconcileReport struct {
	Checked    int                       `json:"checked"`
	Repaired   int                       `json:"repaired"`
	Orphans    int                       `json:"orphans"`
	Mismatches []*InconsistentStateError `json:"-"`
}

// ReconcileAnswer recomputes an answer's counters from its ledger records.
// It returns nil when they already agree. When repair is set the stored
// counters are overwritten with the tally.
func (a *Aggregator) ReconcileAnswer(
	ctx context.Context, questionID, answerID string, repair bool,
) (*InconsistentStateError, error) {
	questionID, answerID = normalizeID(questionID), normalizeID(answerID)
	if err := validateAnswer(questionID, answerID); err != nil {
		return nil, err
	}

	ctx, span := a.tracer.Start(ctx, "vote.ReconcileAnswer", trace.WithAttributes(
		attribute.String("vote.answer_id", answerID),
		attribute.Bool("vote.repair", repair),
	))
	defer span.End()

	release := a.gate.exclusive(answerID)
	defer release()

	var mismatch *InconsistentStateError
	check := func(ctx context.Context, stores Stores) error {
		var err error
		mismatch, err = a.reconcile(ctx, stores, questionID, answerID, repair)
		return err
	}

	var err error
	if a.tx != nil {
		err = unavailable("transaction", a.tx.Atomically(ctx, "answer/"+answerID, check))
	} else {
		err = check(ctx, a.stores)
	}
	if err != nil {
		return nil, endSpan(span, err)
	}
	return mismatch, nil
}

// reconcile reads the counters before the ledger so that, inside a
// transaction, the counters row lock orders it after any in-flight vote.
func (a *Aggregator) reconcile(
	ctx context.Context, stores Stores, questionID, answerID string, repair bool,
) (*InconsistentStateError, error) {
	stored, err := stores.Counters.Get(ctx, questionID, answerID)
	if err != nil {
		return nil, unavailable("counters get", err)
	}

	records, err := stores.Ledger.ListByAnswer(ctx, answerID)
	if err != nil {
		return nil, unavailable("ledger list", err)
	}

	tallied := Tally(records)
	if tallied.Upvotes == stored.Upvotes && tallied.Downvotes == stored.Downvotes {
		return nil, nil
	}

	tallied.QuestionID, tallied.AnswerID = stored.QuestionID, stored.AnswerID
	mismatch := &InconsistentStateError{AnswerID: answerID, Stored: *stored, Tallied: tallied}

	if !repair {
		return mismatch, nil
	}

	if _, err := stores.Counters.Overwrite(ctx, answerID, tallied.Upvotes, tallied.Downvotes); err != nil {
		return nil, unavailable("counters overwrite", err)
	}

	a.logger.Warn("Repaired answer counters from ledger",
		zap.String("answerID", answerID),
		zap.Int64("storedUpvotes", stored.Upvotes),
		zap.Int64("storedDownvotes", stored.Downvotes),
		zap.Int64("upvotes", tallied.Upvotes),
		zap.Int64("downvotes", tallied.Downvotes))

	return mismatch, nil
}

// Reconciler checks every answer's counters against the ledger.
type Reconciler struct {
	aggregator *Aggregator
	workers    int
	repair     bool
	logger     *zap.Logger
}

// NewReconciler creates a new reconciler. A non-positive workers value uses
// DefaultReconcileWorkers.
func NewReconciler(aggregator *Aggregator, workers int, repair bool, logger *zap.Logger) *Reconciler {
	if workers <= 0 {
		workers = DefaultReconcileWorkers
	}
	return &Reconciler{
		aggregator: aggregator,
		workers:    workers,
		repair:     repair,
		logger:     logger.Named("vote_reconciler"),
	}
}

// Run reconciles every answer. Ledger records of answers without counters
// are removed when repairing.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	stores := r.aggregator.stores

	// Get all answers with counters
	answers, err := stores.Counters.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list answer counters: %w", unavailable("counters list", err))
	}

	// Find ledger records whose answer no longer has counters
	referenced, err := stores.Ledger.AnswerIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger answers: %w", unavailable("ledger answers", err))
	}

	known := make(map[string]struct{}, len(answers))
	for _, counters := range answers {
		known[counters.AnswerID] = struct{}{}
	}

	var orphans []string
	for _, answerID := range referenced {
		if _, ok := known[answerID]; !ok {
			orphans = append(orphans, answerID)
		}
	}
	slices.Sort(orphans)

	// Check each answer concurrently
	p := pool.NewWithResults[*InconsistentStateError]().
		WithContext(ctx).
		WithMaxGoroutines(r.workers)

	for _, counters := range answers {
		p.Go(func(ctx context.Context) (*InconsistentStateError, error) {
			mismatch, err := r.aggregator.ReconcileAnswer(ctx, counters.QuestionID, counters.AnswerID, r.repair)
			if errors.Is(err, ErrNotFound) {
				// Deleted while the run was in progress
				return nil, nil
			}
			if err != nil {
				return nil, fmt.Errorf("failed to reconcile answer %s: %w", counters.AnswerID, err)
			}
			return mismatch, nil
		})
	}

	results, err := p.Wait()
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{Checked: len(answers), Orphans: len(orphans)}
	for _, mismatch := range results {
		if mismatch == nil {
			continue
		}
		report.Mismatches = append(report.Mismatches, mismatch)
		if r.repair {
			report.Repaired++
		}
	}

	if r.repair {
		for _, answerID := range orphans {
			if err := r.purgeOrphan(ctx, answerID); err != nil {
				return report, err
			}
		}
	}

	r.logger.Info("Reconciliation finished",
		zap.Int("checked", report.Checked),
		zap.Int("mismatches", len(report.Mismatches)),
		zap.Int("repaired", report.Repaired),
		zap.Int("orphans", report.Orphans))

	return report, nil
}

// purgeOrphan removes ledger records left behind by a partial answer deletion.
func (r *Reconciler) purgeOrphan(ctx context.Context, answerID string) error {
	release := r.aggregator.gate.exclusive(answerID)
	defer release()

	// Skip answers registered since the run started
	records, err := r.aggregator.stores.Ledger.ListByAnswer(ctx, answerID)
	if err != nil {
		return fmt.Errorf("failed to list records of answer %s: %w", answerID, unavailable("ledger list", err))
	}
	if len(records) == 0 {
		return nil
	}
	_, err = r.aggregator.stores.Counters.Get(ctx, records[0].QuestionID, answerID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to check answer %s: %w", answerID, unavailable("counters get", err))
	}

	count, err := r.aggregator.Ledger().ClearAllForAnswer(ctx, answerID)
	if err != nil {
		return fmt.Errorf("failed to purge orphaned records of answer %s: %w", answerID, err)
	}

	r.logger.Warn("Purged ledger records of deleted answer",
		zap.String("answerID", answerID),
		zap.Int("records", count))
	return nil
}

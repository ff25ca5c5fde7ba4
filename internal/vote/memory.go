package vote

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// MemoryCounters is a CounterStore held in process memory.
type MemoryCounters struct {
	mu      sync.Mutex
	answers map[string]*Counters
}

// NewMemoryCounters creates an empty in-memory counter store.
func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{answers: make(map[string]*Counters)}
}

// Register implements CounterStore.
func (m *MemoryCounters) Register(_ context.Context, questionID, answerID string) (*Counters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.answers[answerID]; ok {
		if existing.QuestionID != questionID {
			return nil, &ValidationError{Field: "questionId", Reason: "does not match the registered answer"}
		}
		c := *existing
		return &c, nil
	}

	counters := &Counters{QuestionID: questionID, AnswerID: answerID, UpdatedAt: time.Now().UTC()}
	m.answers[answerID] = counters
	c := *counters
	return &c, nil
}

// Get implements CounterStore.
func (m *MemoryCounters) Get(_ context.Context, questionID, answerID string) (*Counters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counters, err := m.lookup(questionID, answerID)
	if err != nil {
		return nil, err
	}
	c := *counters
	return &c, nil
}

// Apply implements CounterStore. The update is rejected without change when
// either counter would become negative.
func (m *MemoryCounters) Apply(_ context.Context, questionID, answerID string, delta Delta) (*Counters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counters, err := m.lookup(questionID, answerID)
	if err != nil {
		return nil, err
	}

	upvotes, downvotes := counters.Upvotes+delta.Upvotes, counters.Downvotes+delta.Downvotes
	if upvotes < 0 || downvotes < 0 {
		return nil, fmt.Errorf("%w: answer %q", ErrNegativeCounter, answerID)
	}

	counters.Upvotes, counters.Downvotes = upvotes, downvotes
	counters.UpdatedAt = time.Now().UTC()
	c := *counters
	return &c, nil
}

// Remove implements CounterStore.
func (m *MemoryCounters) Remove(_ context.Context, answerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.answers[answerID]
	delete(m.answers, answerID)
	return ok, nil
}

// Overwrite implements CounterStore.
func (m *MemoryCounters) Overwrite(_ context.Context, answerID string, upvotes, downvotes int64) (*Counters, error) {
	if upvotes < 0 || downvotes < 0 {
		return nil, fmt.Errorf("%w: answer %q", ErrNegativeCounter, answerID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	counters, ok := m.answers[answerID]
	if !ok {
		return nil, &NotFoundError{AnswerID: answerID}
	}
	counters.Upvotes, counters.Downvotes = upvotes, downvotes
	counters.UpdatedAt = time.Now().UTC()
	c := *counters
	return &c, nil
}

// List implements CounterStore.
func (m *MemoryCounters) List(_ context.Context) ([]*Counters, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := make([]*Counters, 0, len(m.answers))
	for _, counters := range m.answers {
		c := *counters
		list = append(list, &c)
	}
	slices.SortFunc(list, func(a, b *Counters) int {
		return strings.Compare(a.AnswerID, b.AnswerID)
	})
	return list, nil
}

func (m *MemoryCounters) lookup(questionID, answerID string) (*Counters, error) {
	counters, ok := m.answers[answerID]
	if !ok || counters.QuestionID != questionID {
		return nil, &NotFoundError{QuestionID: questionID, AnswerID: answerID}
	}
	return counters, nil
}

// MemoryLedger is a LedgerStore held in process memory.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[Key]*Record
}

// NewMemoryLedger creates an empty in-memory ledger store.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[Key]*Record)}
}

// Get implements LedgerStore.
func (m *MemoryLedger) Get(_ context.Context, key Key) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	r := *record
	return &r, nil
}

// Put implements LedgerStore.
func (m *MemoryLedger) Put(_ context.Context, record *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := *record
	m.records[record.Key] = &r
	return nil
}

// Delete implements LedgerStore.
func (m *MemoryLedger) Delete(_ context.Context, key Key) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.records[key]
	delete(m.records, key)
	return ok, nil
}

// DeleteByAnswer implements LedgerStore.
func (m *MemoryLedger) DeleteByAnswer(_ context.Context, answerID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int
	for key := range m.records {
		if key.AnswerID == answerID {
			delete(m.records, key)
			count++
		}
	}
	return count, nil
}

// ListByAnswer implements LedgerStore.
func (m *MemoryLedger) ListByAnswer(_ context.Context, answerID string) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var list []*Record
	for key, record := range m.records {
		if key.AnswerID == answerID {
			r := *record
			list = append(list, &r)
		}
	}
	slices.SortFunc(list, func(a, b *Record) int {
		return strings.Compare(a.Username, b.Username)
	})
	return list, nil
}

// AnswerIDs implements LedgerStore.
func (m *MemoryLedger) AnswerIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for key := range m.records {
		seen[key.AnswerID] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// Len returns the number of records held.
func (m *MemoryLedger) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

package vote

import (
	"context"
	"sync"
)

// Unlock releases a lock obtained from a Locker. Calling it more than once is safe.
type Unlock func()

// Locker serializes work that shares a key.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// KeyedMutex is an in-process Locker with one mutex per key.
// Entries are dropped once no goroutine holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sem  chan struct{}
	refs int
}

// NewKeyedMutex creates an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free or ctx is done.
func (m *KeyedMutex) Lock(ctx context.Context, key string) (Unlock, error) {
	m.mu.Lock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &keyedLock{sem: make(chan struct{}, 1)}
		m.locks[key] = lock
	}
	lock.refs++
	m.mu.Unlock()

	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		m.release(key, lock)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.sem
			m.release(key, lock)
		})
	}, nil
}

// Len returns the number of keys currently held or awaited.
func (m *KeyedMutex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func (m *KeyedMutex) release(key string, lock *keyedLock) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(m.locks, key)
	}
}

// answerGate lets votes on an answer run side by side while answer-wide
// work (deletion, reconciliation) runs alone.
type answerGate struct {
	mu    sync.Mutex
	gates map[string]*gate
}

type gate struct {
	rw   sync.RWMutex
	refs int
}

func newAnswerGate() *answerGate {
	return &answerGate{gates: make(map[string]*gate)}
}

// shared admits a vote on answerID.
func (g *answerGate) shared(answerID string) Unlock {
	entry := g.acquire(answerID)
	entry.rw.RLock()
	return func() {
		entry.rw.RUnlock()
		g.release(answerID, entry)
	}
}

// exclusive waits for in-flight votes on answerID and blocks new ones.
func (g *answerGate) exclusive(answerID string) Unlock {
	entry := g.acquire(answerID)
	entry.rw.Lock()
	return func() {
		entry.rw.Unlock()
		g.release(answerID, entry)
	}
}

func (g *answerGate) acquire(answerID string) *gate {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.gates[answerID]
	if !ok {
		entry = &gate{}
		g.gates[answerID] = entry
	}
	entry.refs++
	return entry
}

func (g *answerGate) release(answerID string, entry *gate) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(g.gates, answerID)
	}
}

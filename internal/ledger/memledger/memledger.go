// Package memledger provides an in-memory implementation of dedup.Ledger.
package memledger

import (
	"context"
	"sync"
	"time"
)

// Ledger holds seen alert identifiers in memory. Suitable for dev/testing;
// contents are lost on restart.
type Ledger struct {
	mu   sync.RWMutex
	seen map[string]time.Time // identifier -> first recorded
}

// New initializes an empty Ledger.
func New() *Ledger {
	return &Ledger{seen: make(map[string]time.Time)}
}

// Exists reports whether id has been recorded.
func (l *Ledger) Exists(_ context.Context, id string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.seen[id]
	return ok, nil
}

// Put records id. Recording an existing id keeps its first timestamp.
func (l *Ledger) Put(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[id]; !ok {
		l.seen[id] = time.Now()
	}
	return nil
}

// Len returns the number of recorded identifiers.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.seen)
}

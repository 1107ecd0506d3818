package engine

import (
	"sort"
	"sync"
)

// settlementLocks serializes all writes to a settlement. Locks are created
// on first use and never reclaimed; the population of settlements per
// process is small enough that this is fine.
type settlementLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSettlementLocks() *settlementLocks {
	return &settlementLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *settlementLocks) get(id string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

// Lock acquires one settlement's lock.
func (l *settlementLocks) Lock(id string) func() {
	m := l.get(id)
	m.Lock()
	return m.Unlock
}

// LockAll acquires several settlements' locks in id order, so concurrent
// multi-settlement operations (disaster ticks) can never deadlock.
func (l *settlementLocks) LockAll(ids []string) func() {
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)

	ms := make([]*sync.Mutex, 0, len(sorted))
	for i, id := range sorted {
		if i > 0 && id == sorted[i-1] {
			continue
		}
		m := l.get(id)
		m.Lock()
		ms = append(ms, m)
	}
	return func() {
		for i := len(ms) - 1; i >= 0; i-- {
			ms[i].Unlock()
		}
	}
}

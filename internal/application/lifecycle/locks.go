package lifecycle

import (
	"sync"

	"github.com/google/uuid"
)

// keyedLocks hands out one mutex per campaign so concurrent writes against
// the same campaign serialize while unrelated campaigns proceed in parallel.
// Locks are held only across the guard checks and the synchronous ledger
// submit, never across confirmation waits.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

// lock returns a release function that is safe to call more than once, so
// callers can release eagerly before a confirmation wait and still keep a
// deferred release for error paths.
func (k *keyedLocks) lock(key uuid.UUID) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	var once sync.Once
	return func() { once.Do(m.Unlock) }
}

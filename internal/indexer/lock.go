package indexer

import (
	"sync"
	"sync/atomic"
)

// IndexLock provides non-blocking lock semantics using atomic operations.
type IndexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the goroutine that successfully acquired the lock.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// Held reports whether the lock is currently taken
func (l *IndexLock) Held() bool {
	return l.state.Load() == 1
}

// Locks is a registry of per-project locks. A second ingestion of the same
// project is rejected rather than queued.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*IndexLock
}

// NewLocks creates an empty registry
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*IndexLock)}
}

func (l *Locks) get(key string) *IndexLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &IndexLock{}
		l.locks[key] = lk
	}
	return lk
}

// TryAcquire takes the lock for key without blocking
func (l *Locks) TryAcquire(key string) bool {
	return l.get(key).TryAcquire()
}

// Release frees the lock for key
func (l *Locks) Release(key string) {
	l.get(key).Release()
}

// Held reports whether key is locked
func (l *Locks) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[key]
	return ok && lk.Held()
}

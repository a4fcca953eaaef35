package indexer

import "sync/atomic"

// IndexLock admits at most one indexing run at a time. Callers that lose
// the race get an immediate false instead of blocking behind the holder.
type IndexLock struct {
	state atomic.Int32 // 0 free, 1 held
}

// TryAcquire claims the lock, reporting false when a run already holds it.
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release frees the lock. Only the holder may call it.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

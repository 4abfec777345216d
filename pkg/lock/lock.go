package lock

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Locker serializes work under a named key.
type Locker interface {
	// Acquire blocks until the key's lock is held or ctx is done.
	// The returned release function must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// AccountKey names the per-account lock. Every mutation of an account's
// access state must acquire this key; mutual exclusion between the
// reconciler and the expiry sweeper holds only if both use it.
func AccountKey(accountID uuid.UUID) string {
	return "billing:account:" + accountID.String()
}

// MemoryLocker is an in-process keyed mutex. Entries are reference-counted
// so the map does not grow with the number of keys ever seen.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	ch   chan struct{} // buffered size 1; holding the token means holding the lock
	refs int
}

// NewMemoryLocker returns an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]*refLock)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	rl, ok := l.locks[key]
	if !ok {
		rl = &refLock{ch: make(chan struct{}, 1)}
		rl.ch <- struct{}{}
		l.locks[key] = rl
	}
	rl.refs++
	l.mu.Unlock()

	select {
	case <-rl.ch:
	case <-ctx.Done():
		l.put(key, rl)
		return nil, ErrNotAcquired
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			rl.ch <- struct{}{}
			l.put(key, rl)
		})
	}
	return release, nil
}

func (l *MemoryLocker) put(key string, rl *refLock) {
	l.mu.Lock()
	rl.refs--
	if rl.refs == 0 {
		delete(l.locks, key)
	}
	l.mu.Unlock()
}

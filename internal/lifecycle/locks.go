package lifecycle

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// tokenLocks hands out one exclusive lock per token. Entries are reference
// counted and dropped once no holder or waiter remains.
type tokenLocks struct {
	mu    sync.Mutex
	locks map[string]*tokenLock
}

type tokenLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newTokenLocks() *tokenLocks {
	return &tokenLocks{locks: make(map[string]*tokenLock)}
}

func (l *tokenLocks) ref(token string) *tokenLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[token]
	if !ok {
		lock = &tokenLock{sem: semaphore.NewWeighted(1)}
		l.locks[token] = lock
	}
	lock.refs++
	return lock
}

func (l *tokenLocks) unref(token string, lock *tokenLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, token)
	}
}

// Lock blocks until the token is free or ctx is done.
func (l *tokenLocks) Lock(ctx context.Context, token string) (func(), error) {
	lock := l.ref(token)
	if err := lock.sem.Acquire(ctx, 1); err != nil {
		l.unref(token, lock)
		return nil, err
	}
	return l.releaser(token, lock), nil
}

// TryLock never waits; ok is false when another holder owns the token.
func (l *tokenLocks) TryLock(token string) (func(), bool) {
	lock := l.ref(token)
	if !lock.sem.TryAcquire(1) {
		l.unref(token, lock)
		return nil, false
	}
	return l.releaser(token, lock), true
}

func (l *tokenLocks) releaser(token string, lock *tokenLock) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			lock.sem.Release(1)
			l.unref(token, lock)
		})
	}
}

// size reports how many tokens currently have holders or waiters.
func (l *tokenLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

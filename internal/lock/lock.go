// Package lock provides per-key mutual exclusion for the intake pipeline.
//
// Every inbound message takes a lease on its phone number before the
// conversation is read and written, so two messages from the same phone never
// interleave their read-modify-write. LocalLocker covers a single process;
// RedisLocker extends the lease across instances.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrLockTimeout is returned when a lease could not be obtained before the
// context expired or the backend gave up.
var ErrLockTimeout = errors.New("lock not acquired")

// Unlock releases a lease. It is safe to call more than once.
type Unlock func()

// Locker hands out exclusive leases keyed by an arbitrary string.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// Error reports the key that could not be locked.
type Error struct {
	Key   string
	Cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("lock %q: %v", e.Key, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrLockTimeout) match any lock Error.
func (e *Error) Is(target error) bool { return target == ErrLockTimeout }

type entry struct {
	ch   chan struct{}
	refs int
}

// LocalLocker is an in-process keyed mutex. Idle keys are dropped so the map
// does not grow with the number of phones ever seen.
type LocalLocker struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Compile-time check that LocalLocker implements Locker.
var _ Locker = (*LocalLocker)(nil)

// NewLocalLocker creates a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{entries: make(map[string]*entry)}
}

// Lock blocks until the key is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		slog.Debug("LocalLocker.Lock: context done while waiting", "key", key, "error", ctx.Err())
		return nil, &Error{Key: key, Cause: ctx.Err()}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.ch
			l.release(key, e)
		})
	}, nil
}

func (l *LocalLocker) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// size reports the number of tracked keys.
func (l *LocalLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

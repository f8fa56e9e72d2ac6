package database

import (
	"context"
	"sync"
)

// userLocks serializes transactions acting on behalf of the same user, or
// on the same course, within this process. Entries are dropped once nobody
// holds or waits for them.
type userLocks struct {
	mu   sync.Mutex
	byID map[uint64]*userLock
}

type userLock struct {
	sem  chan struct{}
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{byID: make(map[uint64]*userLock)}
}

func (l *userLocks) lock(ctx context.Context, userID uint64) (func(), error) {
	l.mu.Lock()
	m, ok := l.byID[userID]
	if !ok {
		m = &userLock{sem: make(chan struct{}, 1)}
		l.byID[userID] = m
	}
	m.refs++
	l.mu.Unlock()

	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, m)
		return nil, ctx.Err()
	}
	return func() {
		<-m.sem
		l.release(userID, m)
	}, nil
}

func (l *userLocks) release(userID uint64, m *userLock) {
	l.mu.Lock()
	m.refs--
	if m.refs == 0 {
		delete(l.byID, userID)
	}
	l.mu.Unlock()
}

func (l *userLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byID)
}

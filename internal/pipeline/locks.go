package pipeline

import "sync"

// lockTable serializes work per conversation so turns append in the order
// they complete. Locks are created on demand and dropped once the last
// holder releases them.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*convLock
}

type convLock struct {
	mu   sync.Mutex
	refs int
}

func newLockTable() *lockTable {
	return &lockTable{locks: map[string]*convLock{}}
}

func (t *lockTable) acquire(id string) *convLock {
	t.mu.Lock()
	l, ok := t.locks[id]
	if !ok {
		l = &convLock{}
		t.locks[id] = l
	}
	l.refs++
	t.mu.Unlock()

	l.mu.Lock()
	return l
}

func (t *lockTable) release(id string, l *convLock) {
	l.mu.Unlock()

	t.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(t.locks, id)
	}
	t.mu.Unlock()
}

package workflow

import "sync"

// turnLocks serializes turns per session. Entries live while any turn holds
// or waits for them, independent of the session's workflow handle, so ending
// a session mid-turn cannot let a second turn run beside the first.
type turnLocks struct {
	mu    sync.Mutex
	locks map[string]*turnLock
}

type turnLock struct {
	mu   sync.Mutex
	refs int
}

func newTurnLocks() *turnLocks {
	return &turnLocks{locks: make(map[string]*turnLock)}
}

// lock blocks until sessionID's turn lock is held and returns its release.
func (l *turnLocks) lock(sessionID string) func() {
	l.mu.Lock()
	tl, ok := l.locks[sessionID]
	if !ok {
		tl = &turnLock{}
		l.locks[sessionID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		l.mu.Lock()
		defer l.mu.Unlock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, sessionID)
		}
	}
}

// busy reports whether a turn of sessionID is running or waiting.
func (l *turnLocks) busy(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.locks[sessionID]
	return ok
}

package session

import "sync"

// roomLocks hands out one mutex per room. Entries are reference counted and
// removed once no goroutine holds or waits on them.
type roomLocks struct {
	mu      sync.Mutex
	entries map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{entries: make(map[string]*roomLock)}
}

// lock blocks until the room's mutex is held and returns the release func.
func (l *roomLocks) lock(roomID string) func() {
	l.mu.Lock()
	entry, ok := l.entries[roomID]
	if !ok {
		entry = &roomLock{}
		l.entries[roomID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, roomID)
		}
		l.mu.Unlock()
	}
}

func (l *roomLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

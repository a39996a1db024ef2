package orglock

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
)

type lockEntry struct {
	sem  chan struct{}
	refs int
}

// MemoryLocker is the single-process locker used when Redis is not
// configured. Entries are reference-counted so idle organizations do
// not accumulate.
type MemoryLocker struct {
	mu      sync.Mutex
	locks   map[snowflake.ID]*lockEntry
	timeout time.Duration
}

func NewMemoryLocker(timeout time.Duration) *MemoryLocker {
	return &MemoryLocker{
		locks:   make(map[snowflake.ID]*lockEntry),
		timeout: timeout,
	}
}

func (l *MemoryLocker) Acquire(ctx context.Context, orgID snowflake.ID) (func(), error) {
	entry := l.retain(orgID)

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case entry.sem <- struct{}{}:
		var once sync.Once
		release := func() {
			once.Do(func() {
				<-entry.sem
				l.put(orgID)
			})
		}
		return release, nil
	case <-timer.C:
		l.put(orgID)
		return nil, ErrLockTimeout
	case <-ctx.Done():
		l.put(orgID)
		return nil, ctx.Err()
	}
}

func (l *MemoryLocker) retain(orgID snowflake.ID) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[orgID]
	if !ok {
		entry = &lockEntry{sem: make(chan struct{}, 1)}
		l.locks[orgID] = entry
	}
	entry.refs++
	return entry
}

func (l *MemoryLocker) put(orgID snowflake.ID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.locks[orgID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(l.locks, orgID)
	}
}

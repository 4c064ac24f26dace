package assignments

import (
	"context"
	"sync"

	"github.com/loopos/loopos/internal/shared"
)

// Locker grants exclusive access to a named resource. The returned release
// func must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker constructs a LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*lockSlot)}
}

// Lock blocks until key is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.drop(key, slot)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.drop(key, slot)
		})
	}, nil
}

func (l *LocalLocker) drop(key string, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}

func lockBoth(ctx context.Context, locker Locker, plantID string) (func(), error) {
	releasePlant, err := locker.Lock(ctx, shared.PlantLockKey(plantID))
	if err != nil {
		return nil, err
	}
	releaseMembers, err := locker.Lock(ctx, shared.MembersLockKey())
	if err != nil {
		releasePlant()
		return nil, err
	}
	return func() {
		releaseMembers()
		releasePlant()
	}, nil
}

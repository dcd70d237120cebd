// Package lease serializes builds per prototype id.
package lease

import (
	"context"
	"errors"
	"sync"
)

// ErrHeld is returned when another build holds the lease for the id.
var ErrHeld = errors.New("lease already held")

// Lease is an acquired per-id lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out at most one Lease per id at a time.
type Locker interface {
	TryAcquire(ctx context.Context, id string) (Lease, error)
	Held(ctx context.Context, id string) (bool, error)
}

// Local is an in-process Locker.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal returns an empty in-process Locker.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// TryAcquire returns ErrHeld instead of waiting.
func (l *Local) TryAcquire(_ context.Context, id string) (Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[id]; ok {
		return nil, ErrHeld
	}
	l.held[id] = struct{}{}
	return &localLease{owner: l, id: id}, nil
}

// Held reports whether id is currently leased.
func (l *Local) Held(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[id]
	return ok, nil
}

type localLease struct {
	owner *Local
	id    string
	once  sync.Once
}

func (ll *localLease) Release(context.Context) error {
	ll.once.Do(func() {
		ll.owner.mu.Lock()
		delete(ll.owner.held, ll.id)
		ll.owner.mu.Unlock()
	})
	return nil
}

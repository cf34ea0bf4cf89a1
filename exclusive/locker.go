package exclusive

import (
	"context"
	"sync"
	"time"
)

// Locker grants short-lived exclusive tokens.
type Locker interface {
	// Acquire takes the token for key on behalf of owner for ttl. It
	// reports false if another owner holds an unexpired token. Acquiring a
	// token the owner already holds extends it.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)

	// Release gives up the token for key if owner still holds it.
	Release(ctx context.Context, key, owner string) error
}

type token struct {
	owner string
	until time.Time
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu     sync.Mutex
	tokens map[string]token
	now    func() time.Time
}

var _ Locker = (*MemoryLocker)(nil)

// NewMemoryLocker returns an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		tokens: make(map[string]token),
		now:    time.Now,
	}
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if t, ok := l.tokens[key]; ok && t.owner != owner && now.Before(t.until) {
		return false, nil
	}
	l.tokens[key] = token{owner: owner, until: now.Add(ttl)}
	return true, nil
}

// Release implements Locker.
func (l *MemoryLocker) Release(_ context.Context, key, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if t, ok := l.tokens[key]; ok && t.owner == owner {
		delete(l.tokens, key)
	}
	return nil
}

// Package lock provides per-key mutual exclusion with a time-to-live.
// A holder that dies without releasing loses the key once the TTL elapses.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Locker is the claim primitive used by the matcher. Acquire never blocks
// waiting for a held key; it reports false instead. A successful Acquire
// returns a token identifying that claim, and Release only frees the key
// while the token still owns it, so a holder whose TTL lapsed cannot drop
// the next holder's claim.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

type claim struct {
	token   string
	expires time.Time
}

// Memory is a single-process Locker.
type Memory struct {
	mu    sync.Mutex
	held  map[string]claim
	nowFn func() time.Time
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]claim), nowFn: time.Now}
}

func (m *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.nowFn()
	if c, ok := m.held[key]; ok && now.Before(c.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	m.held[key] = claim{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (m *Memory) Release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.held[key]; ok && c.token == token {
		delete(m.held, key)
	}
	return nil
}

// Held reports whether key is currently locked.
func (m *Memory) Held(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.held[key]
	return ok && m.nowFn().Before(c.expires)
}

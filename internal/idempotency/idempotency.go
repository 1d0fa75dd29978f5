// Package idempotency provides short-lived locks used to deduplicate
// identical in-flight requests. It is an injectable collaborator: the HTTP
// layer and the digest scheduler receive a Locker, tests substitute the
// in-memory one.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Locker acquires and releases named TTL locks.
type Locker interface {
	// Acquire takes the lock when free, returning false when someone else
	// holds it. The lock self-expires after ttl.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Key derives a stable lock key from the request's identifying parts.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return "lock:" + hex.EncodeToString(h.Sum(nil))[:32]
}

// MemoryLocker is the in-process implementation.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
	now   func() time.Time
}

// NewMemoryLocker creates an in-memory locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expiry, ok := m.locks[key]; ok && m.now().Before(expiry) {
		return false, nil
	}
	m.locks[key] = m.now().Add(ttl)
	return true, nil
}

func (m *MemoryLocker) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
	return nil
}

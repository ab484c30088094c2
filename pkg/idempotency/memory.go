package idempotency

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

type memoryEntry struct {
	token   string
	expires time.Time
}

// MemoryStore is a process-local Guard for single-process runs and tests.
type MemoryStore struct {
	entries *xsync.MapOf[string, memoryEntry]
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: xsync.NewMapOf[string, memoryEntry](),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryStore) Seen(_ context.Context, key string) (bool, error) {
	_, taken := m.take(key, "1", m.ttl)
	return !taken, nil
}

func (m *MemoryStore) Claim(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	_, taken := m.take(key, token, ttl)
	return taken, nil
}

func (m *MemoryStore) Release(_ context.Context, key, token string) error {
	m.entries.Compute(key, func(old memoryEntry, loaded bool) (memoryEntry, bool) {
		if !loaded {
			return old, true
		}
		return old, old.token == token
	})
	return nil
}

// take stores key for token unless a live entry exists.
func (m *MemoryStore) take(key, token string, ttl time.Duration) (memoryEntry, bool) {
	now := m.now()
	taken := false
	v, _ := m.entries.Compute(key, func(old memoryEntry, loaded bool) (memoryEntry, bool) {
		if loaded && (old.expires.IsZero() || now.Before(old.expires)) {
			return old, false
		}
		taken = true
		e := memoryEntry{token: token}
		if ttl > 0 {
			e.expires = now.Add(ttl)
		}
		return e, false
	})
	return v, taken
}

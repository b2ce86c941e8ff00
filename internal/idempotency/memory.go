package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	rec     Record
	expires time.Time
}

type MemoryStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	claimTTL time.Duration
	now      func() time.Time
	entries  map[string]memoryEntry
}

// NewMemoryStore keeps completed records for ttl and in-flight claims for
// claimTTL. Non-positive values select DefaultTTL and DefaultClaimTTL.
func NewMemoryStore(ttl, claimTTL time.Duration) *MemoryStore {
	ttl, claimTTL = normalizeTTLs(ttl, claimTTL)
	return &MemoryStore{
		ttl:      ttl,
		claimTTL: claimTTL,
		now:      time.Now,
		entries:  make(map[string]memoryEntry),
	}
}

func (m *MemoryStore) getLocked(key string) (Record, bool) {
	e, ok := m.entries[key]
	if !ok {
		return Record{}, false
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return Record{}, false
	}
	return e.rec, true
}

func (m *MemoryStore) Begin(_ context.Context, key string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.getLocked(key); ok {
		return existing, false, nil
	}
	now := m.now()
	rec := Record{Key: key, State: StateProcessing, UpdatedAt: now}
	m.entries[key] = memoryEntry{rec: rec, expires: now.Add(m.claimTTL)}
	return rec, true, nil
}

func (m *MemoryStore) Complete(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec.State = StateComplete
	rec.UpdatedAt = now
	m.entries[rec.Key] = memoryEntry{rec: rec, expires: now.Add(m.ttl)}
	m.sweepLocked(now)
	return nil
}

func (m *MemoryStore) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok && e.rec.State == StateProcessing {
		delete(m.entries, key)
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.getLocked(key)
	return rec, ok, nil
}

// sweepLocked drops expired entries so the map stays bounded by the TTL.
func (m *MemoryStore) sweepLocked(now time.Time) {
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
}

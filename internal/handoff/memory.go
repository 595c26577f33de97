package handoff

import (
	"sync"
	"time"

	"battlecards-backend/internal/errors"
)

type memoryEntry struct {
	data      Data
	expiresAt time.Time
}

// MemoryCache is the single-process fallback used when Redis is not
// configured. Expired entries are swept on every access.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (mc *MemoryCache) Put(token string, data Data, ttl time.Duration) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.sweepLocked()
	mc.entries[token] = memoryEntry{data: data, expiresAt: mc.now().Add(ttl)}
	return nil
}

func (mc *MemoryCache) Take(token string) (*Data, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.sweepLocked()

	entry, ok := mc.entries[token]
	if !ok {
		return nil, errors.NotFound("handoff token not found or expired")
	}
	delete(mc.entries, token)
	return &entry.data, nil
}

func (mc *MemoryCache) sweepLocked() {
	now := mc.now()
	for token, entry := range mc.entries {
		if now.After(entry.expiresAt) {
			delete(mc.entries, token)
		}
	}
}

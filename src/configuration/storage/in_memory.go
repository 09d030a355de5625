package storage

import (
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// InMemoryStorage is a TTL key/value store with the subset of Redis
// semantics the in-memory backends need.
type InMemoryStorage struct {
	mu   sync.RWMutex
	data map[string]entry
	now  func() time.Time
}

func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		data: make(map[string]entry),
		now:  time.Now,
	}
}

// WithClock swaps the time source; tests use it to expire keys.
func (s *InMemoryStorage) WithClock(now func() time.Time) *InMemoryStorage {
	s.now = now
	return s
}

func (s *InMemoryStorage) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[key]
	if !ok || e.expired(s.now()) {
		return nil, false
	}
	return append([]byte(nil), e.value...), true
}

func (s *InMemoryStorage) Set(key string, value []byte, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = s.newEntry(value, ttl)
}

// SetNX stores value only when key is absent or expired.
func (s *InMemoryStorage) SetNX(key string, value []byte, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.data[key]; ok && !e.expired(s.now()) {
		return false
	}
	s.data[key] = s.newEntry(value, ttl)
	return true
}

func (s *InMemoryStorage) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Sweep drops expired keys and returns how many were removed.
func (s *InMemoryStorage) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for k, e := range s.data {
		if e.expired(now) {
			delete(s.data, k)
			removed++
		}
	}
	return removed
}

func (s *InMemoryStorage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *InMemoryStorage) newEntry(value []byte, ttl time.Duration) entry {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	return e
}

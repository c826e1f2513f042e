package cache

import (
	"context"
	"sync"
	"time"
)

type lock struct {
	token     uint64
	expiresAt time.Time
}

type entry struct {
	value     []byte
	expiresAt time.Time
	tags      []string
}

// MemoryStore is an in-process Store and Locker for local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]entry
	tags    map[string]map[string]struct{}
	locks   map[string]lock
	lockSeq uint64
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]entry),
		tags:    make(map[string]map[string]struct{}),
		locks:   make(map[string]lock),
		now:     time.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		m.deleteLocked(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteLocked(key)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = entry{value: value, expiresAt: expiresAt, tags: tags}
	for _, tag := range tags {
		keys, ok := m.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			m.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) InvalidateTags(ctx context.Context, tags ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tag := range tags {
		for key := range m.tags[tag] {
			m.deleteLocked(key)
		}
		delete(m.tags, tag)
	}
	return nil
}

func (m *MemoryStore) deleteLocked(key string) {
	e, ok := m.entries[key]
	if !ok {
		return
	}
	for _, tag := range e.tags {
		delete(m.tags[tag], key)
	}
	delete(m.entries, key)
}

func (m *MemoryStore) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, ok := m.locks[key]; ok && now.Before(l.expiresAt) {
		return nil, ErrLockHeld
	}
	m.lockSeq++
	token := m.lockSeq
	m.locks[key] = lock{token: token, expiresAt: now.Add(ttl)}

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		// Only release the lock this call acquired.
		if m.locks[key].token == token {
			delete(m.locks, key)
		}
	}, nil
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Locker = (*MemoryStore)(nil)
)

package cache

import (
	"context"
	"sort"
	"sync"
)

// MemoryStorage keeps every store in process memory.
type MemoryStorage struct {
	mutex  sync.RWMutex
	stores map[string]*memoryStore
}

// NewMemory creates an empty in-memory storage
func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		stores: make(map[string]*memoryStore),
	}
}

func (m *MemoryStorage) Open(_ context.Context, name string) (Store, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	store, ok := m.stores[name]
	if !ok {
		store = &memoryStore{entries: make(map[string]*Response)}
		m.stores[name] = store
	}
	return store, nil
}

func (m *MemoryStorage) Lookup(_ context.Context, name string) (Store, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	store, ok := m.stores[name]
	if !ok {
		return nil, false, nil
	}
	return store, true, nil
}

func (m *MemoryStorage) Has(_ context.Context, name string) (bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	_, ok := m.stores[name]
	return ok, nil
}

func (m *MemoryStorage) Keys(_ context.Context) ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	names := make([]string, 0, len(m.stores))
	for name := range m.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	store, ok := m.stores[name]
	if !ok {
		return false, nil
	}
	delete(m.stores, name)

	store.mutex.Lock()
	store.deleted = true
	store.entries = make(map[string]*Response)
	store.mutex.Unlock()
	return true, nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

type memoryStore struct {
	mutex   sync.RWMutex
	entries map[string]*Response
	deleted bool
}

func (s *memoryStore) Match(_ context.Context, key string) (*Response, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	resp, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return resp.Clone(), nil
}

func (s *memoryStore) Put(_ context.Context, key string, resp *Response) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.deleted {
		return ErrNotFound
	}
	s.entries[key] = resp.Clone()
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) (bool, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok, nil
}

func (s *memoryStore) Keys(_ context.Context) ([]string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

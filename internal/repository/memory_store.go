package repository

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process DocumentStore used for tests and local runs
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[DocumentKind]map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[DocumentKind]map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, kind DocumentKind, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	body, ok := s.docs[kind][key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}

func (s *MemoryStore) Put(_ context.Context, kind DocumentKind, key string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.docs[kind] == nil {
		s.docs[kind] = make(map[string][]byte)
	}
	stored := make([]byte, len(body))
	copy(stored, body)
	s.docs[kind][key] = stored
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, kind DocumentKind, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[kind][key]; !ok {
		return ErrNotFound
	}
	delete(s.docs[kind], key)
	return nil
}

func (s *MemoryStore) Keys(_ context.Context, kind DocumentKind) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.docs[kind]))
	for k := range s.docs[kind] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

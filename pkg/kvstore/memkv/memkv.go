// Package memkv is an in-memory kvstore.Store used by unit tests and by
// clones that do not need durability across restarts.
package memkv

import (
	"context"
	"sort"
	"sync"

	"github.com/liveclone/gldb/pkg/kvstore"
)

type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *Store) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	s.data[key] = cp
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *Store) sortedKeys() []string {
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) ScanPrefix(_ context.Context, prefix string, fn func(key string, value []byte) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.sortedKeys() {
		if len(k) < len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		if !fn(k, s.data[k]) {
			return nil
		}
	}
	return nil
}

func (s *Store) ScanRange(_ context.Context, start, end string, fn func(key string, value []byte) bool) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.sortedKeys() {
		if k < start {
			continue
		}
		if end != "" && k >= end {
			break
		}
		if !fn(k, s.data[k]) {
			return nil
		}
	}
	return nil
}

type batch struct {
	store   *Store
	puts    map[string][]byte
	deletes map[string]bool
}

func (b *batch) Put(key string, value []byte) {
	cp := make([]byte, len(value))
	copy(cp, value)
	b.puts[key] = cp
	delete(b.deletes, key)
}

func (b *batch) Delete(key string) {
	b.deletes[key] = true
	delete(b.puts, key)
}

func (s *Store) Batch(_ context.Context, fn func(kvstore.Batch) error) error {
	b := &batch{store: s, puts: make(map[string][]byte), deletes: make(map[string]bool)}
	if err := fn(b); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range b.puts {
		s.data[k] = v
	}
	for k := range b.deletes {
		delete(s.data, k)
	}
	return nil
}

func (s *Store) Close() error { return nil }

var _ kvstore.Store = (*Store)(nil)

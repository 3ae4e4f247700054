package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/jonwraymond/graphgate/cache"
)

// memStore is a minimal in-memory cache.Store for executor and server
// tests. TTLs are honored on read.
type memStore struct {
	mu     sync.Mutex
	values map[string]memEntry
	sets   map[string]map[string]bool
	lists  map[string][][]byte
}

type memEntry struct {
	data    []byte
	expires time.Time
}

func newMemStore() *memStore {
	return &memStore{
		values: make(map[string]memEntry),
		sets:   make(map[string]map[string]bool),
		lists:  make(map[string][][]byte),
	}
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok || time.Now().After(e.expires) {
		return nil, cache.ErrNotFound
	}
	return e.data, nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = memEntry{data: value, expires: time.Now().Add(ttl)}
	return nil
}

func (s *memStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

func (s *memStore) SAdd(_ context.Context, key string, members []string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]bool)
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = true
	}
	return nil
}

func (s *memStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var members []string
	for m := range s.sets[key] {
		members = append(members, m)
	}
	return members, nil
}

func (s *memStore) PushCapped(_ context.Context, key string, value []byte, max int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := append([][]byte{value}, s.lists[key]...)
	if int64(len(list)) > max {
		list = list[:max]
	}
	s.lists[key] = list
	return nil
}

var _ cache.Store = (*memStore)(nil)

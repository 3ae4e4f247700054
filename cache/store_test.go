package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeStore is an in-memory Store for tests. It honors TTLs so expiry
// behavior can be exercised without a real shared tier, and can be
// switched into a failing mode to test degradation.
type fakeStore struct {
	mu          sync.Mutex
	values      map[string]fakeValue
	sets        map[string]map[string]struct{}
	setExpiries map[string]time.Time
	lists       map[string][][]byte

	failing bool
	setOps  int
	getOps  int
}

type fakeValue struct {
	data      []byte
	expiresAt time.Time
}

var errStoreDown = errors.New("store down")

func newFakeStore() *fakeStore {
	return &fakeStore{
		values:      make(map[string]fakeValue),
		sets:        make(map[string]map[string]struct{}),
		setExpiries: make(map[string]time.Time),
		lists:       make(map[string][][]byte),
	}
}

func (s *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOps++
	if s.failing {
		return nil, errStoreDown
	}
	v, ok := s.values[key]
	if !ok || time.Now().After(v.expiresAt) {
		delete(s.values, key)
		return nil, ErrNotFound
	}
	return v.data, nil
}

func (s *fakeStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setOps++
	if s.failing {
		return errStoreDown
	}
	s.values[key] = fakeValue{data: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *fakeStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreDown
	}
	for _, key := range keys {
		delete(s.values, key)
		delete(s.sets, key)
	}
	return nil
}

func (s *fakeStore) SAdd(_ context.Context, key string, members []string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreDown
	}
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]struct{})
		s.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
	// The Store contract is extend-only: a later write with a shorter
	// TTL must never pull a tag set's expiry in.
	if deadline := time.Now().Add(ttl); deadline.After(s.setExpiries[key]) {
		s.setExpiries[key] = deadline
	}
	return nil
}

func (s *fakeStore) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return nil, errStoreDown
	}
	members := make([]string, 0, len(s.sets[key]))
	for m := range s.sets[key] {
		members = append(members, m)
	}
	return members, nil
}

func (s *fakeStore) PushCapped(_ context.Context, key string, value []byte, max int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errStoreDown
	}
	list := append([][]byte{value}, s.lists[key]...)
	if int64(len(list)) > max {
		list = list[:max]
	}
	s.lists[key] = list
	return nil
}

// dropValue simulates independent TTL expiry of a member while its tag
// set lives on.
func (s *fakeStore) dropValue(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

func (s *fakeStore) setFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

func (s *fakeStore) hasValue(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return ok && time.Now().Before(v.expiresAt)
}

func (s *fakeStore) setExpiry(key string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setExpiries[key]
}

func (s *fakeStore) listLen(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lists[key])
}

// Ensure fakeStore implements Store.
var _ Store = (*fakeStore)(nil)

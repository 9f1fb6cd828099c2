package kv

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"permwatch/pkg/platform/sentinel"
)

// MemoryStore keeps everything in process memory. It mirrors the Redis
// semantics the services rely on (SetNX atomicity, negative list indices,
// lazy TTL eviction) and favors clarity over performance.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	strings map[string]string
	lists   map[string][]string
	hashes  map[string]map[string]string
	expiry  map[string]time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the clock used for TTL evaluation.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemory constructs an empty in-memory store.
func NewMemory(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		now:     time.Now,
		strings: make(map[string]string),
		lists:   make(map[string][]string),
		hashes:  make(map[string]map[string]string),
		expiry:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// evictLocked drops key if its TTL has elapsed and reports whether it still exists.
func (s *MemoryStore) evictLocked(key string) bool {
	if exp, ok := s.expiry[key]; ok && !s.now().Before(exp) {
		s.deleteLocked(key)
		return false
	}
	return s.existsLocked(key)
}

func (s *MemoryStore) existsLocked(key string) bool {
	if _, ok := s.strings[key]; ok {
		return true
	}
	if _, ok := s.lists[key]; ok {
		return true
	}
	_, ok := s.hashes[key]
	return ok
}

func (s *MemoryStore) deleteLocked(key string) {
	delete(s.strings, key)
	delete(s.lists, key)
	delete(s.hashes, key)
	delete(s.expiry, key)
}

func (s *MemoryStore) setTTLLocked(key string, ttl time.Duration) {
	if ttl > 0 {
		s.expiry[key] = s.now().Add(ttl)
		return
	}
	delete(s.expiry, key)
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(key)
	val, ok := s.strings[key]
	if !ok {
		return "", fmt.Errorf("key %s: %w", key, sentinel.ErrNotFound)
	}
	return val, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteLocked(key)
	s.strings[key] = value
	s.setTTLLocked(key, ttl)
	return nil
}

func (s *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evictLocked(key) {
		return false, nil
	}
	s.strings[key] = value
	s.setTTLLocked(key, ttl)
	return true, nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		s.deleteLocked(key)
	}
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.evictLocked(key), nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.evictLocked(key) {
		return false, nil
	}
	if ttl <= 0 {
		s.deleteLocked(key)
		return true, nil
	}
	s.setTTLLocked(key, ttl)
	return true, nil
}

func (s *MemoryStore) Persist(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.evictLocked(key) {
		return false, nil
	}
	_, had := s.expiry[key]
	delete(s.expiry, key)
	return had, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.evictLocked(key) {
		return KeyMissing, nil
	}
	exp, ok := s.expiry[key]
	if !ok {
		return NoExpiry, nil
	}
	return exp.Sub(s.now()).Truncate(time.Second), nil
}

func (s *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	collect := func(key string) {
		if strings.HasPrefix(key, prefix) && s.evictLocked(key) {
			seen[key] = struct{}{}
		}
	}
	for key := range s.strings {
		collect(key)
	}
	for key := range s.lists {
		collect(key)
	}
	for key := range s.hashes {
		collect(key)
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) LPush(_ context.Context, key string, values ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(key)
	list := s.lists[key]
	for _, v := range values {
		list = append([]string{v}, list...)
	}
	s.lists[key] = list
	return int64(len(list)), nil
}

func (s *MemoryStore) RPush(_ context.Context, key string, values ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(key)
	s.lists[key] = append(s.lists[key], values...)
	return int64(len(s.lists[key])), nil
}

func (s *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(key)
	list := s.lists[key]
	from, to, ok := listBounds(int64(len(list)), start, stop)
	if !ok {
		return []string{}, nil
	}
	out := make([]string, to-from+1)
	copy(out, list[from:to+1])
	return out, nil
}

func (s *MemoryStore) LTrim(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.evictLocked(key) {
		return nil
	}
	list := s.lists[key]
	from, to, ok := listBounds(int64(len(list)), start, stop)
	if !ok {
		s.deleteLocked(key)
		return nil
	}
	trimmed := make([]string, to-from+1)
	copy(trimmed, list[from:to+1])
	s.lists[key] = trimmed
	return nil
}

func (s *MemoryStore) LRem(_ context.Context, key string, count int64, value string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.evictLocked(key) {
		return 0, nil
	}
	list := s.lists[key]
	limit := count
	if limit < 0 {
		limit = -limit
	}
	var removed int64
	keep := make([]bool, len(list))
	for i := range keep {
		keep[i] = true
	}
	visit := func(i int) {
		if list[i] == value && (limit == 0 || removed < limit) {
			keep[i] = false
			removed++
		}
	}
	if count < 0 {
		for i := len(list) - 1; i >= 0; i-- {
			visit(i)
		}
	} else {
		for i := range list {
			visit(i)
		}
	}
	out := list[:0:0]
	for i, v := range list {
		if keep[i] {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		s.deleteLocked(key)
	} else {
		s.lists[key] = out
	}
	return removed, nil
}

func (s *MemoryStore) LLen(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(key)
	return int64(len(s.lists[key])), nil
}

func (s *MemoryStore) HSet(_ context.Context, key string, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(key)
	h, ok := s.hashes[key]
	if !ok {
		h = make(map[string]string, len(values))
		s.hashes[key] = h
	}
	for field, value := range values {
		h[field] = value
	}
	return nil
}

func (s *MemoryStore) HGet(_ context.Context, key, field string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(key)
	val, ok := s.hashes[key][field]
	if !ok {
		return "", fmt.Errorf("field %s of %s: %w", field, key, sentinel.ErrNotFound)
	}
	return val, nil
}

func (s *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked(key)
	out := make(map[string]string, len(s.hashes[key]))
	for field, value := range s.hashes[key] {
		out[field] = value
	}
	return out, nil
}

func (s *MemoryStore) HDel(_ context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.evictLocked(key) {
		return nil
	}
	h := s.hashes[key]
	for _, field := range fields {
		delete(h, field)
	}
	if len(h) == 0 {
		s.deleteLocked(key)
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// listBounds resolves Redis-style inclusive indices (negative counts from
// the tail) against a list of length n.
func listBounds(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}

// Package memstore implements store.Store with in-process maps.
//
// It backs single-process deployments and tests. For multi-process
// deployments use the redisstore implementation: an in-process store cannot
// keep independent processes coherent.
package memstore

import (
	"bytes"
	"context"
	"path"
	"sync"
	"time"

	"github.com/surgecache/surgecache/store"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

type setEntry struct {
	members   map[string]struct{}
	expiresAt time.Time
}

type hashEntry struct {
	fields    map[string][]byte
	expiresAt time.Time
}

func expired(at time.Time, now time.Time) bool {
	return !at.IsZero() && now.After(at)
}

// Store is an in-memory store.Store.
type Store struct {
	mu     sync.RWMutex
	values map[string]entry
	sets   map[string]setEntry
	hashes map[string]hashEntry

	// now is swappable for expiration tests.
	now func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		values: make(map[string]entry),
		sets:   make(map[string]setEntry),
		hashes: make(map[string]hashEntry),
		now:    time.Now,
	}
}

func deadline(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

// Get returns the value at key, or store.ErrMiss.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.values[key]
	if !ok || expired(e.expiresAt, s.now()) {
		return nil, store.ErrMiss
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores value at key.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = entry{value: clone(value), expiresAt: deadline(s.now(), ttl)}
	return nil
}

// SetNX stores value only if key is absent or expired.
func (s *Store) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.values[key]; ok && !expired(e.expiresAt, s.now()) {
		return false, nil
	}
	s.values[key] = entry{value: clone(value), expiresAt: deadline(s.now(), ttl)}
	return true, nil
}

// CompareAndDelete deletes key only if it holds value.
func (s *Store) CompareAndDelete(_ context.Context, key string, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.values[key]
	if !ok || expired(e.expiresAt, s.now()) || !bytes.Equal(e.value, value) {
		return false, nil
	}
	delete(s.values, key)
	return true, nil
}

// Del removes keys of any kind.
func (s *Store) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.values, key)
		delete(s.sets, key)
		delete(s.hashes, key)
	}
	return nil
}

// SAdd adds members to the set at key.
func (s *Store) SAdd(_ context.Context, key string, ttl time.Duration, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.sets[key]
	if !ok || expired(e.expiresAt, now) {
		e = setEntry{members: make(map[string]struct{}, len(members))}
	}
	for _, m := range members {
		e.members[m] = struct{}{}
	}
	e.expiresAt = deadline(now, ttl)
	s.sets[key] = e
	return nil
}

// SRem removes members from the set at key.
func (s *Store) SRem(_ context.Context, key string, members ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sets[key]
	if !ok || expired(e.expiresAt, s.now()) {
		return nil
	}
	for _, m := range members {
		delete(e.members, m)
	}
	if len(e.members) == 0 {
		delete(s.sets, key)
	}
	return nil
}

// SMembers returns the members of the set at key.
func (s *Store) SMembers(_ context.Context, key string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.sets[key]
	if !ok || expired(e.expiresAt, s.now()) {
		return nil, nil
	}
	out := make([]string, 0, len(e.members))
	for m := range e.members {
		out = append(out, m)
	}
	return out, nil
}

// SUnion returns the union of the sets at keys.
func (s *Store) SUnion(_ context.Context, keys ...string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	seen := make(map[string]struct{})
	for _, key := range keys {
		e, ok := s.sets[key]
		if !ok || expired(e.expiresAt, now) {
			continue
		}
		for m := range e.members {
			seen[m] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	return out, nil
}

// HSet stores a field in the hash at key.
func (s *Store) HSet(_ context.Context, key, field string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.hashes[key]
	if !ok || expired(e.expiresAt, now) {
		e = hashEntry{fields: make(map[string][]byte, 1)}
	}
	e.fields[field] = clone(value)
	e.expiresAt = deadline(now, ttl)
	s.hashes[key] = e
	return nil
}

// HGet returns one field of the hash at key, or store.ErrMiss.
func (s *Store) HGet(_ context.Context, key, field string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.hashes[key]
	if !ok || expired(e.expiresAt, s.now()) {
		return nil, store.ErrMiss
	}
	v, ok := e.fields[field]
	if !ok {
		return nil, store.ErrMiss
	}
	return clone(v), nil
}

// HGetAll returns all fields of the hash at key.
func (s *Store) HGetAll(_ context.Context, key string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.hashes[key]
	if !ok || expired(e.expiresAt, s.now()) {
		return nil, nil
	}
	out := make(map[string][]byte, len(e.fields))
	for f, v := range e.fields {
		out[f] = clone(v)
	}
	return out, nil
}

// HDel removes fields from the hash at key.
func (s *Store) HDel(_ context.Context, key string, fields ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.hashes[key]
	if !ok || expired(e.expiresAt, s.now()) {
		return nil
	}
	for _, f := range fields {
		delete(e.fields, f)
	}
	if len(e.fields) == 0 {
		delete(s.hashes, key)
	}
	return nil
}

// HLen returns the field count of the hash at key.
func (s *Store) HLen(_ context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.hashes[key]
	if !ok || expired(e.expiresAt, s.now()) {
		return 0, nil
	}
	return int64(len(e.fields)), nil
}

// Scan returns keys of any kind matching a glob pattern.
func (s *Store) Scan(_ context.Context, pattern string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var out []string
	match := func(key string, expiresAt time.Time) {
		if expired(expiresAt, now) {
			return
		}
		if ok, err := path.Match(pattern, key); err == nil && ok {
			out = append(out, key)
		}
	}
	for k, e := range s.values {
		match(k, e.expiresAt)
	}
	for k, e := range s.sets {
		match(k, e.expiresAt)
	}
	for k, e := range s.hashes {
		match(k, e.expiresAt)
	}
	return out, nil
}

// Flush removes everything.
func (s *Store) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = make(map[string]entry)
	s.sets = make(map[string]setEntry)
	s.hashes = make(map[string]hashEntry)
	return nil
}

// Cleanup removes expired entries. The engine never requires it; long-lived
// single-process deployments can call it periodically to bound memory.
func (s *Store) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.values {
		if expired(e.expiresAt, now) {
			delete(s.values, k)
		}
	}
	for k, e := range s.sets {
		if expired(e.expiresAt, now) {
			delete(s.sets, k)
		}
	}
	for k, e := range s.hashes {
		if expired(e.expiresAt, now) {
			delete(s.hashes, k)
		}
	}
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Ensure Store implements store.Store
var _ store.Store = (*Store)(nil)

package store

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// MemoryStore is an in-process Store with the same per-operation atomicity
// as Redis. It backs tests and serves as a dev fallback when Redis is
// unreachable; state does not survive a restart.
type MemoryStore struct {
	mu       sync.Mutex
	scalars  map[string]string
	counters map[string]float64
	hashes   map[string]map[string]string
	lists    map[string][]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scalars:  make(map[string]string),
		counters: make(map[string]float64),
		hashes:   make(map[string]map[string]string),
		lists:    make(map[string][]string),
	}
}

// Get retrieves a string value.
func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.scalars[key]; ok {
		return v, nil
	}
	// Counters share the scalar keyspace, Redis semantics.
	if c, ok := m.counters[key]; ok {
		return strconv.FormatFloat(c, 'f', -1, 64), nil
	}
	return "", ErrNotFound
}

// Set stores a string value.
func (m *MemoryStore) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.counters, key)
	m.scalars[key] = value
	return nil
}

// SetNX stores value only if key is absent.
func (m *MemoryStore) SetNX(ctx context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.scalars[key]; ok {
		return false, nil
	}
	if _, ok := m.counters[key]; ok {
		return false, nil
	}
	m.scalars[key] = value
	return true, nil
}

// IncrByFloat atomically adds delta to a float counter.
func (m *MemoryStore) IncrByFloat(ctx context.Context, key string, delta float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.scalars[key]; ok {
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, ErrNotFound
		}
		delete(m.scalars, key)
		m.counters[key] = parsed
	}
	m.counters[key] += delta
	return m.counters[key], nil
}

// HGetAll returns a copy of all hash fields.
func (m *MemoryStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

// HSet writes hash fields.
func (m *MemoryStore) HSet(ctx context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

// RPush appends values to a list.
func (m *MemoryStore) RPush(ctx context.Context, key string, values ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lists[key] = append(m.lists[key], values...)
	return nil
}

// LRange returns list elements in [start, stop], Redis index semantics.
func (m *MemoryStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.lists[key]
	n := int64(len(list))
	if n == 0 {
		return nil, nil
	}

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
	if start > stop {
		return nil, nil
	}

	out := make([]string, stop-start+1)
	copy(out, list[start:stop+1])
	return out, nil
}

// LLen returns the list length.
func (m *MemoryStore) LLen(ctx context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return int64(len(m.lists[key])), nil
}

// Scan returns all matching keys in a single pass (cursor is always 0).
func (m *MemoryStore) Scan(ctx context.Context, cursor uint64, pattern string, count int64) ([]string, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.scalars {
		if matchPattern(pattern, k) {
			keys = append(keys, k)
		}
	}
	for k := range m.counters {
		if matchPattern(pattern, k) {
			keys = append(keys, k)
		}
	}
	for k := range m.hashes {
		if matchPattern(pattern, k) {
			keys = append(keys, k)
		}
	}
	for k := range m.lists {
		if matchPattern(pattern, k) {
			keys = append(keys, k)
		}
	}
	return keys, 0, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

// matchPattern supports the trailing-* glob form used by the mesh key schema.
func matchPattern(pattern, key string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == key
}

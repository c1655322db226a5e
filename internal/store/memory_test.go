package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSet(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Set(ctx, "k", "v"))
	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)
}

func TestMemoryStore_SetNX(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	ok, err := m.SetNX(ctx, "k", "first")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.SetNX(ctx, "k", "second")
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "first", v)
}

func TestMemoryStore_IncrByFloat(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	total, err := m.IncrByFloat(ctx, "cost", 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, total, 1e-12)

	total, err = m.IncrByFloat(ctx, "cost", 0.25)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, total, 1e-12)

	// Counters are readable through Get, Redis semantics.
	v, err := m.Get(ctx, "cost")
	require.NoError(t, err)
	assert.Equal(t, "0.75", v)
}

func TestMemoryStore_Hashes(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	fields, err := m.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Empty(t, fields)

	require.NoError(t, m.HSet(ctx, "h", map[string]string{"a": "1", "b": "2"}))
	require.NoError(t, m.HSet(ctx, "h", map[string]string{"b": "3"}))

	fields, err = m.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "3"}, fields)
}

func TestMemoryStore_Lists(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.RPush(ctx, "l", "a", "b", "c", "d"))

	n, err := m.LLen(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	tests := []struct {
		name        string
		start, stop int64
		want        []string
	}{
		{"full range", 0, -1, []string{"a", "b", "c", "d"}},
		{"prefix", 0, 1, []string{"a", "b"}},
		{"negative start", -2, -1, []string{"c", "d"}},
		{"stop past end", 2, 100, []string{"c", "d"}},
		{"inverted range", 3, 1, nil},
		{"negative start before head", -100, 0, []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.LRange(ctx, "l", tt.start, tt.stop)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMemoryStore_Scan(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, m.HSet(ctx, "circuit_breaker:coder", map[string]string{"status": "closed"}))
	require.NoError(t, m.HSet(ctx, "circuit_breaker:researcher", map[string]string{"status": "open"}))
	require.NoError(t, m.Set(ctx, "agent_cost:coder", "1.5"))

	keys, cursor, err := m.Scan(ctx, 0, "circuit_breaker:*", 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), cursor)
	assert.ElementsMatch(t, []string{"circuit_breaker:coder", "circuit_breaker:researcher"}, keys)
}

package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"context-sync-server/internal/domain"
)

func TestApplyVersioning(t *testing.T) {
	s := New()

	first := s.Apply("ctx-1", json.RawMessage(`{"a":1}`), nil)
	assert.Equal(t, uint64(1), first.Version)

	second := s.Apply("ctx-1", json.RawMessage(`{"a":2}`), nil)
	assert.Equal(t, uint64(2), second.Version)
	assert.False(t, second.Synchronized)

	third := s.Apply("ctx-1", json.RawMessage(`{"a":3}`), map[string]string{"k": "v"})
	assert.Equal(t, uint64(3), third.Version)
	assert.Equal(t, "v", third.Metadata["k"])
}

func TestApplyRemoteNeverRegresses(t *testing.T) {
	s := New()
	s.Apply("ctx-1", json.RawMessage(`{"a":1}`), nil)
	s.Apply("ctx-1", json.RawMessage(`{"a":2}`), nil)
	s.Apply("ctx-1", json.RawMessage(`{"a":3}`), nil)

	stale := domain.ContextState{
		ID:        "ctx-1",
		Version:   2,
		Timestamp: time.Now(),
		Data:      json.RawMessage(`{"a":"stale"}`),
	}

	applied := s.ApplyRemote(stale)
	assert.Equal(t, uint64(4), applied.Version)

	current, ok := s.Get("ctx-1")
	require.True(t, ok)
	assert.Equal(t, uint64(4), current.Version)
	assert.JSONEq(t, `{"a":"stale"}`, string(current.Data))
}

func TestApplyRemoteAhead(t *testing.T) {
	s := New()
	s.Apply("ctx-1", json.RawMessage(`{"a":1}`), nil)

	ahead := domain.ContextState{
		ID:      "ctx-1",
		Version: 9,
		Data:    json.RawMessage(`{"a":9}`),
	}

	applied := s.ApplyRemote(ahead)
	assert.Equal(t, uint64(9), applied.Version)
}

func TestDelete(t *testing.T) {
	s := New()
	s.Apply("ctx-1", json.RawMessage(`{}`), nil)

	assert.True(t, s.Delete("ctx-1"))
	assert.False(t, s.Delete("ctx-1"))

	_, ok := s.Get("ctx-1")
	assert.False(t, ok)
}

func TestMarkSynchronized(t *testing.T) {
	s := New()
	s.Apply("ctx-1", json.RawMessage(`{}`), nil)

	s.MarkSynchronized("ctx-1")

	state, ok := s.Get("ctx-1")
	require.True(t, ok)
	assert.True(t, state.Synchronized)
}

func TestList(t *testing.T) {
	s := New()
	s.Apply("a", json.RawMessage(`{}`), nil)
	s.Apply("b", json.RawMessage(`{}`), nil)

	assert.Len(t, s.List(), 2)
	assert.Equal(t, 2, s.Len())
}

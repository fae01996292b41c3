package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCreatesOnFirstUpdate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "slack:U1")
	assert.ErrorIs(t, err, ErrNotFound)

	record, err := s.Update(ctx, "slack:U1", map[string]any{"session.name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "slack:U1", record.ID())

	v, ok := record.Pick("session.name")
	require.True(t, ok)
	assert.Equal(t, "Ada", v)
}

func TestMemoryStoreMergesFields(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Update(ctx, "slack:U1", map[string]any{"session.name": "Ada"})
	require.NoError(t, err)

	record, err := s.Update(ctx, "slack:U1", map[string]any{"session.city": "London"})
	require.NoError(t, err)

	// Unnamed fields are never touched.
	v, _ := record.Pick("session.name")
	assert.Equal(t, "Ada", v)
	v, _ = record.Pick("session.city")
	assert.Equal(t, "London", v)
}

func TestMemoryStoreHandsOutCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	record, err := s.Update(ctx, "slack:U1", map[string]any{"session.name": "Ada"})
	require.NoError(t, err)

	Assign(record, "session.name", "mutated")

	fresh, err := s.Get(ctx, "slack:U1")
	require.NoError(t, err)
	v, _ := fresh.Pick("session.name")
	assert.Equal(t, "Ada", v)
}

func TestMemoryStoreRejectsEmptyID(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "")
	assert.Error(t, err)
	_, err = s.Update(ctx, "", map[string]any{"x": 1})
	assert.Error(t, err)
}

func TestUserRecordAccessors(t *testing.T) {
	u := UserRecord{
		"id":           "slack:U1",
		"type":         "slack",
		"bot_disabled": true,
		"session": map[string]any{
			"completed-stages": []any{"/welcome", "/ask-name"},
		},
	}

	assert.Equal(t, "slack:U1", u.ID())
	assert.Equal(t, "slack", u.Service())
	assert.True(t, u.BotDisabled())
	assert.Equal(t, []string{"/welcome", "/ask-name"}, u.CompletedStages())
	assert.True(t, u.HasCompleted("/welcome"))
	assert.False(t, u.HasCompleted("/other"))
}

func TestUserRecordCloneIsDeep(t *testing.T) {
	u := UserRecord{
		"session": map[string]any{"name": "Ada"},
	}

	clone := u.Clone()
	Assign(clone, "session.name", "mutated")

	v, _ := u.Pick("session.name")
	assert.Equal(t, "Ada", v)
}

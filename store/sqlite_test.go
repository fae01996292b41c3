package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreGetNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	_, err := s.Get(context.Background(), "slack:U1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStoreUpdateCreatesAndMerges(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	record, err := s.Update(ctx, "slack:U1", map[string]any{"session.name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "slack:U1", record.ID())

	_, err = s.Update(ctx, "slack:U1", map[string]any{"session.prefs.lang": "en"})
	require.NoError(t, err)

	fresh, err := s.Get(ctx, "slack:U1")
	require.NoError(t, err)

	v, _ := fresh.Pick("session.name")
	assert.Equal(t, "Ada", v)
	v, _ = fresh.Pick("session.prefs.lang")
	assert.Equal(t, "en", v)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")
	ctx := context.Background()

	s, err := NewSQLiteStore(path)
	require.NoError(t, err)
	_, err = s.Update(ctx, "slack:U1", map[string]any{"session.name": "Ada"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()

	record, err := s.Get(ctx, "slack:U1")
	require.NoError(t, err)
	v, _ := record.Pick("session.name")
	assert.Equal(t, "Ada", v)
}

func TestSQLiteStoreRejectsEmptyID(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "")
	assert.Error(t, err)
	_, err = s.Update(ctx, "", map[string]any{"x": 1})
	assert.Error(t, err)
}

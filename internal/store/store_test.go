package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	sqlite, err := ConnectSQL(ctx, "sqlite3", filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlite.Close() })

	mr := miniredis.RunT(t)
	rs := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test")
	t.Cleanup(func() { rs.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
		"redis":  rs,
	}
}

func TestCollectionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, MessageCache, "c1")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Put(ctx, MessageCache, "c1", []byte(`{"v":1}`)))
			require.NoError(t, s.Put(ctx, MessageCache, "c1", []byte(`{"v":2}`)))
			got, err := s.Get(ctx, MessageCache, "c1")
			require.NoError(t, err)
			assert.Equal(t, `{"v":2}`, string(got))

			// Collections are independent.
			_, err = s.Get(ctx, HTTPCache, "c1")
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Delete(ctx, MessageCache, "c1"))
			require.NoError(t, s.Delete(ctx, MessageCache, "c1"))
			_, err = s.Get(ctx, MessageCache, "c1")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestUnknownCollectionRejected(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, Collection("users; DROP TABLE outbox"), "k")
			require.Error(t, err)
			require.Error(t, s.Put(ctx, Collection("nope"), "k", []byte("v")))
		})
	}
}

func TestOutboxKeepsInsertionOrderPerChat(t *testing.T) {
	ctx := context.Background()
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			id1, err := s.AppendOutbox(ctx, "c1", []byte("first"))
			require.NoError(t, err)
			_, err = s.AppendOutbox(ctx, "c2", []byte("other chat"))
			require.NoError(t, err)
			id3, err := s.AppendOutbox(ctx, "c1", []byte("second"))
			require.NoError(t, err)
			require.Greater(t, id3, id1)

			rows, err := s.ListOutbox(ctx, "c1")
			require.NoError(t, err)
			require.Len(t, rows, 2)
			assert.Equal(t, "first", string(rows[0].Payload))
			assert.Equal(t, "second", string(rows[1].Payload))
			assert.Equal(t, "c1", rows[1].ChatID)

			require.NoError(t, s.DeleteOutbox(ctx, id1))
			rows, err = s.ListOutbox(ctx, "c1")
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, id3, rows[0].ID)

			rows, err = s.ListOutbox(ctx, "c2")
			require.NoError(t, err)
			assert.Len(t, rows, 1)

			rows, err = s.ListOutbox(ctx, "missing")
			require.NoError(t, err)
			assert.Empty(t, rows)
		})
	}
}

func TestSQLStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	s, err := ConnectSQL(ctx, "sqlite3", path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, IconCache, "https://cdn/icon.png", []byte{0x89, 0x50}))
	_, err = s.AppendOutbox(ctx, "c1", []byte("queued"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = ConnectSQL(ctx, "sqlite3", path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, IconCache, "https://cdn/icon.png")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 0x50}, got)

	rows, err := s.ListOutbox(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "queued", string(rows[0].Payload))
}

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Options{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	mr := miniredis.RunT(t)
	s, err = Open(ctx, Options{Driver: "redis", RedisAddr: mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &RedisStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Options{Driver: "bolt"})
	require.Error(t, err)
}

package store

import (
	"context"
	"os"
	"testing"

	"ilpsdk/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, "balance:abc", []byte(`{"payable":"1"}`)))
	got, err := s.Get(ctx, "balance:abc")
	require.NoError(t, err)
	assert.Equal(t, `{"payable":"1"}`, string(got))

	require.NoError(t, s.Put(ctx, "balance:abc", []byte(`{"payable":"2"}`)))
	got, err = s.Get(ctx, "balance:abc")
	require.NoError(t, err)
	assert.Equal(t, `{"payable":"2"}`, string(got))

	require.NoError(t, s.Delete(ctx, "balance:abc"))
	_, err = s.Get(ctx, "balance:abc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory(t *testing.T) {
	s := NewMemory()
	exerciseStore(t, s)

	// Returned slices must not alias stored data.
	ctx := context.Background()
	buf := []byte("abc")
	require.NoError(t, s.Put(ctx, "k", buf))
	buf[0] = 'z'
	got, _ := s.Get(ctx, "k")
	assert.Equal(t, "abc", string(got))
}

func TestLevelDBReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(ctx, config.StoreConfig{Backend: "leveldb", Path: dir})
	require.NoError(t, err)
	exerciseStore(t, s)
	require.NoError(t, s.Put(ctx, "state", []byte("persisted")))
	require.NoError(t, s.Close())

	s, err = NewLevelDB(dir)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, "state")
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(got))
}

func TestRedis(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		url = "localhost:6379"
	}
	s, err := NewRedis(context.Background(), url, "", 0)
	if err != nil {
		t.Skip("Skipping integration test: redis not available")
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestPostgres(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("Skipping integration test: DATABASE_URL not set")
	}
	s, err := NewPostgres(context.Background(), dsn)
	if err != nil {
		t.Skip("Skipping integration test: database not available")
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.StoreConfig{Backend: "etcd"})
	assert.Error(t, err)
}

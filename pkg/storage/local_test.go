package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_ReadWriteDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = s.Read(ctx, "tasks/a.yaml")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Write(ctx, "tasks/a.yaml", []byte("a")))
	require.NoError(t, s.Write(ctx, "tasks/b.yaml", []byte("b")))

	data, err := s.Read(ctx, "tasks/a.yaml")
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))

	paths, err := s.List(ctx, "tasks")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tasks/a.yaml", "tasks/b.yaml"}, paths)

	require.NoError(t, s.Delete(ctx, "tasks/a.yaml"))
	exists, err := s.Exists(ctx, "tasks/a.yaml")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.ErrorIs(t, s.Delete(ctx, "tasks/a.yaml"), ErrNotFound)
}

func TestLocalStorage_ListMissingPrefix(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	paths, err := s.List(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestLocalStorage_WriteIfVersion(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.WriteIfVersion(ctx, "k", []byte("v1"), ""))
	assert.ErrorIs(t, s.WriteIfVersion(ctx, "k", []byte("again"), ""), ErrPreconditionFailed)

	_, v1, err := s.ReadVersioned(ctx, "k")
	require.NoError(t, err)

	require.NoError(t, s.WriteIfVersion(ctx, "k", []byte("v2"), v1))
	assert.ErrorIs(t, s.WriteIfVersion(ctx, "k", []byte("v3"), v1), ErrPreconditionFailed)

	data, err := s.Read(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	assert.ErrorIs(t, s.WriteIfVersion(ctx, "missing", []byte("x"), v1), ErrPreconditionFailed)
}

func TestLocalStorage_WriteIfVersionSingleWinner(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, "k", []byte("base")))
	_, base, err := s.ReadVersioned(ctx, "k")
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WriteIfVersion(ctx, "k", []byte{byte('a' + i)}, base)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrPreconditionFailed):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

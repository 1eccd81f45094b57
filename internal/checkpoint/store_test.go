package checkpoint

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/execd/internal/model"
)

func testCheckpoint(key string) *Checkpoint {
	return &Checkpoint{
		Key:       key,
		Request:   model.ExecutionRequest{TaskObjective: "sum 2+2"},
		Code:      "results = {\"total\": 4}\n",
		Chain:     []string{"first failure"},
		CreatedAt: time.Now().UTC(),
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("save then take round-trips", func(t *testing.T) {
		s := NewMemoryStore(nil)
		require.NoError(t, s.Save(ctx, testCheckpoint("cp-1")))

		cp, err := s.Take(ctx, "cp-1")
		require.NoError(t, err)
		assert.Equal(t, "sum 2+2", cp.Request.TaskObjective)
		assert.Equal(t, []string{"first failure"}, cp.Chain)
	})

	t.Run("take is single-use", func(t *testing.T) {
		s := NewMemoryStore(nil)
		require.NoError(t, s.Save(ctx, testCheckpoint("cp-2")))

		_, err := s.Take(ctx, "cp-2")
		require.NoError(t, err)

		_, err = s.Take(ctx, "cp-2")
		assert.ErrorIs(t, err, ErrConsumed)
	})

	t.Run("missing key is not found", func(t *testing.T) {
		s := NewMemoryStore(nil)
		_, err := s.Take(ctx, "never-issued")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("duplicate save rejected", func(t *testing.T) {
		s := NewMemoryStore(nil)
		require.NoError(t, s.Save(ctx, testCheckpoint("cp-3")))
		assert.Error(t, s.Save(ctx, testCheckpoint("cp-3")))
	})

	t.Run("concurrent takes produce one winner", func(t *testing.T) {
		s := NewMemoryStore(nil)
		require.NoError(t, s.Save(ctx, testCheckpoint("cp-race")))

		const n = 16
		var wg sync.WaitGroup
		wins := make(chan struct{}, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Take(ctx, "cp-race"); err == nil {
					wins <- struct{}{}
				}
			}()
		}
		wg.Wait()
		close(wins)

		assert.Equal(t, 1, len(wins))
	})

	t.Run("closed store rejects operations", func(t *testing.T) {
		s := NewMemoryStore(nil)
		require.NoError(t, s.Close())
		assert.Error(t, s.Save(ctx, testCheckpoint("cp-4")))
	})
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()

	t.Run("survives reopen", func(t *testing.T) {
		dir := t.TempDir()

		s1, err := NewFileStore(dir, nil)
		require.NoError(t, err)
		require.NoError(t, s1.Save(ctx, testCheckpoint("cp-1")))
		require.NoError(t, s1.Close())

		// A new store over the same directory stands in for a restarted
		// process.
		s2, err := NewFileStore(dir, nil)
		require.NoError(t, err)
		cp, err := s2.Take(ctx, "cp-1")
		require.NoError(t, err)
		assert.Equal(t, "sum 2+2", cp.Request.TaskObjective)
	})

	t.Run("take is single-use across reopens", func(t *testing.T) {
		dir := t.TempDir()
		s, err := NewFileStore(dir, nil)
		require.NoError(t, err)
		require.NoError(t, s.Save(ctx, testCheckpoint("cp-2")))

		_, err = s.Take(ctx, "cp-2")
		require.NoError(t, err)

		s2, err := NewFileStore(dir, nil)
		require.NoError(t, err)
		_, err = s2.Take(ctx, "cp-2")
		assert.ErrorIs(t, err, ErrConsumed)
	})

	t.Run("missing key is not found", func(t *testing.T) {
		s, err := NewFileStore(t.TempDir(), nil)
		require.NoError(t, err)

		_, err = s.Take(ctx, "never-issued")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unsafe keys rejected", func(t *testing.T) {
		s, err := NewFileStore(t.TempDir(), nil)
		require.NoError(t, err)

		cp := testCheckpoint("../../etc/passwd")
		assert.Error(t, s.Save(ctx, cp))
	})
}

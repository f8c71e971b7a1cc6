package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/wadialog/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionBackendContract runs a suite of tests to verify that a SessionBackend
// implementation adheres to the defined interface contract.
func RunSessionBackendContract(t *testing.T, backend SessionBackend) {
	ctx := context.Background()
	scope := "contract-test-session-" + time.Now().Format("20060102150405")

	t.Run("Set and Get", func(t *testing.T) {
		require.NoError(t, backend.Set(ctx, scope, "foo", []byte(`"bar"`)))

		val, err := backend.Get(ctx, scope, "foo")
		require.NoError(t, err)
		assert.Equal(t, `"bar"`, string(val))
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, backend.Set(ctx, scope, "foo", []byte(`1`)))
		require.NoError(t, backend.Set(ctx, scope, "foo", []byte(`2`)))

		val, err := backend.Get(ctx, scope, "foo")
		require.NoError(t, err)
		assert.Equal(t, `2`, string(val))
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := backend.Get(ctx, scope, "missing")
		assert.ErrorIs(t, err, domain.ErrKeyNotFound)

		_, err = backend.Get(ctx, "non-existent-"+scope, "foo")
		assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	})

	t.Run("Scopes are isolated", func(t *testing.T) {
		other := scope + "-other"
		require.NoError(t, backend.Set(ctx, other, "foo", []byte(`"other"`)))
		defer func() { _ = backend.DeleteAll(ctx, other) }()

		val, err := backend.Get(ctx, scope, "foo")
		require.NoError(t, err)
		assert.NotEqual(t, `"other"`, string(val))
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, backend.Set(ctx, scope, "a", []byte(`1`)))
		require.NoError(t, backend.Set(ctx, scope, "b", []byte(`2`)))

		require.NoError(t, backend.Delete(ctx, scope, "a", "b", "never-set"))

		_, err := backend.Get(ctx, scope, "a")
		assert.ErrorIs(t, err, domain.ErrKeyNotFound)
		_, err = backend.Get(ctx, scope, "b")
		assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	})

	t.Run("Keys", func(t *testing.T) {
		require.NoError(t, backend.Set(ctx, scope, "k1", []byte(`1`)))
		require.NoError(t, backend.Set(ctx, scope, "k2", []byte(`2`)))

		keys, err := backend.Keys(ctx, scope)
		require.NoError(t, err)
		assert.Contains(t, keys, "k1")
		assert.Contains(t, keys, "k2")

		keys, err = backend.Keys(ctx, "non-existent-"+scope)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("DeleteAll", func(t *testing.T) {
		require.NoError(t, backend.Set(ctx, scope, "k1", []byte(`1`)))

		require.NoError(t, backend.DeleteAll(ctx, scope))

		keys, err := backend.Keys(ctx, scope)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})
}

// RunStageStorageContract verifies that storage resolves every name in stages
// and reports domain.ErrStageNotFound otherwise.
func RunStageStorageContract(t *testing.T, storage StageStorage, stages []string) {
	ctx := context.Background()

	t.Run("Stage_Success", func(t *testing.T) {
		for _, name := range stages {
			stage, err := storage.Stage(ctx, name)
			require.NoError(t, err, "stage %s", name)
			assert.Equal(t, name, stage.Name)
			assert.NotNil(t, stage.Message, "stage %s has no message", name)
		}
	})

	t.Run("Stage_NotFound", func(t *testing.T) {
		_, err := storage.Stage(ctx, "non-existent-stage")
		assert.ErrorIs(t, err, domain.ErrStageNotFound)
	})

	t.Run("Triggers", func(t *testing.T) {
		_, err := storage.Triggers(ctx)
		assert.NoError(t, err)
	})

	if lister, ok := storage.(StageLister); ok {
		t.Run("ListStages", func(t *testing.T) {
			names, err := lister.ListStages(ctx)
			require.NoError(t, err)
			for _, name := range stages {
				assert.Contains(t, names, name)
			}
		})
	}
}

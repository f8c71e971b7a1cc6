package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/wadialog/pkg/adapters/memory"
	"github.com/aretw0/wadialog/pkg/ports"
	"github.com/aretw0/wadialog/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SlowBackend simulates latency to provoke race conditions if locking is missing.
type SlowBackend struct {
	*memory.Store
}

func (s *SlowBackend) Get(ctx context.Context, scope, key string) ([]byte, error) {
	time.Sleep(time.Millisecond) // Simulate IO
	return s.Store.Get(ctx, scope, key)
}

func (s *SlowBackend) Set(ctx context.Context, scope, key string, value []byte) error {
	time.Sleep(time.Millisecond) // Simulate IO
	return s.Store.Set(ctx, scope, key, value)
}

func TestManager_SerializesReadModifyWrite(t *testing.T) {
	manager := session.NewManager(&SlowBackend{Store: memory.NewStore()})
	ctx := context.Background()
	id := "race-test"

	var wg sync.WaitGroup
	concurrentWrites := 20

	for i := 0; i < concurrentWrites; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := manager.WithLock(ctx, id, func(s *session.Session) error {
				var n int
				if _, err := s.Get("counter", &n); err != nil {
					return err
				}
				return s.Save("counter", n+1)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var n int
	found, err := manager.Get(ctx, id, "counter", &n)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, concurrentWrites, n, "lost updates indicate missing serialization")
}

func TestManager_DifferentSessionsDoNotBlock(t *testing.T) {
	manager := session.NewManager(memory.NewStore())
	ctx := context.Background()

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = manager.WithLock(ctx, "a", func(s *session.Session) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	finished := make(chan struct{})
	go func() {
		_ = manager.Save(ctx, "b", "k", "v")
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("session b was blocked by session a")
	}
	close(done)
}

func TestManager_InvalidSessionID(t *testing.T) {
	manager := session.NewManager(memory.NewStore())
	ctx := context.Background()

	err := manager.Save(ctx, "", "k", "v")
	assert.ErrorIs(t, err, session.ErrInvalidSessionID)

	err = manager.Save(ctx, session.GlobalScope, "k", "v")
	assert.ErrorIs(t, err, session.ErrInvalidSessionID)
}

type fakeLocker struct {
	locks   atomic.Int32
	unlocks atomic.Int32
	err     error
}

func (f *fakeLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.locks.Add(1)
	return func(ctx context.Context) error {
		f.unlocks.Add(1)
		return nil
	}, nil
}

func TestManager_DistributedLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("Lock and unlock around each operation", func(t *testing.T) {
		locker := &fakeLocker{}
		manager := session.NewManager(memory.NewStore(), session.WithLocker(locker))

		require.NoError(t, manager.Save(ctx, "s1", "k", 1))
		_, err := manager.Get(ctx, "s1", "k", nil)
		require.NoError(t, err)

		assert.Equal(t, int32(2), locker.locks.Load())
		assert.Equal(t, int32(2), locker.unlocks.Load())
	})

	t.Run("Lock failure aborts the operation", func(t *testing.T) {
		locker := &fakeLocker{err: errors.New("redis down")}
		store := memory.NewStore()
		manager := session.NewManager(store, session.WithLocker(locker))

		err := manager.Save(ctx, "s1", "k", 1)
		assert.ErrorContains(t, err, "redis down")

		keys, _ := store.Keys(ctx, "s1")
		assert.Empty(t, keys)
	})
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/wadialog/pkg/ports"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

var (
	// ErrLockAcquire is returned when the lock cannot be acquired.
	ErrLockAcquire = errors.New("failed to acquire distributed lock")
)

// unlockScript deletes the lock only if we still own it.
const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Locker implements ports.DistributedLocker using Redis.
type Locker struct {
	client  *backend.Client
	prefix  string
	maxWait time.Duration
}

// LockerOption configures a Locker.
type LockerOption func(*Locker)

// WithMaxWait bounds how long Lock keeps retrying (default 10s, 0 waits for ctx).
func WithMaxWait(d time.Duration) LockerOption {
	return func(l *Locker) {
		l.maxWait = d
	}
}

// NewLocker creates a new Redis locker.
func NewLocker(client *backend.Client, prefix string, opts ...LockerOption) *Locker {
	l := &Locker{
		client:  client,
		prefix:  prefix,
		maxWait: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Locker) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = l.maxWait
	return backoff.WithContext(b, ctx)
}

// Lock acquires a distributed lock for the given key using Redis SET NX PX,
// retrying with exponential backoff while another holder owns it.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key
	val := uuid.NewString()

	acquire := func() error {
		ok, err := l.client.SetNX(ctx, lockKey, val, ttl).Result()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("redis error acquiring lock: %w", err))
		}
		if !ok {
			return ErrLockAcquire
		}
		return nil
	}

	if err := backoff.Retry(acquire, l.newBackOff(ctx)); err != nil {
		return nil, err
	}

	return func(ctx context.Context) error {
		return l.client.Eval(ctx, unlockScript, []string{lockKey}, val).Err()
	}, nil
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/wadialog/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// Store implements ports.SessionBackend using one Redis hash per scope.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets a sliding expiration, refreshed on every write to the session.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for sessions.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "wadialog:session:",
		ttl:    0, // No expiration by default
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Client exposes the underlying client (e.g. to share it with a Locker).
func (s *Store) Client() *backend.Client {
	return s.client
}

func (s *Store) key(scope string) string {
	return s.prefix + scope
}

// Get reads one field of the scope hash.
func (s *Store) Get(ctx context.Context, scope, key string) ([]byte, error) {
	val, err := s.client.HGet(ctx, s.key(scope), key).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, domain.ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	return val, nil
}

// Set writes one field and refreshes the scope TTL.
func (s *Store) Set(ctx context.Context, scope, key string, value []byte) error {
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key(scope), key, value)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key(scope), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Delete removes fields from the scope hash.
func (s *Store) Delete(ctx context.Context, scope string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, s.key(scope), keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

// Keys lists the fields of the scope hash.
func (s *Store) Keys(ctx context.Context, scope string) ([]string, error) {
	keys, err := s.client.HKeys(ctx, s.key(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session keys: %w", err)
	}
	return keys, nil
}

// DeleteAll removes the scope hash.
func (s *Store) DeleteAll(ctx context.Context, scope string) error {
	if err := s.client.Del(ctx, s.key(scope)).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

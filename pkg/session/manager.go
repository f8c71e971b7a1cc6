package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/wadialog/internal/logging"
	"github.com/aretw0/wadialog/pkg/ports"
)

// GlobalScope is the backend scope holding the global namespace.
const GlobalScope = "__global__"

// ErrInvalidSessionID is returned for empty or reserved session IDs.
var ErrInvalidSessionID = errors.New("invalid session id")

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates session access, ensuring safe concurrent operations.
// It uses Reference Counting to garbage collect unused locks.
type Manager struct {
	backend ports.SessionBackend

	mu    sync.Mutex            // Global lock for the map
	locks map[string]*lockEntry // Map of active locks

	gmu sync.Mutex // Serializes the global namespace

	locker  ports.DistributedLocker // Optional distributed locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the expiry of distributed locks (default 30s).
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new Session Manager over the given backend.
func NewManager(backend ports.SessionBackend, opts ...Option) *Manager {
	m := &Manager{
		backend: backend,
		locks:   make(map[string]*lockEntry),
		lockTTL: 30 * time.Second,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Backend returns the underlying session backend.
func (m *Manager) Backend() ports.SessionBackend {
	return m.backend
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(sessionID) after unlocking.
func (m *Manager) acquire(sessionID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		entry = &lockEntry{}
		m.locks[sessionID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[sessionID]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, sessionID)
	}
}

// WithLock executes fn while holding the lock for the session.
// The Session handed to fn must not be used after fn returns.
func (m *Manager) WithLock(ctx context.Context, sessionID string, fn func(*Session) error) error {
	if sessionID == "" || sessionID == GlobalScope {
		return fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}

	entry := m.acquire(sessionID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(sessionID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, sessionID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"session_id", sessionID,
					"err", err,
				)
			}
		}()
	}

	return fn(&Session{ctx: ctx, id: sessionID, m: m})
}

// Get decodes the value of key into out.
func (m *Manager) Get(ctx context.Context, sessionID, key string, out any) (found bool, err error) {
	err = m.WithLock(ctx, sessionID, func(s *Session) error {
		found, err = s.Get(key, out)
		return err
	})
	return found, err
}

// Save stores value under key.
func (m *Manager) Save(ctx context.Context, sessionID, key string, value any) error {
	return m.WithLock(ctx, sessionID, func(s *Session) error {
		return s.Save(key, value)
	})
}

// Evict removes key from the session.
func (m *Manager) Evict(ctx context.Context, sessionID, key string) error {
	return m.WithLock(ctx, sessionID, func(s *Session) error {
		return s.Evict(key)
	})
}

// SaveProp stores a user property.
func (m *Manager) SaveProp(ctx context.Context, sessionID, propKey string, value any) error {
	return m.WithLock(ctx, sessionID, func(s *Session) error {
		return s.SaveProp(propKey, value)
	})
}

// GetProp decodes a user property into out.
func (m *Manager) GetProp(ctx context.Context, sessionID, propKey string, out any) (found bool, err error) {
	err = m.WithLock(ctx, sessionID, func(s *Session) error {
		found, err = s.GetProp(propKey, out)
		return err
	})
	return found, err
}

// EvictProp removes a user property and reports whether it existed.
func (m *Manager) EvictProp(ctx context.Context, sessionID, propKey string) (existed bool, err error) {
	err = m.WithLock(ctx, sessionID, func(s *Session) error {
		existed, err = s.EvictProp(propKey)
		return err
	})
	return existed, err
}

// UserProps returns all user properties of the session.
func (m *Manager) UserProps(ctx context.Context, sessionID string) (props map[string]any, err error) {
	err = m.WithLock(ctx, sessionID, func(s *Session) error {
		props, err = s.UserProps()
		return err
	})
	return props, err
}

// Clear wipes the session, keeping only the keys in retain.
func (m *Manager) Clear(ctx context.Context, sessionID string, retain ...string) error {
	return m.WithLock(ctx, sessionID, func(s *Session) error {
		return s.Clear(retain...)
	})
}

// KeyInSession reports whether key exists in the session, or in the global
// namespace when checkGlobal is set.
func (m *Manager) KeyInSession(ctx context.Context, sessionID, key string, checkGlobal bool) (found bool, err error) {
	err = m.WithLock(ctx, sessionID, func(s *Session) error {
		found, err = s.KeyInSession(key, checkGlobal)
		return err
	})
	return found, err
}

// SaveGlobal stores value in the global namespace.
func (m *Manager) SaveGlobal(ctx context.Context, key string, value any) error {
	m.gmu.Lock()
	defer m.gmu.Unlock()
	return set(ctx, m.backend, GlobalScope, key, value)
}

// GetGlobal decodes a global value into out.
func (m *Manager) GetGlobal(ctx context.Context, key string, out any) (bool, error) {
	m.gmu.Lock()
	defer m.gmu.Unlock()
	return get(ctx, m.backend, GlobalScope, key, out)
}

// EvictGlobal removes a global value.
func (m *Manager) EvictGlobal(ctx context.Context, key string) error {
	m.gmu.Lock()
	defer m.gmu.Unlock()
	return m.backend.Delete(ctx, GlobalScope, key)
}

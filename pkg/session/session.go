package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/wadialog/pkg/domain"
	"github.com/aretw0/wadialog/pkg/ports"
)

// Session is a locked view of one session, valid inside Manager.WithLock.
// It implements domain.SessionAccessor.
type Session struct {
	ctx context.Context
	id  string
	m   *Manager
}

var _ domain.SessionAccessor = (*Session)(nil)

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Get decodes the value of key into out. out may be nil to only test presence.
func (s *Session) Get(key string, out any) (bool, error) {
	return get(s.ctx, s.m.backend, s.id, key, out)
}

// String returns the string stored under key, or "" when absent.
func (s *Session) String(key string) (string, error) {
	var v string
	_, err := s.Get(key, &v)
	return v, err
}

// Save stores value under key.
func (s *Session) Save(key string, value any) error {
	return set(s.ctx, s.m.backend, s.id, key, value)
}

// Evict removes key.
func (s *Session) Evict(key string) error {
	return s.m.backend.Delete(s.ctx, s.id, key)
}

func (s *Session) props() (map[string]json.RawMessage, error) {
	props := map[string]json.RawMessage{}
	if _, err := s.Get(domain.KeyProps, &props); err != nil {
		return nil, err
	}
	if props == nil {
		props = map[string]json.RawMessage{}
	}
	return props, nil
}

// SaveProp stores a user property under the reserved properties key.
func (s *Session) SaveProp(key string, value any) error {
	props, err := s.props()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal prop %q: %w", key, err)
	}
	props[key] = raw
	return s.Save(domain.KeyProps, props)
}

// GetProp decodes a user property into out.
func (s *Session) GetProp(key string, out any) (bool, error) {
	props, err := s.props()
	if err != nil {
		return false, err
	}
	raw, ok := props[key]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("failed to unmarshal prop %q: %w", key, err)
	}
	return true, nil
}

// EvictProp removes a user property and reports whether it existed.
func (s *Session) EvictProp(key string) (bool, error) {
	props, err := s.props()
	if err != nil {
		return false, err
	}
	if _, ok := props[key]; !ok {
		return false, nil
	}
	delete(props, key)
	return true, s.Save(domain.KeyProps, props)
}

// UserProps returns all user properties.
func (s *Session) UserProps() (map[string]any, error) {
	props := map[string]any{}
	if _, err := s.Get(domain.KeyProps, &props); err != nil {
		return nil, err
	}
	if props == nil {
		props = map[string]any{}
	}
	return props, nil
}

// SaveGlobal stores value in the global namespace.
func (s *Session) SaveGlobal(key string, value any) error {
	return s.m.SaveGlobal(s.ctx, key, value)
}

// GetGlobal decodes a global value into out.
func (s *Session) GetGlobal(key string, out any) (bool, error) {
	return s.m.GetGlobal(s.ctx, key, out)
}

// EvictGlobal removes a global value.
func (s *Session) EvictGlobal(key string) error {
	return s.m.EvictGlobal(s.ctx, key)
}

// Clear wipes the session. With an empty retain list every key is removed;
// otherwise only the listed keys survive, the properties key included.
func (s *Session) Clear(retain ...string) error {
	if len(retain) == 0 {
		return s.m.backend.DeleteAll(s.ctx, s.id)
	}

	keep := make(map[string]bool, len(retain))
	for _, k := range retain {
		keep[k] = true
	}

	keys, err := s.m.backend.Keys(s.ctx, s.id)
	if err != nil {
		return fmt.Errorf("failed to list session keys: %w", err)
	}
	var drop []string
	for _, k := range keys {
		if !keep[k] {
			drop = append(drop, k)
		}
	}
	if len(drop) == 0 {
		return nil
	}
	return s.m.backend.Delete(s.ctx, s.id, drop...)
}

// KeyInSession reports whether key exists in the session, or in the global
// namespace when checkGlobal is set.
func (s *Session) KeyInSession(key string, checkGlobal bool) (bool, error) {
	found, err := s.Get(key, nil)
	if err != nil || found || !checkGlobal {
		return found, err
	}
	return s.GetGlobal(key, nil)
}

func get(ctx context.Context, backend ports.SessionBackend, scope, key string, out any) (bool, error) {
	raw, err := backend.Get(ctx, scope, key)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %q: %w", key, err)
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("failed to unmarshal %q: %w", key, err)
	}
	return true, nil
}

func set(ctx context.Context, backend ports.SessionBackend, scope, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %q: %w", key, err)
	}
	if err := backend.Set(ctx, scope, key, raw); err != nil {
		return fmt.Errorf("failed to write %q: %w", key, err)
	}
	return nil
}

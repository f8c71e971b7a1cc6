// Package hooks holds the named callables a stage graph can reference.
package hooks

import (
	"context"
	"fmt"
	"sort"

	"github.com/aretw0/wadialog/pkg/domain"
)

// Func is the signature of every hook. It receives a copy of the turn
// argument and returns the (possibly updated) copy.
// Returning a nil argument means "no changes".
type Func func(ctx context.Context, arg *domain.HookArg) (*domain.HookArg, error)

// Registry resolves hook names to implementations.
// It is populated once at construction and never mutated afterwards,
// so it is safe for concurrent use without locking.
type Registry struct {
	hooks map[string]Func
}

// NewRegistry copies hooks into a new registry.
func NewRegistry(hooks map[string]Func) (*Registry, error) {
	r := &Registry{hooks: make(map[string]Func, len(hooks))}
	for name, fn := range hooks {
		if name == "" {
			return nil, fmt.Errorf("hook name cannot be empty")
		}
		if fn == nil {
			return nil, fmt.Errorf("hook '%s' has a nil implementation", name)
		}
		r.hooks[name] = fn
	}
	return r, nil
}

// Empty returns a registry with no hooks.
func Empty() *Registry {
	return &Registry{hooks: map[string]Func{}}
}

// Resolve looks up a hook by name.
func (r *Registry) Resolve(name string) (Func, error) {
	if r != nil {
		if fn, ok := r.hooks[name]; ok {
			return fn, nil
		}
	}
	return nil, &domain.HookError{Hook: name, Err: domain.ErrHookNotFound}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.hooks[name]
	return ok
}

// Names returns the registered hook names, sorted.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.hooks))
	for name := range r.hooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/aretw0/wadialog/pkg/domain"
)

// Storage implements ports.StageStorage using an in-memory map.
type Storage struct {
	stages   map[string]domain.Stage
	triggers []domain.Trigger
}

// NewStorage creates a Storage from domain objects.
// Stage names must be unique and non-empty.
func NewStorage(stages []domain.Stage, triggers ...domain.Trigger) (*Storage, error) {
	data := make(map[string]domain.Stage, len(stages))
	for _, s := range stages {
		if s.Name == "" {
			return nil, fmt.Errorf("stage missing name")
		}
		if _, dup := data[s.Name]; dup {
			return nil, fmt.Errorf("duplicate stage %s", s.Name)
		}
		data[s.Name] = s
	}
	return &Storage{stages: data, triggers: triggers}, nil
}

// Stage retrieves a stage by name.
func (l *Storage) Stage(ctx context.Context, name string) (domain.Stage, error) {
	s, ok := l.stages[name]
	if !ok {
		return domain.Stage{}, fmt.Errorf("%w: %s", domain.ErrStageNotFound, name)
	}
	return s, nil
}

// Triggers returns the configured triggers in order.
func (l *Storage) Triggers(ctx context.Context) ([]domain.Trigger, error) {
	return l.triggers, nil
}

// ListStages returns all available stage names.
func (l *Storage) ListStages(ctx context.Context) ([]string, error) {
	keys := make([]string, 0, len(l.stages))
	for k := range l.stages {
		keys = append(keys, k)
	}
	sort.Strings(keys) // Deterministic order
	return keys, nil
}

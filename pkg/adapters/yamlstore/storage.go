package yamlstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/wadialog/pkg/domain"
)

// Storage implements ports.StageStorage over directories of YAML files.
// Every *.yaml and *.yml file in the stage directory is merged into one graph.
type Storage struct {
	stageDir   string
	triggerDir string

	mu       sync.RWMutex
	stages   map[string]domain.Stage
	triggers []domain.Trigger
}

// Open loads stages from stageDir and, when triggerDir is not empty, triggers
// from triggerDir.
func Open(stageDir, triggerDir string) (*Storage, error) {
	s := &Storage{stageDir: stageDir, triggerDir: triggerDir}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads both directories. On failure the previous graph is kept.
func (s *Storage) Reload() error {
	files, err := yamlFiles(s.stageDir)
	if err != nil {
		return fmt.Errorf("stage dir: %w", err)
	}
	stages := make(map[string]domain.Stage)
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		parsed, err := ParseStages(data)
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		for _, st := range parsed {
			if _, dup := stages[st.Name]; dup {
				return fmt.Errorf("%s: duplicate stage '%s'", filepath.Base(path), st.Name)
			}
			stages[st.Name] = st
		}
	}
	if len(stages) == 0 {
		return fmt.Errorf("no stages found in %s", s.stageDir)
	}

	var triggers []domain.Trigger
	if s.triggerDir != "" {
		files, err := yamlFiles(s.triggerDir)
		if err != nil {
			return fmt.Errorf("trigger dir: %w", err)
		}
		for _, path := range files {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			parsed, err := ParseTriggers(data)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(path), err)
			}
			triggers = append(triggers, parsed...)
		}
	}

	s.mu.Lock()
	s.stages = stages
	s.triggers = triggers
	s.mu.Unlock()
	return nil
}

// Stage retrieves a stage by name.
func (s *Storage) Stage(ctx context.Context, name string) (domain.Stage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stages[name]
	if !ok {
		return domain.Stage{}, fmt.Errorf("%w: %s", domain.ErrStageNotFound, name)
	}
	return st, nil
}

// Triggers returns the triggers in file order.
func (s *Storage) Triggers(ctx context.Context) ([]domain.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Trigger(nil), s.triggers...), nil
}

// ListStages returns all stage names, sorted.
func (s *Storage) ListStages(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.stages))
	for name := range s.stages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func yamlFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

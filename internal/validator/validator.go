package validator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/wadialog/pkg/domain"
	"github.com/aretw0/wadialog/pkg/hooks"
	"github.com/aretw0/wadialog/pkg/ports"
)

// Options describes what the crawl starts from and what it checks against.
type Options struct {
	StartStage  string
	ReportStage string
	// GlobalTargets are "target|param" destinations of configured keyword triggers.
	GlobalTargets []string
	// Hooks, when set, is used to report stage hooks that are not registered.
	Hooks *hooks.Registry
	// Strict reports stages that cannot be reached from any root.
	Strict bool
}

// Report lists the problems found in a stage graph.
type Report struct {
	Visited     []string
	Missing     []string
	Unreachable []string
	Hooks       []string
	Errors      []string
}

// OK reports whether the graph has no errors.
func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

// Err returns the errors as one ConfigError, or nil.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return &domain.ConfigError{
		Msg: fmt.Sprintf("found %d errors:\n- %s", len(r.Errors), strings.Join(r.Errors, "\n- ")),
	}
}

// ValidateGraph checks for broken routes, missing hooks and (in strict mode)
// unreachable stages, crawling from the start stage, the report stage and
// every trigger target.
func ValidateGraph(ctx context.Context, storage ports.StageStorage, opts Options) (*Report, error) {
	report := &Report{}
	if opts.StartStage == "" {
		return nil, &domain.ConfigError{Msg: "start stage is not configured"}
	}
	if _, err := storage.Stage(ctx, opts.StartStage); err != nil {
		if errors.Is(err, domain.ErrStageNotFound) {
			report.Errors = append(report.Errors, fmt.Sprintf("Start stage '%s' not found", opts.StartStage))
			return report, nil
		}
		return nil, fmt.Errorf("load start stage: %w", err)
	}

	triggers, err := storage.Triggers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load triggers: %w", err)
	}

	queue := []string{opts.StartStage}
	if opts.ReportStage != "" {
		queue = append(queue, opts.ReportStage)
	}
	for _, def := range opts.GlobalTargets {
		if target, _ := domain.ParseTarget(def); target != "" {
			queue = append(queue, target)
		}
	}
	for _, tr := range triggers {
		if target, _ := domain.ParseTarget(tr.Target); target != "" {
			queue = append(queue, target)
		}
	}

	visited := make(map[string]bool)
	missingHooks := make(map[string]bool)

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		if visited[name] {
			continue
		}
		visited[name] = true

		stage, err := storage.Stage(ctx, name)
		if errors.Is(err, domain.ErrStageNotFound) {
			report.Missing = append(report.Missing, name)
			report.Errors = append(report.Errors, fmt.Sprintf("Missing stage: '%s'", name))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load stage '%s': %w", name, err)
		}
		report.Visited = append(report.Visited, name)

		if opts.Hooks != nil {
			for _, hook := range stage.HookNames() {
				if !opts.Hooks.Has(hook) && !missingHooks[hook] {
					missingHooks[hook] = true
					report.Hooks = append(report.Hooks, hook)
					report.Errors = append(report.Errors, fmt.Sprintf("Stage '%s' references unregistered hook '%s'", name, hook))
				}
			}
		}

		if stage.Kind() == domain.KindDynamic && stage.OnGenerate == "" {
			report.Errors = append(report.Errors, fmt.Sprintf("Dynamic stage '%s' has no on_generate hook", name))
		}

		for _, r := range stage.Routes {
			if r.Next != "" && !visited[r.Next] {
				queue = append(queue, r.Next)
			}
		}
	}

	if lister, ok := storage.(ports.StageLister); ok && opts.Strict {
		all, err := lister.ListStages(ctx)
		if err != nil {
			return nil, fmt.Errorf("list stages: %w", err)
		}
		for _, name := range all {
			if !visited[name] {
				report.Unreachable = append(report.Unreachable, name)
				report.Errors = append(report.Errors, fmt.Sprintf("Unreachable stage: '%s'", name))
			}
		}
	}

	sort.Strings(report.Visited)
	return report, nil
}

package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/wadialog/internal/logging"
	"github.com/aretw0/wadialog/pkg/domain"
	"github.com/aretw0/wadialog/pkg/hooks"
	"github.com/aretw0/wadialog/pkg/observability"
)

// Pipeline invokes named hooks against the turn argument.
//
// Each hook gets a clone of the argument. Only Content and Output are
// copied back from what it returns; everything else it changes is dropped.
type Pipeline struct {
	registry *hooks.Registry
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewPipeline creates a pipeline over registry. metrics and logger may be nil.
func NewPipeline(registry *hooks.Registry, metrics *observability.Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = logging.NewNop()
	}
	if registry == nil {
		registry = hooks.Empty()
	}
	return &Pipeline{registry: registry, metrics: metrics, logger: logger}
}

var errHookPanic = errors.New("panic in hook")

// Run executes one hook. An empty name is a no-op.
func (p *Pipeline) Run(ctx context.Context, name string, arg *domain.HookArg) error {
	if name == "" {
		return nil
	}
	fn, err := p.registry.Resolve(name)
	if err != nil {
		return err
	}

	start := time.Now()
	out, err := p.call(ctx, name, fn, arg.Clone())
	p.metrics.ObserveHook(name, time.Since(start), err)
	if err != nil {
		p.logger.Error("Hook failed", "hook", name, "session_id", arg.SessionID, "err", err)
		return &domain.HookError{Hook: name, Err: err}
	}

	if out != nil {
		arg.Content = out.Content
		arg.Output = out.Output
		if arg.Output == nil {
			arg.Output = map[string]any{}
		}
	}
	return nil
}

// RunAll executes hooks in order, stopping at the first failure.
func (p *Pipeline) RunAll(ctx context.Context, names []string, arg *domain.HookArg) error {
	for _, name := range names {
		if err := p.Run(ctx, name, arg); err != nil {
			return err
		}
	}
	return nil
}

// Route runs a router hook and returns the stage it selected, if any.
func (p *Pipeline) Route(ctx context.Context, name string, arg *domain.HookArg) (string, error) {
	delete(arg.Output, domain.OutputRoute)
	if err := p.Run(ctx, name, arg); err != nil {
		return "", err
	}
	return arg.Route(), nil
}

func (p *Pipeline) call(ctx context.Context, name string, fn hooks.Func, arg *domain.HookArg) (out *domain.HookArg, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: '%s': %v", errHookPanic, name, r)
		}
	}()
	return fn(ctx, arg)
}

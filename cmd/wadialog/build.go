package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aretw0/wadialog"
	"github.com/aretw0/wadialog/internal/config"
	"github.com/aretw0/wadialog/internal/logging"
	"github.com/aretw0/wadialog/pkg/adapters/dryrun"
	"github.com/aretw0/wadialog/pkg/adapters/memory"
	"github.com/aretw0/wadialog/pkg/adapters/redis"
	"github.com/aretw0/wadialog/pkg/adapters/sqlite"
	"github.com/aretw0/wadialog/pkg/adapters/yamlstore"
	"github.com/aretw0/wadialog/pkg/observability"
	"github.com/aretw0/wadialog/pkg/persistence/middleware"
	"github.com/aretw0/wadialog/pkg/ports"
	"github.com/aretw0/wadialog/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app is a fully wired engine and the resources it owns.
type app struct {
	engine   *wadialog.Engine
	logger   *slog.Logger
	registry *prometheus.Registry
	closers  []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func newLogger(p *config.Process) (*slog.Logger, error) {
	level, err := logging.ParseLevel(p.LogLevel)
	if err != nil {
		return nil, err
	}
	return logging.New(os.Stderr, level, logging.Format(p.LogFormat)), nil
}

// build wires storage, sessions, history, metrics and the sender into an engine.
func build(ctx context.Context, p *config.Process) (*app, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	logger, err := newLogger(p)
	if err != nil {
		return nil, err
	}
	a := &app{logger: logger}

	storage, err := yamlstore.Open(p.StageDir, p.TriggerDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load stages: %w", err)
	}

	backend, sessionOpts, err := a.sessionBackend(ctx, p)
	if err != nil {
		a.Close()
		return nil, err
	}

	var mws []middleware.Middleware
	if p.EncryptionKey != "" {
		active, fallback, err := p.Keys()
		if err != nil {
			a.Close()
			return nil, err
		}
		enc, err := middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: active, FallbackKeys: fallback})
		if err != nil {
			a.Close()
			return nil, err
		}
		mws = append(mws, enc)
	}
	if len(p.PIIKeys) > 0 {
		pii, err := middleware.NewPIIMiddleware(p.PIIKeys)
		if err != nil {
			a.Close()
			return nil, err
		}
		mws = append(mws, pii)
	}
	backend = middleware.Chain(backend, mws...)
	sessions := session.NewManager(backend, append(sessionOpts, session.WithLogger(logger))...)

	opts := []wadialog.Option{
		wadialog.WithStorage(storage),
		wadialog.WithSender(dryrun.New(dryrun.WithLogger(logger))),
		wadialog.WithSessionManager(sessions),
		wadialog.WithLogger(logger),
		wadialog.WithTracer(observability.Tracer()),
	}

	if p.HistoryDB != "" {
		history, err := sqlite.NewHistory(p.HistoryDB)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		a.closers = append(a.closers, history.Close)
		opts = append(opts, wadialog.WithHistory(history))
	}

	if p.Metrics {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics, err := observability.NewMetrics(a.registry)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, wadialog.WithMetrics(metrics))
	}

	a.engine, err = wadialog.New(p.Engine, opts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) sessionBackend(ctx context.Context, p *config.Process) (ports.SessionBackend, []session.Option, error) {
	if p.RedisAddr == "" {
		a.logger.Info("Using in-memory sessions")
		return memory.NewStore(), nil, nil
	}

	store := redis.New(p.RedisAddr, p.RedisPassword, p.RedisDB, redis.WithTTL(p.SessionTTL))
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("redis unavailable: %w", err)
	}
	a.closers = append(a.closers, store.Close)
	a.logger.Info("Using redis sessions", "addr", p.RedisAddr)

	locker := redis.NewLocker(store.Client(), "wadialog:lock:")
	return store, []session.Option{session.WithLocker(locker)}, nil
}

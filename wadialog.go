package wadialog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aretw0/wadialog/internal/logging"
	"github.com/aretw0/wadialog/internal/runtime"
	"github.com/aretw0/wadialog/internal/validator"
	"github.com/aretw0/wadialog/pkg/adapters/memory"
	"github.com/aretw0/wadialog/pkg/domain"
	"github.com/aretw0/wadialog/pkg/hooks"
	"github.com/aretw0/wadialog/pkg/observability"
	"github.com/aretw0/wadialog/pkg/ports"
	"github.com/aretw0/wadialog/pkg/session"
	"github.com/aretw0/wadialog/pkg/whatsapp"
	"go.opentelemetry.io/otel/trace"
)

// Outcome describes what the engine did with one webhook delivery.
type Outcome = runtime.Outcome

const (
	OutcomeProcessed   = runtime.OutcomeProcessed
	OutcomeFailed      = runtime.OutcomeFailed
	OutcomeDiverted    = runtime.OutcomeDiverted
	OutcomeUnsupported = runtime.OutcomeUnsupported
	OutcomeStale       = runtime.OutcomeStale
	OutcomeDuplicate   = runtime.OutcomeDuplicate
	OutcomeDebounced   = runtime.OutcomeDebounced
	// OutcomeIgnored is returned for webhooks without a user message.
	OutcomeIgnored Outcome = "ignored"
)

// Engine is the high-level entry point for the wadialog library.
// It verifies and normalizes webhooks and hands them to the dispatch worker.
type Engine struct {
	cfg      Config
	storage  ports.StageStorage
	sender   ports.Sender
	sessions *session.Manager
	registry *hooks.Registry
	history  ports.HistoryLogger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	logger   *slog.Logger

	flowProcessor whatsapp.FlowProcessor
	flowTokens    whatsapp.FlowTokenValidator

	verifier whatsapp.Verifier
	worker   *runtime.Worker
	flow     *whatsapp.FlowHandler
}

// Option defines a functional option for configuring the Engine.
type Option func(*Engine)

// WithStorage sets the stage storage. Required.
func WithStorage(s ports.StageStorage) Option {
	return func(e *Engine) {
		e.storage = s
	}
}

// WithSender sets the outbound message sender. Required.
func WithSender(s ports.Sender) Option {
	return func(e *Engine) {
		e.sender = s
	}
}

// WithHooks registers the hook functions stages may reference.
func WithHooks(registry *hooks.Registry) Option {
	return func(e *Engine) {
		e.registry = registry
	}
}

// WithSessionManager sets the session store. Defaults to an in-memory backend.
func WithSessionManager(m *session.Manager) Option {
	return func(e *Engine) {
		e.sessions = m
	}
}

// WithHistory records user and bot messages.
func WithHistory(h ports.HistoryLogger) Option {
	return func(e *Engine) {
		e.history = h
	}
}

// WithMetrics enables Prometheus counters.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracer sets the tracer used for per-turn spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithLogger sets a custom structured logger for the engine.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithFlowProcessor answers Flow data-exchange requests.
func WithFlowProcessor(p whatsapp.FlowProcessor) Option {
	return func(e *Engine) {
		e.flowProcessor = p
	}
}

// WithFlowTokenValidator rejects data exchanges with unknown flow tokens.
func WithFlowTokenValidator(v whatsapp.FlowTokenValidator) Option {
	return func(e *Engine) {
		e.flowTokens = v
	}
}

// New initializes an Engine. Storage and sender are required.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}

	if e.storage == nil {
		return nil, fmt.Errorf("stage storage is required")
	}
	if e.sender == nil {
		return nil, fmt.Errorf("sender is required")
	}
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if e.registry == nil {
		e.registry = hooks.Empty()
	}
	if e.sessions == nil {
		e.sessions = session.NewManager(memory.NewStore(), session.WithLogger(e.logger))
	}
	if e.tracer == nil {
		e.tracer = observability.Tracer()
	}

	e.verifier = whatsapp.Verifier{AppSecret: cfg.AppSecret, Enforce: cfg.EnforceSignature}

	if cfg.PrivateKey != "" {
		crypto, err := whatsapp.NewFlowCrypto([]byte(cfg.PrivateKey), cfg.PrivateKeyPassphrase)
		if err != nil {
			return nil, &domain.ConfigError{Msg: "invalid flow private key", Err: err}
		}
		flowOpts := []whatsapp.FlowOption{whatsapp.WithFlowLogger(e.logger)}
		if e.flowTokens != nil {
			flowOpts = append(flowOpts, whatsapp.WithTokenValidator(e.flowTokens))
		}
		e.flow = whatsapp.NewFlowHandler(crypto, e.flowProcessor, flowOpts...)
	}

	pipeline := runtime.NewPipeline(e.registry, e.metrics, e.logger)
	e.worker = runtime.NewWorker(e.sessions, e.storage, e.sender, pipeline, cfg.settings(),
		runtime.WithHistory(e.history),
		runtime.WithMetrics(e.metrics),
		runtime.WithTracer(e.tracer),
		runtime.WithLogger(e.logger),
	)
	return e, nil
}

// VerifyChallenge answers the webhook subscription handshake.
func (e *Engine) VerifyChallenge(mode, token, challenge string) (string, error) {
	return whatsapp.VerifyChallenge(mode, token, challenge, e.cfg.VerifyToken)
}

// CheckSignature validates the X-Hub-Signature-256 header of body.
// It always passes when signature enforcement is off.
func (e *Engine) CheckSignature(body []byte, signature string) error {
	return e.verifier.Check(body, signature)
}

// HandleWebhook verifies, normalizes and processes one webhook delivery.
// The signature is checked before the body is parsed. Deliveries without a
// user message are ignored without error.
func (e *Engine) HandleWebhook(ctx context.Context, body []byte, signature string) (Outcome, error) {
	if err := e.verifier.Check(body, signature); err != nil {
		e.logger.Warn("Rejected webhook", "err", err)
		return "", err
	}

	user, input, err := whatsapp.Normalize(body)
	if errors.Is(err, domain.ErrNoMessage) {
		if e.cfg.LogInvalidWebhooks {
			e.logger.Info("Webhook without message", "payload", string(body))
		}
		return OutcomeIgnored, nil
	}
	if err != nil {
		if e.cfg.LogInvalidWebhooks {
			e.logger.Warn("Invalid webhook", "payload", string(body), "err", err)
		}
		return "", err
	}

	return e.worker.Process(ctx, user, input)
}

// HandleFlow answers an encrypted Flow data-exchange request.
// Errors are *domain.FlowError carrying the HTTP status to return.
func (e *Engine) HandleFlow(ctx context.Context, body []byte) (string, error) {
	if e.flow == nil {
		err := &domain.FlowError{Code: domain.FlowCodeFailure, Msg: "flow private key is not configured"}
		e.metrics.FlowRequest(err.Code)
		return "", err
	}
	resp, err := e.flow.Handle(ctx, body)
	if err != nil {
		var flowErr *domain.FlowError
		if errors.As(err, &flowErr) {
			e.metrics.FlowRequest(flowErr.Code)
		}
		e.logger.Warn("Flow request failed", "err", err)
		return "", err
	}
	e.metrics.FlowRequest(200)
	return resp, nil
}

// TerminateExternalHandler returns a diverted session to normal processing.
func (e *Engine) TerminateExternalHandler(ctx context.Context, sessionID string) error {
	return e.worker.TerminateExternalHandler(ctx, sessionID)
}

// RespondExternal sends a text reply on behalf of an external handler.
// Returns domain.ErrNoExternalHandler when the session is not diverted.
func (e *Engine) RespondExternal(ctx context.Context, recipientID, text, replyMessageID string) (domain.SendResult, error) {
	return e.worker.RespondExternal(ctx, recipientID, text, replyMessageID)
}

// Validate crawls the stage graph from the configured roots and reports
// broken routes and unregistered hooks.
func (e *Engine) Validate(ctx context.Context) (*validator.Report, error) {
	targets := make([]string, 0, len(e.cfg.GlobalTriggers))
	for _, def := range e.cfg.GlobalTriggers {
		targets = append(targets, def)
	}
	return validator.ValidateGraph(ctx, e.storage, validator.Options{
		StartStage:    e.cfg.StartStage,
		ReportStage:   e.cfg.ReportStage,
		GlobalTargets: targets,
		Hooks:         e.registry,
	})
}

// Sessions returns the session manager backing the engine.
func (e *Engine) Sessions() *session.Manager {
	return e.sessions
}

// Storage returns the stage storage used by the engine.
func (e *Engine) Storage() ports.StageStorage {
	return e.storage
}

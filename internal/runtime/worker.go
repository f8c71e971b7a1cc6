package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/aretw0/wadialog/internal/logging"
	"github.com/aretw0/wadialog/pkg/domain"
	"github.com/aretw0/wadialog/pkg/observability"
	"github.com/aretw0/wadialog/pkg/ports"
	"github.com/aretw0/wadialog/pkg/session"
)

// Outcome describes what the worker did with an inbound message.
type Outcome string

const (
	OutcomeProcessed   Outcome = "processed"
	OutcomeFailed      Outcome = "failed"
	OutcomeDiverted    Outcome = "diverted"
	OutcomeUnsupported Outcome = observability.DropUnsupported
	OutcomeStale       Outcome = observability.DropStale
	OutcomeDuplicate   Outcome = observability.DropDuplicate
	OutcomeDebounced   Outcome = observability.DropDebounced
)

// Fallback texts.
const (
	MsgProcessingFailed  = "Failed to process your message"
	MsgReturnToMenu      = "\n\nYou may click the Menu button to return to Menu"
	SecurityCheckTitle   = "Security Check 🔐"
	SessionExpiredFooter = "Session Expired"
	fallbackTitle        = "Message"
	fallbackStage        = "wce-fallback"
	externalStage        = "wce-external"
)

// Worker runs one inbound message through filtering, resolution,
// hooks and delivery, holding the session lock for the whole turn.
type Worker struct {
	sessions *session.Manager
	storage  ports.StageStorage
	sender   ports.Sender
	pipeline *Pipeline
	resolver *Resolver
	history  ports.HistoryLogger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	settings Settings
	logger   *slog.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithHistory records user and bot messages.
func WithHistory(h ports.HistoryLogger) WorkerOption {
	return func(w *Worker) {
		w.history = h
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithTracer sets the tracer used for per-turn spans.
func WithTracer(t trace.Tracer) WorkerOption {
	return func(w *Worker) {
		w.tracer = t
	}
}

// WithLogger sets the worker logger.
func WithLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = l
	}
}

// NewWorker wires a worker.
func NewWorker(sessions *session.Manager, storage ports.StageStorage, sender ports.Sender, pipeline *Pipeline, settings Settings, opts ...WorkerOption) *Worker {
	w := &Worker{
		sessions: sessions,
		storage:  storage,
		sender:   sender,
		pipeline: pipeline,
		settings: settings,
		logger:   logging.NewNop(),
		tracer:   observability.Tracer(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.resolver = NewResolver(storage, pipeline, settings, w.logger)
	return w
}

// Process handles one normalized inbound message. The returned error is the
// turn failure after the user fallback was attempted; it is informational
// and never leaves the session in a partially rejected state.
func (w *Worker) Process(ctx context.Context, user domain.User, input domain.Input) (outcome Outcome, err error) {
	ctx, span := observability.StartSpan(ctx, w.tracer, "wadialog.turn",
		attribute.String("session_id", user.ID),
		attribute.String("message_kind", string(input.Kind)),
	)
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Recovered from panic in turn", "session_id", user.ID, "panic", r)
			outcome, err = OutcomeFailed, fmt.Errorf("panic in turn: %v", r)
		}
		span.SetAttributes(attribute.String("outcome", string(outcome)))
		observability.EndSpan(span, err)
	}()

	if !input.Kind.Processable() {
		w.logger.Warn("Received unknown or unsupported message", "session_id", user.ID, "kind", input.Kind)
		return w.drop(OutcomeUnsupported), nil
	}

	if w.isStale(user.Timestamp) {
		w.logger.Warn("Skipping stale webhook", "session_id", user.ID, "msg_id", user.MessageID, "timestamp", user.Timestamp)
		return w.drop(OutcomeStale), nil
	}

	lockErr := w.sessions.WithLock(ctx, user.ID, func(s *session.Session) error {
		outcome, err = w.processLocked(ctx, s, user, input)
		return nil
	})
	if lockErr != nil {
		w.logger.Error("Failed to lock session", "session_id", user.ID, "err", lockErr)
		return OutcomeFailed, lockErr
	}
	return outcome, err
}

func (w *Worker) processLocked(ctx context.Context, s *session.Session, user domain.User, input domain.Input) (Outcome, error) {
	diverted, err := s.KeyInSession(domain.KeyExtHandler, false)
	if err != nil {
		return OutcomeFailed, err
	}

	if w.settings.Dedup && user.MessageID != "" {
		dup, err := w.seen(s, user.MessageID)
		if err != nil {
			return OutcomeFailed, err
		}
		if dup {
			w.logger.Warn("Duplicate message dropped", "session_id", user.ID, "msg_id", user.MessageID)
			return w.drop(OutcomeDuplicate), nil
		}
	}

	if !diverted {
		accepted, err := w.debounce(s)
		if err != nil {
			return OutcomeFailed, err
		}
		if !accepted {
			w.logger.Warn("Message ignored due to debounce", "session_id", user.ID, "msg_id", user.MessageID)
			return w.drop(OutcomeDebounced), nil
		}
	}

	if w.settings.Dedup && user.MessageID != "" {
		if err := w.remember(s, user.MessageID); err != nil {
			return OutcomeFailed, err
		}
	}

	w.logHistory(ctx, user.ID, domain.HistoryEntry{
		Role:        domain.RoleUser,
		MessageKind: string(input.Kind),
		Content:     input.Text(),
		MessageID:   user.MessageID,
		Timestamp:   w.settings.now(),
	})

	if w.settings.ReadReceipts {
		w.markRead(ctx, user)
	}

	if diverted {
		if err := w.divert(ctx, s, user, input); err != nil {
			w.metrics.TurnCompleted(string(OutcomeFailed))
			return OutcomeFailed, err
		}
		w.metrics.TurnCompleted(string(OutcomeDiverted))
		return OutcomeDiverted, nil
	}

	if err := w.run(ctx, s, user, input); err != nil {
		w.fallback(ctx, s, user, err)
		w.metrics.TurnCompleted(string(OutcomeFailed))
		return OutcomeFailed, err
	}

	if err := s.Evict(domain.KeyDynamicRetry); err != nil {
		return OutcomeFailed, err
	}
	if err := s.Save(domain.KeyLastMessageID, user.MessageID); err != nil {
		return OutcomeFailed, err
	}
	w.metrics.TurnCompleted(string(OutcomeProcessed))
	return OutcomeProcessed, nil
}

func (w *Worker) run(ctx context.Context, s *session.Session, user domain.User, input domain.Input) error {
	res, err := w.resolver.Resolve(ctx, s, user, input)
	if err != nil {
		return err
	}

	if res.Current.Acknowledge && !w.settings.ReadReceipts {
		w.markRead(ctx, user)
	}

	next := res.Next
	if next.Kind() == domain.KindDynamic || next.Message == nil {
		if res.Arg.Content == nil || res.Arg.Content.Message == nil {
			return &domain.ConfigError{Stage: next.Name, Msg: "stage has no message to send"}
		}
	}

	persisted := false
	if next.Session && !next.Transient {
		if err := w.persist(s, next.Name); err != nil {
			return err
		}
		persisted = true
	}

	result, sendErr := w.sender.Send(ctx, next, res.Arg)
	w.metrics.MessageSent(string(outboundKind(next, res.Arg)), sendErr == nil && result.Delivered)

	delivered := sendErr == nil && result.Delivered
	if !persisted && !next.Transient && (delivered || w.settings.PersistAlways) {
		if err := w.persist(s, next.Name); err != nil {
			return err
		}
	}

	if sendErr != nil {
		return fmt.Errorf("failed to send stage '%s': %w", next.Name, sendErr)
	}
	if !result.Delivered {
		w.logger.Warn("Stage was not delivered", "session_id", user.ID, "stage", next.Name)
	}

	w.logHistory(ctx, user.ID, domain.HistoryEntry{
		Role:        domain.RoleBot,
		MessageKind: string(outboundKind(next, res.Arg)),
		Stage:       next.Name,
		MessageID:   result.MessageID,
		Timestamp:   w.settings.now(),
	})

	w.logger.Debug("Turn processed", "session_id", user.ID, "from", res.Current.Name, "stage", next.Name)
	return nil
}

// persist records stage as current, shifting the old current to previous.
// Re-rendering the current stage keeps the previous one.
func (w *Worker) persist(s *session.Session, stage string) error {
	current, err := s.String(domain.KeyCurrentStage)
	if err != nil {
		return err
	}
	if current != stage {
		if err := s.Save(domain.KeyPrevStage, current); err != nil {
			return err
		}
	}
	if err := s.Save(domain.KeyCurrentStage, stage); err != nil {
		return err
	}
	if w.settings.HandleInactivity {
		return s.Save(domain.KeyLastActivity, w.settings.now().Format(time.RFC3339))
	}
	return nil
}

func (w *Worker) isStale(ts time.Time) bool {
	if w.settings.Staleness <= 0 || ts.IsZero() {
		return false
	}
	diff := w.settings.now().Sub(ts)
	if diff < 0 {
		diff = -diff
	}
	return diff > w.settings.Staleness
}

func (w *Worker) seen(s *session.Session, msgID string) (bool, error) {
	var ring []string
	if _, err := s.Get(domain.KeyMessageIDs, &ring); err != nil {
		return false, err
	}
	return slices.Contains(ring, msgID), nil
}

func (w *Worker) remember(s *session.Session, msgID string) error {
	var ring []string
	if _, err := s.Get(domain.KeyMessageIDs, &ring); err != nil {
		return err
	}
	ring = append(ring, msgID)
	if n := w.settings.ringSize(); len(ring) > n {
		ring = ring[len(ring)-n:]
	}
	return s.Save(domain.KeyMessageIDs, ring)
}

// debounce reports whether the turn is far enough from the last accepted one,
// recording now as the new reference when it is.
func (w *Worker) debounce(s *session.Session) (bool, error) {
	now := w.settings.now().UnixMilli()
	if w.settings.Debounce > 0 {
		var last int64
		found, err := s.Get(domain.KeyDebounce, &last)
		if err != nil {
			return false, err
		}
		if found && now-last < w.settings.Debounce.Milliseconds() {
			return false, nil
		}
	}
	return true, s.Save(domain.KeyDebounce, now)
}

func (w *Worker) markRead(ctx context.Context, user domain.User) {
	if user.MessageID == "" {
		return
	}
	if err := w.sender.MarkRead(ctx, user.MessageID); err != nil {
		w.logger.Warn("Failed to mark message as read", "session_id", user.ID, "msg_id", user.MessageID, "err", err)
	}
}

func (w *Worker) divert(ctx context.Context, s *session.Session, user domain.User, input domain.Input) error {
	if w.settings.ExternalHandlerHook == "" {
		w.logger.Warn("External handler active but no hook configured", "session_id", user.ID)
		return nil
	}
	arg := &domain.HookArg{
		SessionID: user.ID,
		Session:   s,
		User:      user,
		Input:     input.Text(),
		Data:      map[string]any{},
		Params:    map[string]any{},
		Output:    map[string]any{},
	}
	if input.Structured() {
		for k, v := range input.Body {
			arg.Data[k] = v
		}
	}
	return w.pipeline.Run(ctx, w.settings.ExternalHandlerHook, arg)
}

// fallback converts a turn failure into a best-effort message to the user.
func (w *Worker) fallback(ctx context.Context, s *session.Session, user domain.User, turnErr error) {
	var (
		cfgErr     *domain.ConfigError
		hookErr    *domain.HookError
		respErr    *domain.ResponseError
		expiredErr *domain.SessionExpiredError
		msg        domain.ButtonMessage
	)

	switch {
	case errors.As(turnErr, &expiredErr):
		w.logger.Warn("Session expired or inactive, clearing data", "session_id", user.ID, "reason", expiredErr.Reason)
		if err := s.Clear(); err != nil {
			w.logger.Error("Failed to clear expired session", "session_id", user.ID, "err", err)
		}
		msg = domain.ButtonMessage{
			Title:   SecurityCheckTitle,
			Body:    expiredErr.Reason,
			Footer:  SessionExpiredFooter,
			Buttons: []string{domain.ButtonMenu},
		}

	case errors.As(turnErr, &respErr):
		w.logger.Info("Invalid user response", "session_id", user.ID, "stage", respErr.Stage, "err", turnErr)
		msg = domain.ButtonMessage{
			Title:   fallbackTitle,
			Body:    respErr.Msg + MsgReturnToMenu,
			Buttons: []string{domain.ButtonMenu, domain.ButtonReport},
		}

	case errors.As(turnErr, &hookErr), errors.As(turnErr, &cfgErr):
		w.logger.Error("Turn failed", "session_id", user.ID, "err", turnErr)
		if err := s.Save(domain.KeyDynamicRetry, true); err != nil {
			w.logger.Error("Failed to flag dynamic retry", "session_id", user.ID, "err", err)
		}
		body := MsgProcessingFailed
		if hookErr != nil {
			body = hookMessage(hookErr)
		}
		msg = domain.ButtonMessage{
			Title:   fallbackTitle,
			Body:    body,
			Buttons: []string{domain.ButtonRetry, domain.ButtonReport},
		}

	default:
		w.logger.Error("Turn failed", "session_id", user.ID, "err", turnErr)
		return
	}

	stage := domain.Stage{Name: fallbackStage, Message: msg, Transient: true}
	arg := &domain.HookArg{SessionID: user.ID, Session: s, User: user, Params: map[string]any{}, Output: map[string]any{}}
	result, err := w.sender.Send(ctx, stage, arg)
	w.metrics.MessageSent(string(domain.KindButton), err == nil && result.Delivered)
	if err != nil {
		w.logger.Error("Failed to send fallback message", "session_id", user.ID, "err", err)
	}
}

// hookMessage is the user-facing text of a failed hook: the hook's own error
// message, unless the hook is missing, panicked or gave no message.
func hookMessage(e *domain.HookError) string {
	if e.Err == nil || errors.Is(e.Err, domain.ErrHookNotFound) || errors.Is(e.Err, errHookPanic) {
		return MsgProcessingFailed
	}
	if msg := strings.TrimSpace(e.Err.Error()); msg != "" {
		return msg
	}
	return MsgProcessingFailed
}

// TerminateExternalHandler clears the external handler marker of a session.
func (w *Worker) TerminateExternalHandler(ctx context.Context, sessionID string) error {
	return w.sessions.WithLock(ctx, sessionID, func(s *session.Session) error {
		active, err := s.KeyInSession(domain.KeyExtHandler, false)
		if err != nil || !active {
			return err
		}
		w.logger.Debug("External handler terminated", "session_id", sessionID)
		return s.Evict(domain.KeyExtHandler)
	})
}

// RespondExternal sends text to a session diverted to an external handler.
func (w *Worker) RespondExternal(ctx context.Context, recipientID, text, replyMessageID string) (domain.SendResult, error) {
	var result domain.SendResult
	err := w.sessions.WithLock(ctx, recipientID, func(s *session.Session) error {
		active, err := s.KeyInSession(domain.KeyExtHandler, false)
		if err != nil {
			return err
		}
		if !active {
			return domain.ErrNoExternalHandler
		}
		stage := domain.Stage{
			Name:           externalStage,
			Message:        domain.TextMessage{Body: text},
			ReplyMessageID: replyMessageID,
			Transient:      true,
		}
		arg := &domain.HookArg{
			SessionID: recipientID,
			Session:   s,
			User:      domain.User{ID: recipientID},
			Params:    map[string]any{},
			Output:    map[string]any{},
		}
		result, err = w.sender.Send(ctx, stage, arg)
		w.metrics.MessageSent(string(domain.KindText), err == nil && result.Delivered)
		if err != nil {
			return fmt.Errorf("failed to send external handler reply: %w", err)
		}
		w.logHistory(ctx, recipientID, domain.HistoryEntry{
			Role:        domain.RoleBot,
			MessageKind: string(domain.KindText),
			Content:     text,
			MessageID:   result.MessageID,
			Timestamp:   w.settings.now(),
			Metadata:    map[string]any{"external": true},
		})
		return nil
	})
	return result, err
}

func (w *Worker) drop(o Outcome) Outcome {
	w.metrics.MessageDropped(string(o))
	return o
}

func (w *Worker) logHistory(ctx context.Context, sessionID string, entry domain.HistoryEntry) {
	if w.history == nil {
		return
	}
	if err := w.history.Log(ctx, sessionID, entry); err != nil {
		w.logger.Warn("Failed to record history", "session_id", sessionID, "err", err)
	}
}

func outboundKind(stage domain.Stage, arg *domain.HookArg) domain.Kind {
	if arg != nil && arg.Content != nil && arg.Content.Message != nil {
		return arg.Content.Message.Kind()
	}
	return stage.Kind()
}

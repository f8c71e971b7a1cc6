package dryrun

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/aretw0/wadialog/internal/logging"
	"github.com/aretw0/wadialog/pkg/domain"
	"github.com/google/uuid"
)

// Request is one outbound message the sender would have delivered.
type Request struct {
	ID        string
	Recipient string
	Stage     string
	Kind      domain.Kind
	ReplyTo   string
	Message   json.RawMessage
	Variables map[string]any
}

// Sender implements ports.Sender without talking to the platform.
// Every request is logged and kept in memory.
type Sender struct {
	logger *slog.Logger

	mu       sync.Mutex
	requests []Request
	read     []string
}

// Option configures a Sender.
type Option func(*Sender)

// WithLogger sets the logger requests are written to.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sender) {
		s.logger = logger
	}
}

// New creates a dry-run sender.
func New(opts ...Option) *Sender {
	s := &Sender{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send records stage as delivered. Hook supplied content replaces the stage message.
func (s *Sender) Send(ctx context.Context, stage domain.Stage, arg *domain.HookArg) (domain.SendResult, error) {
	msg := stage.Message
	req := Request{
		ID:      "wamid.dryrun." + uuid.NewString(),
		Stage:   stage.Name,
		ReplyTo: stage.ReplyMessageID,
	}
	if arg != nil {
		req.Recipient = arg.User.ID
		if arg.Content != nil {
			if arg.Content.Message != nil {
				msg = arg.Content.Message
			}
			req.Variables = arg.Content.Variables
		}
	}
	if msg != nil {
		req.Kind = msg.Kind()
		b, err := json.Marshal(msg)
		if err != nil {
			return domain.SendResult{}, err
		}
		req.Message = b
	}

	s.logger.Info("Dry-run send",
		"recipient", req.Recipient,
		"stage", req.Stage,
		"kind", req.Kind,
		"message_id", req.ID,
		"message", string(req.Message),
	)

	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return domain.SendResult{MessageID: req.ID, Delivered: true}, nil
}

// MarkRead records the read receipt.
func (s *Sender) MarkRead(ctx context.Context, messageID string) error {
	s.logger.Debug("Dry-run read receipt", "message_id", messageID)
	s.mu.Lock()
	s.read = append(s.read, messageID)
	s.mu.Unlock()
	return nil
}

// Requests returns a copy of every request sent so far.
func (s *Sender) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Read returns the message ids marked as read.
func (s *Sender) Read() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.read...)
}

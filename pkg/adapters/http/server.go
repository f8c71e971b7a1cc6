package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/aretw0/wadialog"
	"github.com/aretw0/wadialog/internal/logging"
	"github.com/aretw0/wadialog/pkg/domain"
	"github.com/aretw0/wadialog/pkg/whatsapp"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultMaxBodyBytes bounds webhook request bodies.
const DefaultMaxBodyBytes = 1 << 20

// Engine defines what the HTTP surface needs from the wadialog engine.
type Engine interface {
	VerifyChallenge(mode, token, challenge string) (string, error)
	CheckSignature(body []byte, signature string) error
	HandleWebhook(ctx context.Context, body []byte, signature string) (wadialog.Outcome, error)
	HandleFlow(ctx context.Context, body []byte) (string, error)
}

// Server serves the webhook, flow, health and metrics endpoints.
type Server struct {
	engine   Engine
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	async    bool
	maxBody  int64

	router chi.Router
	wg     sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithGatherer exposes g on GET /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithAsync acknowledges webhooks once the signature is verified and
// processes them in the background. Call Wait before shutting down.
func WithAsync(async bool) Option {
	return func(s *Server) {
		s.async = async
	}
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		s.maxBody = n
	}
}

// NewServer creates the HTTP surface for engine.
func NewServer(engine Engine, opts ...Option) *Server {
	s := &Server{
		engine:  engine,
		logger:  logging.NewNop(),
		maxBody: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/webhook", s.challenge)
	r.Post("/webhook", s.webhook)
	r.Post("/webhook/flow", s.flow)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Wait blocks until background webhook processing has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// challenge handles the GET /webhook subscription handshake.
func (s *Server) challenge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	answer, err := s.engine.VerifyChallenge(q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge"))
	if err != nil {
		s.logger.Warn("Webhook challenge rejected", "err", err)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(answer))
}

// webhook handles POST /webhook notifications.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusRequestEntityTooLarge)
		s.logger.Warn("Webhook: body rejected", "err", err)
		return
	}
	signature := r.Header.Get(whatsapp.SignatureHeader)

	if s.async {
		if err := s.engine.CheckSignature(body, signature); err != nil {
			s.logger.Warn("Webhook: signature rejected", "err", err)
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}
		// The platform cancels the request once it gets its 200.
		ctx := context.WithoutCancel(r.Context())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.process(ctx, body, signature)
		}()
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := s.process(r.Context(), body, signature); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSignature), errors.Is(err, domain.ErrMissingSignature):
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		case isProtocolError(err):
			http.Error(w, "Invalid payload", http.StatusBadRequest)
			return
		}
	}
	// Turn failures are answered in-chat; redelivery would not help.
	w.WriteHeader(http.StatusOK)
}

func (s *Server) process(ctx context.Context, body []byte, signature string) error {
	outcome, err := s.engine.HandleWebhook(ctx, body, signature)
	if err != nil {
		s.logger.Error("Webhook processing failed", "outcome", outcome, "err", err)
		return err
	}
	s.logger.Debug("Webhook processed", "outcome", outcome)
	return nil
}

// flow handles POST /webhook/flow data exchange requests.
func (s *Server) flow(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusRequestEntityTooLarge)
		return
	}

	resp, err := s.engine.HandleFlow(r.Context(), body)
	if err != nil {
		code := http.StatusInternalServerError
		var flowErr *domain.FlowError
		if errors.As(err, &flowErr) {
			code = flowErr.Code
		}
		http.Error(w, http.StatusText(code), code)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(resp))
}

func isProtocolError(err error) bool {
	var protoErr *domain.ProtocolError
	return errors.As(err, &protoErr)
}

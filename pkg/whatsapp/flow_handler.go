package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/aretw0/wadialog/internal/logging"
	"github.com/aretw0/wadialog/pkg/domain"
)

// FlowProcessor answers a decrypted data-exchange request. The returned
// value is JSON-encoded and encrypted as the response.
type FlowProcessor func(ctx context.Context, payload FlowPayload) (any, error)

// FlowTokenValidator reports whether a flow token is still acceptable.
type FlowTokenValidator func(ctx context.Context, token string) bool

// FlowHandler runs the Flow endpoint protocol around a FlowProcessor.
type FlowHandler struct {
	crypto        *FlowCrypto
	process       FlowProcessor
	validateToken FlowTokenValidator
	logger        *slog.Logger
}

// FlowOption configures a FlowHandler.
type FlowOption func(*FlowHandler)

// WithTokenValidator rejects requests whose flow token fails validation.
func WithTokenValidator(v FlowTokenValidator) FlowOption {
	return func(h *FlowHandler) {
		h.validateToken = v
	}
}

// WithFlowLogger sets the handler logger.
func WithFlowLogger(logger *slog.Logger) FlowOption {
	return func(h *FlowHandler) {
		h.logger = logger
	}
}

// NewFlowHandler creates a handler. process may be nil, in which case only
// health checks and error notifications are answered.
func NewFlowHandler(crypto *FlowCrypto, process FlowProcessor, opts ...FlowOption) *FlowHandler {
	h := &FlowHandler{
		crypto:  crypto,
		process: process,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle decrypts body, dispatches it and returns the encrypted response.
// Errors are always *domain.FlowError.
func (h *FlowHandler) Handle(ctx context.Context, body []byte) (string, error) {
	var req FlowRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", &domain.FlowError{Code: domain.FlowCodeFailure, Msg: "malformed flow request", Err: err}
	}

	exchange, err := h.crypto.Decrypt(req)
	if err != nil {
		return "", err
	}
	payload := exchange.Payload

	var resp any
	switch {
	case payload.Action == FlowActionPing:
		resp = map[string]any{"data": map[string]any{"status": "active"}}

	case payload.IsClientError():
		h.logger.Warn("Flow client reported an error",
			"flow_token", payload.FlowToken,
			"screen", payload.Screen,
			"data", payload.Data,
		)
		resp = map[string]any{"data": map[string]any{"acknowledged": true}}

	default:
		if h.validateToken != nil && !h.validateToken(ctx, payload.FlowToken) {
			return "", &domain.FlowError{Code: domain.FlowCodeInvalidToken, Msg: "invalid flow token"}
		}
		if h.process == nil {
			return "", &domain.FlowError{Code: domain.FlowCodeFailure, Msg: "no flow processor configured"}
		}
		resp, err = h.process(ctx, payload)
		if err != nil {
			var flowErr *domain.FlowError
			if errors.As(err, &flowErr) {
				return "", flowErr
			}
			return "", &domain.FlowError{Code: domain.FlowCodeFailure, Msg: "flow processor failed", Err: err}
		}
	}

	return exchange.EncryptResponse(resp)
}

// FlowFinalResponse builds the response that closes a flow and hands params
// back to the chat as the flow completion message.
func FlowFinalResponse(flowToken string, params map[string]any) map[string]any {
	p := map[string]any{"flow_token": flowToken}
	for k, v := range params {
		p[k] = v
	}
	return map[string]any{
		"screen": "SUCCESS",
		"data": map[string]any{
			"extension_message_response": map[string]any{
				"params": p,
			},
		},
	}
}

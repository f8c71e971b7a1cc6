package domain

import (
	"errors"
	"fmt"
)

// ErrStageNotFound is returned by storage when a stage name cannot be resolved.
var ErrStageNotFound = errors.New("stage not found")

// ErrHookNotFound is returned when a hook name is not registered.
var ErrHookNotFound = errors.New("hook not found")

// ErrKeyNotFound is returned by session backends for missing keys.
var ErrKeyNotFound = errors.New("key not found")

// ErrInvalidSignature is returned when the webhook HMAC does not match.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// ErrMissingSignature is returned when signature enforcement is on and the header is absent.
var ErrMissingSignature = errors.New("missing webhook signature")

// ErrChallengeFailed is returned when the subscription handshake is rejected.
var ErrChallengeFailed = errors.New("webhook challenge verification failed")

// ErrNoMessage is returned for webhooks that carry no user message (e.g. status receipts).
var ErrNoMessage = errors.New("webhook carries no message")

// ErrNoExternalHandler is returned when replying through an external handler that is not active.
var ErrNoExternalHandler = errors.New("no active external handler")

// ConfigError reports a broken stage graph or engine setup.
type ConfigError struct {
	Stage string
	Msg   string
	Err   error
}

func (e *ConfigError) Error() string {
	msg := e.Msg
	if e.Stage != "" {
		msg = fmt.Sprintf("%s (stage '%s')", msg, e.Stage)
	}
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", msg, e.Err)
	}
	return "configuration error: " + msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ResponseError reports a reply that matches no route of the current stage.
type ResponseError struct {
	Stage string
	Msg   string
}

func (e *ResponseError) Error() string {
	return e.Msg
}

// SessionExpiredError reports an expired auth session or an inactivity timeout.
type SessionExpiredError struct {
	Reason string
}

func (e *SessionExpiredError) Error() string {
	return "session expired: " + e.Reason
}

// HookError wraps a failure raised by, or while resolving, a named hook.
type HookError struct {
	Hook string
	Err  error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hook '%s' failed: %v", e.Hook, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// Flow endpoint status codes expected by the platform.
const (
	FlowCodeKeyMismatch      = 421
	FlowCodeInvalidToken     = 427
	FlowCodeInvalidSignature = 432
	FlowCodeFailure          = 500
)

// FlowError reports a Flow data-exchange failure with the status the platform expects.
type FlowError struct {
	Code int
	Msg  string
	Err  error
}

func (e *FlowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("flow error %d: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("flow error %d: %s", e.Code, e.Msg)
}

func (e *FlowError) Unwrap() error { return e.Err }

// KeyChanged reports whether the platform must re-provision the public key.
func (e *FlowError) KeyChanged() bool {
	return e.Code == FlowCodeKeyMismatch
}

// ProtocolError reports a webhook rejected at the boundary.
type ProtocolError struct {
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol error: %s: %v", e.Msg, e.Err)
	}
	return "protocol error: " + e.Msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

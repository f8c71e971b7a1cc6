package wadialog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/wadialog/internal/runtime"
	"github.com/aretw0/wadialog/pkg/domain"
)

// PersistPolicy decides when the next stage is recorded as current.
type PersistPolicy string

const (
	// PersistOnDelivery records the stage only when the send was confirmed.
	PersistOnDelivery PersistPolicy = "on_delivery"
	// PersistAlways records the stage even if delivery failed.
	PersistAlways PersistPolicy = "always"
)

// Config holds the platform credentials and engine behaviour.
// Field tags match the keys read by the CLI configuration loader.
type Config struct {
	// VerifyToken answers the webhook subscription challenge.
	VerifyToken string `mapstructure:"verify_token"`
	// AppSecret signs inbound webhook bodies.
	AppSecret string `mapstructure:"app_secret"`
	// EnforceSignature rejects webhooks without a valid X-Hub-Signature-256.
	EnforceSignature bool `mapstructure:"enforce_signature"`
	// LogInvalidWebhooks logs payloads that carry no user message.
	LogInvalidWebhooks bool `mapstructure:"log_invalid_webhooks"`

	// PrivateKey is the PEM encoded RSA key for Flow data exchange.
	PrivateKey string `mapstructure:"private_key"`
	// PrivateKeyPassphrase decrypts an encrypted PrivateKey.
	PrivateKeyPassphrase string `mapstructure:"private_key_passphrase"`

	StartStage  string `mapstructure:"start_stage"`
	ReportStage string `mapstructure:"report_stage"`

	MenuKeywords   []string          `mapstructure:"menu_keywords"`
	BackKeywords   []string          `mapstructure:"back_keywords"`
	ReportKeywords []string          `mapstructure:"report_keywords"`
	GlobalTriggers map[string]string `mapstructure:"global_triggers"`

	GlobalPreHooks      []string `mapstructure:"global_pre_hooks"`
	GlobalPostHooks     []string `mapstructure:"global_post_hooks"`
	GlobalTriggerHook   string   `mapstructure:"global_trigger_hook"`
	ExternalHandlerHook string   `mapstructure:"external_handler_hook"`

	// DebounceMS is the minimum gap between two accepted messages of a session.
	DebounceMS int `mapstructure:"debounce_ms"`
	// RingSize is the number of recent message ids kept for deduplication.
	RingSize int `mapstructure:"ring_size"`
	// InactivityMinutes expires authenticated sessions after this much silence.
	InactivityMinutes int `mapstructure:"inactivity_minutes"`
	// StalenessSeconds drops messages whose timestamp is further from now.
	StalenessSeconds int `mapstructure:"staleness_seconds"`

	Dedup            bool `mapstructure:"dedup"`
	HandleInactivity bool `mapstructure:"handle_inactivity"`
	AuthRequired     bool `mapstructure:"auth_required"`
	ReadReceipts     bool `mapstructure:"read_receipts"`

	Persist PersistPolicy `mapstructure:"persist"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		DebounceMS:        6000,
		RingSize:          runtime.DefaultRingSize,
		InactivityMinutes: 3,
		StalenessSeconds:  10,
		Dedup:             true,
		HandleInactivity:  true,
		AuthRequired:      true,
		Persist:           PersistOnDelivery,
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.StartStage) == "" {
		errs = append(errs, errors.New("start_stage is required"))
	}
	if c.EnforceSignature && c.AppSecret == "" {
		errs = append(errs, errors.New("app_secret is required when enforce_signature is set"))
	}
	if c.PrivateKeyPassphrase != "" && c.PrivateKey == "" {
		errs = append(errs, errors.New("private_key_passphrase is set without private_key"))
	}
	if c.DebounceMS < 0 {
		errs = append(errs, fmt.Errorf("debounce_ms must not be negative, got %d", c.DebounceMS))
	}
	if c.RingSize < 0 {
		errs = append(errs, fmt.Errorf("ring_size must not be negative, got %d", c.RingSize))
	}
	if c.InactivityMinutes < 0 {
		errs = append(errs, fmt.Errorf("inactivity_minutes must not be negative, got %d", c.InactivityMinutes))
	}
	if c.StalenessSeconds < 0 {
		errs = append(errs, fmt.Errorf("staleness_seconds must not be negative, got %d", c.StalenessSeconds))
	}
	switch c.Persist {
	case "", PersistOnDelivery, PersistAlways:
	default:
		errs = append(errs, fmt.Errorf("unknown persist policy %q", c.Persist))
	}
	for keyword, def := range c.GlobalTriggers {
		if strings.TrimSpace(keyword) == "" {
			errs = append(errs, errors.New("global trigger with empty keyword"))
		}
		if target, _ := domain.ParseTarget(def); target == "" {
			errs = append(errs, fmt.Errorf("global trigger %q has no target", keyword))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &domain.ConfigError{Msg: "invalid config", Err: errors.Join(errs...)}
}

func (c Config) settings() runtime.Settings {
	return runtime.Settings{
		StartStage:          c.StartStage,
		ReportStage:         c.ReportStage,
		MenuKeywords:        c.MenuKeywords,
		BackKeywords:        c.BackKeywords,
		ReportKeywords:      c.ReportKeywords,
		GlobalTriggers:      c.GlobalTriggers,
		GlobalPreHooks:      c.GlobalPreHooks,
		GlobalPostHooks:     c.GlobalPostHooks,
		GlobalTriggerHook:   c.GlobalTriggerHook,
		ExternalHandlerHook: c.ExternalHandlerHook,
		AuthRequired:        c.AuthRequired,
		HandleInactivity:    c.HandleInactivity,
		InactivityTimeout:   time.Duration(c.InactivityMinutes) * time.Minute,
		Dedup:               c.Dedup,
		RingSize:            c.RingSize,
		Debounce:            time.Duration(c.DebounceMS) * time.Millisecond,
		Staleness:           time.Duration(c.StalenessSeconds) * time.Second,
		ReadReceipts:        c.ReadReceipts,
		PersistAlways:       c.Persist == PersistAlways,
	}
}

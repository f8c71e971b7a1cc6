package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aretw0/wadialog"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "WADIALOG"

// Process is the configuration of a wadialog server process.
type Process struct {
	Engine wadialog.Config `mapstructure:",squash"`

	Addr            string        `mapstructure:"addr"`
	StageDir        string        `mapstructure:"stage_dir"`
	TriggerDir      string        `mapstructure:"trigger_dir"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
	Async           bool          `mapstructure:"async"`
	Metrics         bool          `mapstructure:"metrics"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// PrivateKeyFile is read into Engine.PrivateKey when set.
	PrivateKeyFile string `mapstructure:"private_key_file"`

	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`

	// EncryptionKey is a hex encoded 32 byte key encrypting session values at rest.
	EncryptionKey string `mapstructure:"encryption_key"`
	// EncryptionFallbackKeys are previous keys still accepted for reading.
	EncryptionFallbackKeys []string `mapstructure:"encryption_fallback_keys"`
	PIIKeys                []string `mapstructure:"pii_keys"`

	HistoryDB string `mapstructure:"history_db"`
}

// Defaults returns the process defaults.
func Defaults() Process {
	return Process{
		Engine:          wadialog.DefaultConfig(),
		Addr:            ":8080",
		StageDir:        "stages",
		LogLevel:        "info",
		LogFormat:       "json",
		ShutdownTimeout: 10 * time.Second,
		SessionTTL:      30 * time.Minute,
	}
}

// LoadDotEnv loads .env files into the environment. Missing files are skipped
// and variables already set are never overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads the configuration from defaults, the optional YAML file at path
// and WADIALOG_* environment variables, in increasing precedence.
func Load(path string) (*Process, error) {
	v := viper.New()
	setDefaults(v, Defaults())

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var p Process
	if err := v.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if p.PrivateKeyFile != "" {
		pem, err := os.ReadFile(p.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		p.Engine.PrivateKey = string(pem)
	}
	return &p, nil
}

// Validate checks the process fields and the engine config.
func (p *Process) Validate() error {
	var errs []error
	if err := p.Engine.Validate(); err != nil {
		errs = append(errs, err)
	}
	if p.StageDir == "" {
		errs = append(errs, errors.New("stage_dir is required"))
	}
	if p.EncryptionKey != "" {
		if _, _, err := p.Keys(); err != nil {
			errs = append(errs, err)
		}
	} else if len(p.EncryptionFallbackKeys) > 0 {
		errs = append(errs, errors.New("encryption_fallback_keys requires encryption_key"))
	}
	return errors.Join(errs...)
}

// Keys decodes EncryptionKey and EncryptionFallbackKeys.
func (p *Process) Keys() (active []byte, fallback [][]byte, err error) {
	active, err = decodeKey("encryption_key", p.EncryptionKey)
	if err != nil {
		return nil, nil, err
	}
	for i, s := range p.EncryptionFallbackKeys {
		k, err := decodeKey(fmt.Sprintf("encryption_fallback_keys[%d]", i), s)
		if err != nil {
			return nil, nil, err
		}
		fallback = append(fallback, k)
	}
	return active, fallback, nil
}

func decodeKey(name, s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s must be hex: %w", name, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s must be 32 bytes, got %d", name, len(key))
	}
	return key, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d Process) {
	e := d.Engine
	for key, value := range map[string]any{
		"verify_token":           e.VerifyToken,
		"app_secret":             e.AppSecret,
		"enforce_signature":      e.EnforceSignature,
		"log_invalid_webhooks":   e.LogInvalidWebhooks,
		"private_key":            e.PrivateKey,
		"private_key_passphrase": e.PrivateKeyPassphrase,
		"start_stage":            e.StartStage,
		"report_stage":           e.ReportStage,
		"menu_keywords":          e.MenuKeywords,
		"back_keywords":          e.BackKeywords,
		"report_keywords":        e.ReportKeywords,
		"global_triggers":        e.GlobalTriggers,
		"global_pre_hooks":       e.GlobalPreHooks,
		"global_post_hooks":      e.GlobalPostHooks,
		"global_trigger_hook":    e.GlobalTriggerHook,
		"external_handler_hook":  e.ExternalHandlerHook,
		"debounce_ms":            e.DebounceMS,
		"ring_size":              e.RingSize,
		"inactivity_minutes":     e.InactivityMinutes,
		"staleness_seconds":      e.StalenessSeconds,
		"dedup":                  e.Dedup,
		"handle_inactivity":      e.HandleInactivity,
		"auth_required":          e.AuthRequired,
		"read_receipts":          e.ReadReceipts,
		"persist":                string(e.Persist),

		"addr":             d.Addr,
		"stage_dir":        d.StageDir,
		"trigger_dir":      d.TriggerDir,
		"log_level":        d.LogLevel,
		"log_format":       d.LogFormat,
		"async":            d.Async,
		"metrics":          d.Metrics,
		"shutdown_timeout": d.ShutdownTimeout,
		"private_key_file": d.PrivateKeyFile,
		"redis_addr":       d.RedisAddr,
		"redis_password":   d.RedisPassword,
		"redis_db":         d.RedisDB,
		"session_ttl":      d.SessionTTL,
		"encryption_key":   d.EncryptionKey,
		"pii_keys":         d.PIIKeys,
		"history_db":       d.HistoryDB,

		"encryption_fallback_keys": d.EncryptionFallbackKeys,
	} {
		v.SetDefault(key, value)
	}
}

// Package config loads server settings from defaults, an optional YAML
// file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Engine   EngineConfig   `koanf:"engine"`
	LLM      LLMConfig      `koanf:"llm"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port" validate:"min=1,max=65535"`
	// Prefix under which every concept route is mounted.
	BaseURL string `koanf:"base_url" validate:"required,startswith=/"`
	// How long a Requesting.request waits for its respond.
	RequestTimeout  time.Duration `koanf:"request_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	// Per-IP limit. Zero requests disables limiting.
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"min=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
	// Concept/action routes served directly instead of through Requesting.
	Passthrough []string `koanf:"passthrough" validate:"dive,required"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig locates persistent state.
type DatabaseConfig struct {
	// SQLite file holding the event log and concept tables.
	Path string `koanf:"path" validate:"required"`
	// Badger directory for sessions. Empty keeps sessions in memory.
	SessionDir string        `koanf:"session_dir"`
	SessionTTL time.Duration `koanf:"session_ttl" validate:"min=0"`
}

// EngineConfig tunes the sync engine.
type EngineConfig struct {
	MaxSteps int `koanf:"max_steps" validate:"min=1"`
	Workers  int `koanf:"workers" validate:"min=1"`
	// Directory of .cue rule files replacing the built-in catalog.
	SyncDir string `koanf:"sync_dir"`
}

// LLMConfig configures the Gemini client and its guards.
type LLMConfig struct {
	APIKey        string        `koanf:"api_key"`
	Model         string        `koanf:"model" validate:"required"`
	Endpoint      string        `koanf:"endpoint" validate:"required,url"`
	Timeout       time.Duration `koanf:"timeout" validate:"gt=0"`
	RatePerSecond float64       `koanf:"rate_per_second" validate:"min=0"`
	Burst         int           `koanf:"burst" validate:"min=0"`
	MaxFailures   uint32        `koanf:"max_failures" validate:"min=1"`
	OpenTimeout   time.Duration `koanf:"open_timeout" validate:"gt=0"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and reports every violation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fieldPath(fe.Namespace()), fe.Tag(), fe.Value()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// fieldPath turns "Config.Server.Port" into "server.port".
func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	return strings.ToLower(ns)
}

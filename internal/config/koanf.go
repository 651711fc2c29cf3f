package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/roach88/hobbysync/internal/llm"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "HOBBYSYNC_CONFIG"

// DefaultPaths are searched in order when no path is given.
var DefaultPaths = []string{
	"hobbysync.yaml",
	"hobbysync.yml",
	"/etc/hobbysync/config.yaml",
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "",
			Port:              8000,
			BaseURL:           "/api",
			RequestTimeout:    10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
		},
		Database: DatabaseConfig{
			Path: "hobbysync.db",
		},
		Engine: EngineConfig{
			MaxSteps: 1000,
			Workers:  8,
		},
		LLM: LLMConfig{
			Model:         llm.DefaultGeminiModel,
			Endpoint:      llm.DefaultGeminiEndpoint,
			Timeout:       30 * time.Second,
			RatePerSecond: 1,
			Burst:         5,
			MaxFailures:   5,
			OpenTimeout:   30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load layers defaults, the YAML file at path (or the first of
// DefaultPaths that exists) and environment variables, then validates.
// An explicit path that does not exist is an error.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Unprefixed names kept for deployment compatibility.
var envAliases = map[string]string{
	"port":           "server.port",
	"gemini_api_key": "llm.api_key",
	"gemini_model":   "llm.model",
}

// envTransform maps HOBBYSYNC_SECTION_FIELD to section.field. The section
// is the first underscore-separated word, so HOBBYSYNC_SERVER_BASE_URL
// becomes server.base_url. Anything else is skipped.
func envTransform(key string) string {
	key = strings.ToLower(key)
	if mapped, ok := envAliases[key]; ok {
		return mapped
	}
	rest, ok := strings.CutPrefix(key, "hobbysync_")
	if !ok || rest == "config" {
		return ""
	}
	section, field, ok := strings.Cut(rest, "_")
	if !ok || field == "" {
		return ""
	}
	return section + "." + field
}

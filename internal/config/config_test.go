package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hobbysync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, ":8000", cfg.Server.Addr())
	assert.Equal(t, "/api", cfg.Server.BaseURL)
	assert.Equal(t, 1000, cfg.Engine.MaxSteps)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9090
  request_timeout: 3s
database:
  path: /tmp/x.db
  session_ttl: 24h
logging:
  format: console
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "/tmp/x.db", cfg.Database.Path)
	assert.Equal(t, 24*time.Hour, cfg.Database.SessionTTL)
	assert.Equal(t, "console", cfg.Logging.Format)
	// Untouched sections keep their defaults.
	assert.Equal(t, "/api", cfg.Server.BaseURL)
}

func TestLoadPassthroughRoutes(t *testing.T) {
	path := writeFile(t, `
server:
  passthrough:
    - /QuizMatchmaker/_getQuestions
    - PasswordAuthentication/_getUserByUsername
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/QuizMatchmaker/_getQuestions", "PasswordAuthentication/_getUserByUsername"}, cfg.Server.Passthrough)

	cfg, err = Load(writeFile(t, "server:\n  passthrough: [\"\"]\n"))
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "server.passthrough")
}

func TestEnvironmentWins(t *testing.T) {
	path := writeFile(t, "server:\n  port: 9090\n")
	t.Setenv("PORT", "7000")
	t.Setenv("GEMINI_API_KEY", "secret")
	t.Setenv("HOBBYSYNC_ENGINE_MAX_STEPS", "50")
	t.Setenv("HOBBYSYNC_SERVER_BASE_URL", "/v1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.LLM.APIKey)
	assert.Equal(t, 50, cfg.Engine.MaxSteps)
	assert.Equal(t, "/v1", cfg.Server.BaseURL)
}

func TestConfigPathFromEnvironment(t *testing.T) {
	path := writeFile(t, "engine:\n  workers: 3\n")
	t.Setenv(PathEnvVar, path)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Engine.Workers)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "config file")
}

func TestValidationReportsEveryField(t *testing.T) {
	path := writeFile(t, `
server:
  port: 0
  base_url: api
logging:
  level: loud
`)
	_, err := Load(path)
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "server.port")
	assert.Contains(t, msg, "server.baseurl")
	assert.Contains(t, msg, "logging.level")
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"PORT", "server.port"},
		{"GEMINI_API_KEY", "llm.api_key"},
		{"HOBBYSYNC_DATABASE_SESSION_DIR", "database.session_dir"},
		{"HOBBYSYNC_LOGGING_LEVEL", "logging.level"},
		{"HOBBYSYNC_CONFIG", ""},
		{"HOBBYSYNC_ENGINE", ""},
		{"HOME", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, envTransform(tt.in))
		})
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/sprint-worklog/internal/connector/jira"
)

var envKeys = []string{
	"APP_ENV", "LOG_LEVEL", "JIRA_BASE_URL", "JIRA_EMAIL", "JIRA_API_TOKEN", "JIRA_BOARD_ID",
	"HTTP_TIMEOUT", "HTTP_RATE_LIMIT", "HTTP_MAX_RETRIES", "PREFETCH_WORKERS",
}

// isolate runs the test in an empty directory with a clean environment.
func isolate(t *testing.T) string {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.False(t, cfg.IsDev())
	assert.ErrorIs(t, cfg.RequireBoard(), ErrBoardMissing)
	assert.ErrorIs(t, cfg.Validate(), jira.ErrAuthenticationMissing)
}

func TestLoadYAML(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "config.yaml", `
env: dev
log_level: debug
jira:
  base_url: https://acme.atlassian.net/
  email: dana@example.com
  api_token: secret
  board_id: 12
http:
  timeout: 45s
  rate_limit: 4
  max_retries: 2
prefetch_workers: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.IsDev())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 12, cfg.BoardID)
	assert.Equal(t, 45*time.Second, cfg.Timeout)
	assert.Equal(t, 4.0, cfg.RateLimit)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 5, cfg.PrefetchWorkers)
	assert.Equal(t, "https://acme.atlassian.net", cfg.BaseURL)

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://acme.atlassian.net", cfg.Jira().BaseURL)
}

func TestLoadJSONC(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "config.jsonc", `{
  // comments and trailing commas are fine
  "jira": {
    "base_url": "https://acme.atlassian.net",
    "email": "dana@example.com",
    "api_token": "secret",
    "board_id": 3,
  },
  "http": {"timeout": "10"},
}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.BoardID)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.NoError(t, cfg.RequireBoard())
}

func TestEnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, dir, "config.yml", "jira:\n  board_id: 12\n  email: file@example.com\n")
	t.Setenv("JIRA_BOARD_ID", "99")
	t.Setenv("HTTP_TIMEOUT", "2m")
	t.Setenv("HTTP_RATE_LIMIT", "not-a-number")
	t.Setenv("JIRA_BASE_URL", " https://env.atlassian.net/ ")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://env.atlassian.net", cfg.BaseURL)
	assert.Equal(t, 99, cfg.BoardID)
	assert.Equal(t, "file@example.com", cfg.Email)
	assert.Equal(t, 2*time.Minute, cfg.Timeout)
	assert.Equal(t, 10.0, cfg.RateLimit)
}

func TestDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	dir := isolate(t)
	writeFile(t, dir, ".env", "JIRA_EMAIL=dotenv@example.com\nJIRA_API_TOKEN=from-dotenv\n")
	t.Setenv("JIRA_EMAIL", "shell@example.com")
	// godotenv treats empty-but-set variables as set; unset the token so the
	// .env value applies.
	require.NoError(t, os.Unsetenv("JIRA_API_TOKEN"))
	t.Cleanup(func() { os.Unsetenv("JIRA_API_TOKEN") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "shell@example.com", cfg.Email)
	assert.Equal(t, "from-dotenv", cfg.APIToken)
}

func TestLoadErrors(t *testing.T) {
	dir := isolate(t)

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, errConfigFileRead)

	_, err = Load(writeFile(t, dir, "bad.json", `{"jira": `))
	assert.ErrorIs(t, err, errConfigInvalid)

	_, err = Load(writeFile(t, dir, "bad.yaml", "http:\n  timeout: soon\n"))
	assert.ErrorIs(t, err, errConfigInvalid)

	_, err = Load(writeFile(t, dir, "config.toml", ""))
	assert.ErrorIs(t, err, errUnknownFormat)
}

func TestValidateRejectsBadSiteURL(t *testing.T) {
	cfg := Default()
	cfg.BaseURL = "acme.atlassian.net"
	cfg.Email = "dana@example.com"
	cfg.APIToken = "secret"
	assert.ErrorIs(t, cfg.Validate(), jira.ErrInvalidInput)
}

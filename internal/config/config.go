// Package config provides configuration loading for the sprint worklog tool.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"

	"github.com/nucleus/sprint-worklog/internal/connector/jira"
)

var (
	errConfigFileRead = errors.New("cannot read config file")
	errConfigInvalid  = errors.New("invalid config")
	errUnknownFormat  = errors.New("unsupported config format")

	// ErrBoardMissing is returned when a sprint command runs without a board id.
	ErrBoardMissing = errors.New("please configure a board id")
)

// Config holds the tool configuration.
type Config struct {
	// Env is "dev" for human-readable logs; anything else logs JSON.
	Env      string
	LogLevel string

	// Jira connection
	BaseURL  string
	Email    string
	APIToken string
	BoardID  int

	// HTTP behaviour
	Timeout    time.Duration
	RateLimit  float64
	MaxRetries int

	PrefetchWorkers int
}

// fileConfig is the on-disk shape shared by YAML and JSONC files.
type fileConfig struct {
	Env      string `yaml:"env" json:"env"`
	LogLevel string `yaml:"log_level" json:"log_level"`
	Jira     struct {
		BaseURL  string `yaml:"base_url" json:"base_url"`
		Email    string `yaml:"email" json:"email"`
		APIToken string `yaml:"api_token" json:"api_token"`
		BoardID  int    `yaml:"board_id" json:"board_id"`
	} `yaml:"jira" json:"jira"`
	HTTP struct {
		Timeout    string  `yaml:"timeout" json:"timeout"`
		RateLimit  float64 `yaml:"rate_limit" json:"rate_limit"`
		MaxRetries int     `yaml:"max_retries" json:"max_retries"`
	} `yaml:"http" json:"http"`
	PrefetchWorkers int `yaml:"prefetch_workers" json:"prefetch_workers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Env:             "production",
		LogLevel:        "info",
		Timeout:         30 * time.Second,
		RateLimit:       10,
		MaxRetries:      0,
		PrefetchWorkers: 3,
	}
}

// Load builds the configuration from, in increasing precedence: defaults,
// the optional file at path (.yaml, .yml, .json or .jsonc), and the
// environment. A .env file in the working directory is read into the
// environment first without overriding variables that are already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.BaseURL = jira.NormalizeSiteURL(cfg.BaseURL)
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", errConfigFileRead, path, err)
	}

	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return fmt.Errorf("%w %s: %w", errConfigInvalid, path, err)
		}
	case ".json", ".jsonc":
		standardized, err := hujson.Standardize(data)
		if err != nil {
			return fmt.Errorf("%w %s: invalid JSONC: %w", errConfigInvalid, path, err)
		}
		if err := json.Unmarshal(standardized, &fc); err != nil {
			return fmt.Errorf("%w %s: invalid JSON: %w", errConfigInvalid, path, err)
		}
	default:
		return fmt.Errorf("%w: %s", errUnknownFormat, path)
	}

	if fc.Env != "" {
		c.Env = fc.Env
	}
	if fc.LogLevel != "" {
		c.LogLevel = fc.LogLevel
	}
	if fc.Jira.BaseURL != "" {
		c.BaseURL = fc.Jira.BaseURL
	}
	if fc.Jira.Email != "" {
		c.Email = fc.Jira.Email
	}
	if fc.Jira.APIToken != "" {
		c.APIToken = fc.Jira.APIToken
	}
	if fc.Jira.BoardID != 0 {
		c.BoardID = fc.Jira.BoardID
	}
	if fc.HTTP.Timeout != "" {
		d, err := parseDuration(fc.HTTP.Timeout)
		if err != nil {
			return fmt.Errorf("%w %s: http.timeout: %w", errConfigInvalid, path, err)
		}
		c.Timeout = d
	}
	if fc.HTTP.RateLimit > 0 {
		c.RateLimit = fc.HTTP.RateLimit
	}
	if fc.HTTP.MaxRetries > 0 {
		c.MaxRetries = fc.HTTP.MaxRetries
	}
	if fc.PrefetchWorkers > 0 {
		c.PrefetchWorkers = fc.PrefetchWorkers
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Env = getEnv("APP_ENV", c.Env)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.BaseURL = getEnv("JIRA_BASE_URL", c.BaseURL)
	c.Email = getEnv("JIRA_EMAIL", c.Email)
	c.APIToken = getEnv("JIRA_API_TOKEN", c.APIToken)
	c.BoardID = getEnvInt("JIRA_BOARD_ID", c.BoardID)
	c.Timeout = getEnvDuration("HTTP_TIMEOUT", c.Timeout)
	c.RateLimit = getEnvFloat("HTTP_RATE_LIMIT", c.RateLimit)
	c.MaxRetries = getEnvInt("HTTP_MAX_RETRIES", c.MaxRetries)
	c.PrefetchWorkers = getEnvInt("PREFETCH_WORKERS", c.PrefetchWorkers)
}

// IsDev reports whether human-readable logging is wanted.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Env, "dev") || strings.EqualFold(c.Env, "development")
}

// Jira returns the connection settings for the Jira client.
func (c *Config) Jira() *jira.Config {
	return &jira.Config{
		BaseURL:    c.BaseURL,
		Email:      c.Email,
		APIToken:   c.APIToken,
		Timeout:    c.Timeout,
		RateLimit:  c.RateLimit,
		MaxRetries: c.MaxRetries,
	}
}

// Validate checks the credentials and site URL.
func (c *Config) Validate() error {
	return c.Jira().Validate()
}

// RequireBoard fails when no board id is configured.
func (c *Config) RequireBoard() error {
	if c.BoardID <= 0 {
		return ErrBoardMissing
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := parseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// parseDuration accepts Go durations ("45s") and bare seconds ("45").
func parseDuration(val string) (time.Duration, error) {
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(val)
}

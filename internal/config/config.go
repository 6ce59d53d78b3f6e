package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Tracker backends.
const (
	TrackerGitHub = "github"
	TrackerGitLab = "gitlab"
)

// Config represents the vibe configuration.
type Config struct {
	Tracker     string `yaml:"tracker"`
	Format      string `yaml:"format"`
	MaxAttempts int    `yaml:"maxAttempts"`
	Autofix     bool   `yaml:"autofix"`
	Publish     bool   `yaml:"publish"`
	Strict      bool   `yaml:"strict"`
	// Label overrides the follow-up label policy when set.
	Label             string          `yaml:"label,omitempty"`
	AutomationAuthors []string        `yaml:"automationAuthors,omitempty"`
	GitHub            GitHubConfig    `yaml:"github"`
	GitLab            GitLabConfig    `yaml:"gitlab"`
	Retry             RetryConfig     `yaml:"retry"`
	Privacy           PrivacyConfig   `yaml:"privacy"`
	Log               LogConfig       `yaml:"log"`
	Telemetry         TelemetryConfig `yaml:"telemetry"`
}

// GitHubConfig configures the GitHub backend.
type GitHubConfig struct {
	APIURL string `yaml:"apiUrl"`
	Token  string `yaml:"-"`
}

// GitLabConfig configures the GitLab backend.
type GitLabConfig struct {
	BaseURL string `yaml:"baseUrl"`
	Token   string `yaml:"-"`
}

// RetryConfig bounds retries of tracker calls.
type RetryConfig struct {
	Attempts    int `yaml:"attempts"`
	BaseDelayMs int `yaml:"baseDelayMs"`
}

// PrivacyConfig controls redaction of posted finding text.
type PrivacyConfig struct {
	RedactPaths []string `yaml:"redactPaths,omitempty"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// TelemetryConfig enables OTLP/HTTP tracing when Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint,omitempty"`
	ServiceName string `yaml:"serviceName"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Tracker:           TrackerGitHub,
		Format:            "markdown",
		MaxAttempts:       5,
		AutomationAuthors: []string{"github-actions", "chatgpt-codex-connector", "copilot-pull-request-reviewer"},
		GitHub:            GitHubConfig{APIURL: "https://api.github.com"},
		GitLab:            GitLabConfig{BaseURL: "https://gitlab.com"},
		Retry:             RetryConfig{Attempts: 3, BaseDelayMs: 500},
		Privacy:           PrivacyConfig{RedactPaths: []string{"**/.env", "**/*secrets*"}},
		Log:               LogConfig{Level: "info"},
		Telemetry:         TelemetryConfig{ServiceName: "vibe"},
	}
}

// ConfigDir returns the platform-appropriate config directory for vibe.
func ConfigDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "vibe"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "vibe"), nil
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "vibe"), nil
		}
		return filepath.Join(home, "AppData", "Roaming", "vibe"), nil
	default:
		return filepath.Join(home, ".config", "vibe"), nil
	}
}

// ConfigPath returns the full path to the config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// LoadFile decodes the config file over cfg. Keys absent from the file keep
// their current value. A missing file is not an error.
func LoadFile(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// Save writes the config to the config file.
func Save(cfg Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadDotEnv loads dir/.env into the process environment without
// overriding variables that are already set. A missing file is ignored.
func LoadDotEnv(dir string) error {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

// Load builds the effective config by merging: defaults <- file <- env <- overrides.
// The overrides map comes from CLI flags (only explicitly set flags should be present).
func Load(overrides map[string]string) (Config, error) {
	cfg := Default()

	if err := LoadFile(&cfg); err != nil {
		return Config{}, err
	}
	if err := mergeEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := mergeOverrides(&cfg, overrides); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that have a fixed domain.
func (c Config) Validate() error {
	switch c.Tracker {
	case TrackerGitHub, TrackerGitLab:
	default:
		return fmt.Errorf("tracker must be %q or %q, got %q", TrackerGitHub, TrackerGitLab, c.Tracker)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1, got %d", c.Retry.Attempts)
	}
	return nil
}

// Token returns the credential for the configured tracker.
func (c Config) Token() string {
	if c.Tracker == TrackerGitLab {
		return c.GitLab.Token
	}
	return c.GitHub.Token
}

// envKeys maps VIBE_* variables onto SetField keys.
var envKeys = []struct{ env, key string }{
	{"VIBE_TRACKER", "tracker"},
	{"VIBE_FORMAT", "format"},
	{"VIBE_MAX_ATTEMPTS", "maxAttempts"},
	{"VIBE_AUTOFIX", "autofix"},
	{"VIBE_PUBLISH", "publish"},
	{"VIBE_STRICT", "strict"},
	{"VIBE_LABEL", "label"},
	{"VIBE_GITHUB_API_URL", "github.apiUrl"},
	{"VIBE_GITLAB_URL", "gitlab.baseUrl"},
	{"VIBE_RETRY_ATTEMPTS", "retry.attempts"},
	{"VIBE_LOG_LEVEL", "log.level"},
	{"VIBE_OTEL_ENDPOINT", "telemetry.endpoint"},
}

func mergeEnv(cfg *Config) error {
	for _, e := range envKeys {
		v := os.Getenv(e.env)
		if v == "" {
			continue
		}
		if err := SetField(cfg, e.key, v); err != nil {
			return fmt.Errorf("%s: %w", e.env, err)
		}
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.GitHub.Token = v
	} else if v := os.Getenv("GH_TOKEN"); v != "" {
		cfg.GitHub.Token = v
	}
	if v := os.Getenv("GITLAB_TOKEN"); v != "" {
		cfg.GitLab.Token = v
	}
	return nil
}

func mergeOverrides(cfg *Config, overrides map[string]string) error {
	for key, v := range overrides {
		if v == "" {
			continue
		}
		if err := SetField(cfg, key, v); err != nil {
			return fmt.Errorf("--%s: %w", key, err)
		}
	}
	return nil
}

// Keys lists the keys accepted by SetField.
var Keys = []string{
	"tracker", "format", "maxAttempts", "autofix", "publish", "strict", "label",
	"automationAuthors", "github.apiUrl", "gitlab.baseUrl", "retry.attempts",
	"retry.baseDelayMs", "privacy.redactPaths", "log.level", "telemetry.endpoint",
	"telemetry.serviceName",
}

// SetField sets a single config field by key name. Returns error if key is unknown.
func SetField(cfg *Config, key, value string) error {
	var err error
	switch key {
	case "tracker":
		cfg.Tracker = strings.ToLower(value)
	case "format":
		cfg.Format = value
	case "maxAttempts":
		cfg.MaxAttempts, err = atoi(key, value)
	case "autofix":
		cfg.Autofix, err = parseBool(key, value)
	case "publish":
		cfg.Publish, err = parseBool(key, value)
	case "strict":
		cfg.Strict, err = parseBool(key, value)
	case "label":
		cfg.Label = value
	case "automationAuthors":
		cfg.AutomationAuthors = splitList(value)
	case "github.apiUrl":
		cfg.GitHub.APIURL = value
	case "gitlab.baseUrl":
		cfg.GitLab.BaseURL = value
	case "retry.attempts":
		cfg.Retry.Attempts, err = atoi(key, value)
	case "retry.baseDelayMs":
		cfg.Retry.BaseDelayMs, err = atoi(key, value)
	case "privacy.redactPaths":
		cfg.Privacy.RedactPaths = splitList(value)
	case "log.level":
		cfg.Log.Level = value
	case "telemetry.endpoint":
		cfg.Telemetry.Endpoint = value
	case "telemetry.serviceName":
		cfg.Telemetry.ServiceName = value
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return err
}

func atoi(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func parseBool(key, value string) (bool, error) {
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s must be true or false: %w", key, err)
	}
	return b, nil
}

func splitList(value string) []string {
	var out []string
	for _, p := range strings.Split(value, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

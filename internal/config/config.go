package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the service configuration
type Config struct {
	Server     ServerConfig   `yaml:"server"`
	Auth       AuthConfig     `yaml:"auth"`
	GitHub     GitHubConfig   `yaml:"github"`
	Database   DatabaseConfig `yaml:"database"`
	Polling    PollingConfig  `yaml:"polling"`
	Logging    LoggingConfig  `yaml:"logging"`
	PolicyFile string         `yaml:"policy_file"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// AuthConfig contains authentication settings for the /v1 API
type AuthConfig struct {
	APIKeys []APIKey `yaml:"api_keys"`
}

// APIKey represents an API key for authentication
type APIKey struct {
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

// GitHubConfig contains GitHub Enterprise connection settings
type GitHubConfig struct {
	APIURL        string        `yaml:"api_url"`
	AdminTokens   []string      `yaml:"admin_tokens"` // entries may be comma-separated
	OwnerToken    string        `yaml:"owner_token"`
	OwnerUser     string        `yaml:"owner_user"`
	WebhookSecret string        `yaml:"webhook_secret"`
	Timeout       time.Duration `yaml:"timeout"`
}

// DatabaseConfig selects the mirror store backend
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite3 or postgres
	DSN    string `yaml:"dsn"`
}

// PollingConfig controls how repos and users are spread over polling runs
type PollingConfig struct {
	ReminderMinutes      int `yaml:"reminder_minutes"`
	PollingPeriodMinutes int `yaml:"polling_period_minutes"`
	MaxSyncRetry         int `yaml:"max_sync_retry"`
	Concurrency          int `yaml:"concurrency"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration YAML, expanding environment variables and applying defaults
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// FromEnv builds a configuration from environment variables only
func FromEnv() *Config {
	cfg := Config{
		GitHub: GitHubConfig{
			APIURL:        os.Getenv("GITHUB_API_URL"),
			AdminTokens:   []string{os.Getenv("GITHUB_ADMIN_TOKENS")},
			OwnerToken:    os.Getenv("GITHUB_OWNER_TOKEN"),
			OwnerUser:     os.Getenv("GITHUB_OWNER_USER"),
			WebhookSecret: os.Getenv("GITHUB_WEBHOOK_KEY"),
		},
		Database: DatabaseConfig{
			Driver: os.Getenv("DATABASE_DRIVER"),
			DSN:    os.Getenv("DATABASE_DSN"),
		},
		Logging: LoggingConfig{
			Level:  os.Getenv("LOG_LEVEL"),
			Format: os.Getenv("LOG_FORMAT"),
		},
		PolicyFile: os.Getenv("POLICY_FILE"),
	}
	if key := os.Getenv("API_KEY"); key != "" {
		cfg.Auth.APIKeys = []APIKey{{Name: "default", Key: key}}
	}

	cfg.ApplyDefaults()
	return &cfg
}

// ApplyDefaults fills unset settings with their defaults. It is idempotent.
func (cfg *Config) ApplyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}

	cfg.GitHub.AdminTokens = splitTokens(cfg.GitHub.AdminTokens)
	cfg.GitHub.APIURL = strings.TrimRight(cfg.GitHub.APIURL, "/")
	if cfg.GitHub.OwnerToken == "" && len(cfg.GitHub.AdminTokens) > 0 {
		cfg.GitHub.OwnerToken = cfg.GitHub.AdminTokens[0]
	}
	if cfg.GitHub.Timeout == 0 {
		cfg.GitHub.Timeout = 30 * time.Second
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite3"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite3" {
		cfg.Database.DSN = "file:ghe-policy-check.db?_foreign_keys=on"
	}

	if cfg.Polling.ReminderMinutes == 0 {
		cfg.Polling.ReminderMinutes = 24 * 60
	}
	if cfg.Polling.PollingPeriodMinutes == 0 {
		cfg.Polling.PollingPeriodMinutes = 60
	}
	if cfg.Polling.MaxSyncRetry == 0 {
		cfg.Polling.MaxSyncRetry = 3
	}
	if cfg.Polling.Concurrency == 0 {
		cfg.Polling.Concurrency = 4
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the settings every command needs
func (cfg *Config) Validate() error {
	if cfg.GitHub.APIURL == "" {
		return fmt.Errorf("github.api_url is required")
	}
	if len(cfg.GitHub.AdminTokens) == 0 {
		return fmt.Errorf("github.admin_tokens requires at least one token")
	}
	if cfg.Polling.PollingPeriodMinutes <= 0 || cfg.Polling.ReminderMinutes < cfg.Polling.PollingPeriodMinutes {
		return fmt.Errorf("polling.reminder_minutes (%d) must be at least polling.polling_period_minutes (%d)",
			cfg.Polling.ReminderMinutes, cfg.Polling.PollingPeriodMinutes)
	}
	switch cfg.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("database.driver %q is not supported", cfg.Database.Driver)
	}
	return nil
}

// PollingPeriods is the number of polling runs in one reminder period
func (p PollingConfig) PollingPeriods() int {
	return p.ReminderMinutes / p.PollingPeriodMinutes
}

// ReminderPeriod is the interval after which a repo is reminded again
func (p PollingConfig) ReminderPeriod() time.Duration {
	return time.Duration(p.ReminderMinutes) * time.Minute
}

func splitTokens(entries []string) []string {
	var tokens []string
	for _, entry := range entries {
		for _, token := range strings.Split(entry, ",") {
			if token = strings.TrimSpace(token); token != "" {
				tokens = append(tokens, token)
			}
		}
	}
	return tokens
}

// Package config provides configuration management for the CodeSift server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all configuration for the CodeSift server.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":7080").
	ServerAddr string

	// DataDir is the directory for persistent data (SQLite DB, etc.).
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// Workspace is the default workspace directory channels answer from.
	Workspace string

	// GitHubToken is the personal access token for GitHub API operations.
	GitHubToken string

	// LLM provider API keys.
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// LLMModel overrides the provider's default model.
	LLMModel string

	// Slack integration (optional -- Socket Mode).
	// SlackBotToken is the Bot User OAuth Token (xoxb-...).
	SlackBotToken string
	// SlackAppToken is the App-Level Token (xapp-...) required for Socket Mode.
	SlackAppToken string
	// SlackDefaultRepo is the repository PRs are opened against from Slack.
	SlackDefaultRepo string

	// Telegram integration (optional -- long polling, no public URL needed).
	// TelegramBotToken is the token from @BotFather.
	TelegramBotToken string
	// TelegramDefaultRepo is the repository PRs are opened against from Telegram.
	TelegramDefaultRepo string

	// Jira integration (optional -- webhook on labeled issues).
	JiraBaseURL       string
	JiraUserEmail     string
	JiraAPIToken      string
	JiraWebhookSecret string
	JiraTriggerLabel  string
	JiraDefaultRepo   string

	// Linear integration (optional -- webhook on labeled issues).
	LinearAPIKey        string
	LinearWebhookSecret string
	LinearTriggerLabel  string
	LinearDefaultRepo   string

	// MaxMessages is the max user messages per conversation. Default: 50.
	MaxMessages int

	// StreamTimeout bounds a single streaming turn. Default: 5m.
	StreamTimeout time.Duration
}

// Load creates a Config from environment variables with sensible defaults.
func Load() (*Config, error) {
	dataDir := envOr("CODESIFT_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	cfg := &Config{
		ServerAddr:      envOr("CODESIFT_ADDR", ":7080"),
		DataDir:         dataDir,
		DatabasePath:    filepath.Join(dataDir, "codesift.db"),
		Workspace:       os.Getenv("CODESIFT_WORKSPACE"),
		GitHubToken:     os.Getenv("GITHUB_TOKEN"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		LLMModel:        os.Getenv("CODESIFT_LLM_MODEL"),
		SlackBotToken:       os.Getenv("SLACK_BOT_TOKEN"),
		SlackAppToken:       os.Getenv("SLACK_APP_TOKEN"),
		SlackDefaultRepo:    os.Getenv("SLACK_DEFAULT_REPO"),
		TelegramBotToken:    os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramDefaultRepo: os.Getenv("TELEGRAM_DEFAULT_REPO"),
		JiraBaseURL:         os.Getenv("JIRA_BASE_URL"),
		JiraUserEmail:       os.Getenv("JIRA_USER_EMAIL"),
		JiraAPIToken:        os.Getenv("JIRA_API_TOKEN"),
		JiraWebhookSecret:   os.Getenv("JIRA_WEBHOOK_SECRET"),
		JiraTriggerLabel:    os.Getenv("JIRA_TRIGGER_LABEL"),
		JiraDefaultRepo:     os.Getenv("JIRA_DEFAULT_REPO"),
		LinearAPIKey:        os.Getenv("LINEAR_API_KEY"),
		LinearWebhookSecret: os.Getenv("LINEAR_WEBHOOK_SECRET"),
		LinearTriggerLabel:  os.Getenv("LINEAR_TRIGGER_LABEL"),
		LinearDefaultRepo:   os.Getenv("LINEAR_DEFAULT_REPO"),
		MaxMessages:         envOrInt("CODESIFT_MAX_MESSAGES", 50),
		StreamTimeout:       envOrDuration("CODESIFT_STREAM_TIMEOUT", 5*time.Minute),
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.AnthropicAPIKey == "" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("at least one of ANTHROPIC_API_KEY or OPENAI_API_KEY is required")
	}
	if (c.SlackEnabled() || c.TelegramEnabled() || c.JiraEnabled() || c.LinearEnabled()) && c.Workspace == "" {
		return fmt.Errorf("CODESIFT_WORKSPACE is required when a chat channel is enabled")
	}
	return nil
}

// SlackEnabled returns true if Slack Socket Mode is configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// TelegramEnabled returns true if the Telegram bot is configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}

// JiraEnabled returns true if the Jira webhook channel is configured.
func (c *Config) JiraEnabled() bool {
	return c.JiraBaseURL != "" && c.JiraUserEmail != "" && c.JiraAPIToken != ""
}

// LinearEnabled returns true if the Linear webhook channel is configured.
func (c *Config) LinearEnabled() bool {
	return c.LinearAPIKey != ""
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".codesift"
	}
	return filepath.Join(home, ".codesift")
}

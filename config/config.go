// Package config loads bot configuration from environment variables and an
// optional config.yaml in the config directory. Environment variables take
// precedence over file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/claudegram/claudegram/paths"
)

// Config holds all runtime settings for the bot.
type Config struct {
	// TelegramToken is the bot API token. Required.
	TelegramToken string

	// AllowedUserIDs is the authorization allow-list. Required, non-empty.
	AllowedUserIDs []int64

	// Model is the default Claude model. Empty means the CLI's default.
	Model string

	// WorkingDir is the directory the claude subprocess runs in.
	WorkingDir string

	// AllowedTools is passed to claude via --allowedTools when non-empty.
	AllowedTools []string

	// MaxBudgetUSD is the per-exchange cost threshold that triggers a warning.
	MaxBudgetUSD float64

	// TimeoutSeconds bounds each claude invocation.
	TimeoutSeconds int
}

// Timeout returns the per-invocation timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// IsAllowed reports whether a Telegram user ID is on the allow-list.
func (c *Config) IsAllowed(userID int64) bool {
	for _, id := range c.AllowedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Load reads configuration from config.yaml (if present) and the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if dir, err := paths.ConfigDir(); err == nil {
		v.AddConfigPath(dir)
	}

	v.SetDefault("telegram_bot_token", "")
	v.SetDefault("allowed_user_ids", "")
	v.SetDefault("claude_model", "")
	v.SetDefault("claude_working_dir", "")
	v.SetDefault("claude_allowed_tools", "")
	v.SetDefault("claude_max_budget_usd", 1.00)
	v.SetDefault("claude_timeout_seconds", 300)

	v.BindEnv("telegram_bot_token", "TELEGRAM_BOT_TOKEN")
	v.BindEnv("allowed_user_ids", "ALLOWED_USER_IDS")
	v.BindEnv("claude_model", "CLAUDE_MODEL")
	v.BindEnv("claude_working_dir", "CLAUDE_WORKING_DIR")
	v.BindEnv("claude_allowed_tools", "CLAUDE_ALLOWED_TOOLS")
	v.BindEnv("claude_max_budget_usd", "CLAUDE_MAX_BUDGET_USD")
	v.BindEnv("claude_timeout_seconds", "CLAUDE_TIMEOUT_SECONDS")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; env vars are the primary source.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	userIDs, err := parseUserIDs(v.GetString("allowed_user_ids"))
	if err != nil {
		return nil, err
	}

	workingDir := v.GetString("claude_working_dir")
	if workingDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			workingDir = cwd
		}
	}

	cfg := &Config{
		TelegramToken:  v.GetString("telegram_bot_token"),
		AllowedUserIDs: userIDs,
		Model:          v.GetString("claude_model"),
		WorkingDir:     workingDir,
		AllowedTools:   parseList(v.GetString("claude_allowed_tools")),
		MaxBudgetUSD:   v.GetFloat64("claude_max_budget_usd"),
		TimeoutSeconds: v.GetInt("claude_timeout_seconds"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is not set")
	}
	if len(c.AllowedUserIDs) == 0 {
		return fmt.Errorf("ALLOWED_USER_IDS is not set; refusing to start an open bot")
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("CLAUDE_TIMEOUT_SECONDS must be positive, got %d", c.TimeoutSeconds)
	}
	if c.MaxBudgetUSD < 0 {
		return fmt.Errorf("CLAUDE_MAX_BUDGET_USD must not be negative, got %g", c.MaxBudgetUSD)
	}
	return nil
}

// parseUserIDs parses a comma-separated list of numeric Telegram user IDs.
func parseUserIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID %q in ALLOWED_USER_IDS", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// parseList splits a comma-separated string, trimming whitespace and
// dropping empty entries.
func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

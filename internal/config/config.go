package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds all runtime configuration for the coach backend.
type Config struct {
	Port           int
	DBPath         string
	AllowedOrigins []string
	LogLevel       string
	// APIKey guards the /api/v1/checkins endpoints when non-empty.
	APIKey string

	AnthropicAPIKey string
	ChatModel       string
	ExtractModel    string
	ClassifyModel   string
	ChatMaxTokens   int
	ToolMaxTokens   int
	LLMTimeout      time.Duration

	ChatSystemPrompt string
	CreatePromptFile string
	UpdatePromptFile string

	// CheckinWindowDays bounds which check-ins are shown to the model as
	// "existing active" ones.
	CheckinWindowDays int
}

// Load reads configuration from viper, which merges flag values, env vars,
// and defaults (set up by the cobra command in cmd/coach).
func Load() Config {
	return Config{
		Port:              viper.GetInt("port"),
		DBPath:            viper.GetString("db_path"),
		AllowedOrigins:    splitList(viper.GetString("allowed_origins")),
		LogLevel:          viper.GetString("log_level"),
		APIKey:            viper.GetString("api_key"),
		AnthropicAPIKey:   viper.GetString("anthropic_api_key"),
		ChatModel:         viper.GetString("chat_model"),
		ExtractModel:      viper.GetString("extract_model"),
		ClassifyModel:     viper.GetString("classify_model"),
		ChatMaxTokens:     viper.GetInt("chat_max_tokens"),
		ToolMaxTokens:     viper.GetInt("tool_max_tokens"),
		LLMTimeout:        viper.GetDuration("llm_timeout"),
		ChatSystemPrompt:  viper.GetString("chat_system_prompt"),
		CreatePromptFile:  viper.GetString("create_prompt_file"),
		UpdatePromptFile:  viper.GetString("update_prompt_file"),
		CheckinWindowDays: viper.GetInt("checkin_window_days"),
	}
}

// CheckinWindow returns the lookback used when collecting active check-ins.
func (c Config) CheckinWindow() time.Duration {
	days := c.CheckinWindowDays
	if days <= 0 {
		days = 7
	}
	return time.Duration(days) * 24 * time.Hour
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Package config provides configuration loading, defaults and validation
// for assistbot. Values come from a YAML file and environment overrides.
package config

import (
	"time"

	"github.com/go-telegram/bot/models"
)

// Config defines the application configuration for all components.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Backend   BackendConfig   `mapstructure:"backend"`
	Assistant AssistantConfig `mapstructure:"assistant"`
	Buttons   ButtonsConfig   `mapstructure:"buttons"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Messages  MessagesConfig  `mapstructure:"messages"`
}

// LoggerConfig controls slog output.
type LoggerConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

// TelegramConfig holds the bot token, the target bot and chat filters.
type TelegramConfig struct {
	Token                  string  `mapstructure:"token"                    validate:"required"`
	TargetBotUsername      string  `mapstructure:"target_bot_username"      validate:"required,tgusername"`
	AdminUserIDs           []int64 `mapstructure:"admin_user_ids"           validate:"dive,gt=0"`
	GroupChatIDs           []int64 `mapstructure:"group_chat_ids"`
	AllowPrivateMessages   bool    `mapstructure:"allow_private_messages"`
	MonitorChannelComments bool    `mapstructure:"monitor_channel_comments"`

	// BotInfo is filled at startup from getMe.
	BotInfo *models.User `mapstructure:"-"`
}

// IsAdmin reports whether userID may run operator commands.
func (t TelegramConfig) IsAdmin(userID int64) bool {
	for _, id := range t.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// AllowsGroup reports whether the bot serves chatID. An empty list allows every group.
func (t TelegramConfig) AllowsGroup(chatID int64) bool {
	if len(t.GroupChatIDs) == 0 {
		return true
	}
	for _, id := range t.GroupChatIDs {
		if id == chatID {
			return true
		}
	}
	return false
}

// BackendConfig selects and tunes the text-generation backend.
type BackendConfig struct {
	Provider    string        `mapstructure:"provider"     validate:"oneof=openrouter gemini"`
	APIKey      string        `mapstructure:"api_key"      validate:"required"`
	BaseURL     string        `mapstructure:"base_url"     validate:"omitempty,url"`
	Model       string        `mapstructure:"model"        validate:"required"`
	Temperature float32       `mapstructure:"temperature"  validate:"min=0,max=2"`
	MaxTokens   int           `mapstructure:"max_tokens"   validate:"min=1,max=4000"`
	Timeout     time.Duration `mapstructure:"timeout"      validate:"min=1s,max=2m"`
	MaxAttempts int           `mapstructure:"max_attempts" validate:"min=1,max=10"`
	BackoffBase time.Duration `mapstructure:"backoff_base" validate:"min=10ms"`
	BackoffCap  time.Duration `mapstructure:"backoff_cap"  validate:"gtefield=BackoffBase"`
}

// AssistantConfig controls the context window and the instruction document.
type AssistantConfig struct {
	InstructionPath   string        `mapstructure:"instruction_path"    validate:"required"`
	WatchInstruction  bool          `mapstructure:"watch_instruction"`
	ContextWindowSize int           `mapstructure:"context_window_size" validate:"min=1,max=50"`
	MaxContextLength  int           `mapstructure:"max_context_length"  validate:"min=500,max=8000"`
	MessageMaxAge     time.Duration `mapstructure:"message_max_age"     validate:"min=1m"`
}

// ButtonsConfig controls the reply keyboard layout.
type ButtonsConfig struct {
	MaxButtons int `mapstructure:"max_buttons" validate:"min=1,max=12"`
	PerRow     int `mapstructure:"per_row"     validate:"min=1,max=4"`
}

// DatabaseConfig locates the run journal.
type DatabaseConfig struct {
	Path         string        `mapstructure:"path"          validate:"required"`
	RunRetention time.Duration `mapstructure:"run_retention" validate:"min=1h"`
}

// SchedulerConfig maps task names to their schedules.
type SchedulerConfig struct {
	Tasks map[string]TaskConfig `mapstructure:"tasks" validate:"dive"`
}

// TaskConfig enables a task and sets its cron expression (seconds field optional).
type TaskConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule" validate:"required_if=Enabled true"`
}

// MessagesConfig holds every user-facing text.
type MessagesConfig struct {
	Welcome       string `mapstructure:"welcome"        validate:"required"`
	Help          string `mapstructure:"help"           validate:"required"`
	GeneralError  string `mapstructure:"general_error"  validate:"required"`
	Timeout       string `mapstructure:"timeout"        validate:"required"`
	NotAuthorized string `mapstructure:"not_authorized" validate:"required"`
	Reloaded      string `mapstructure:"reloaded"       validate:"required"`
	ReloadFailed  string `mapstructure:"reload_failed"  validate:"required"`
	ContextReset  string `mapstructure:"context_reset"  validate:"required"`
	StatsHeader   string `mapstructure:"stats_header"   validate:"required"`
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. ASSIST_BACKEND_MODEL.
const EnvPrefix = "ASSIST"

var usernameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{3,31}$`)

// legacyEnv binds bare environment names kept for existing deployments.
var legacyEnv = map[string]string{
	"telegram.token":               "TELEGRAM_BOT_TOKEN",
	"telegram.target_bot_username": "TARGET_BOT_USERNAME",
	"backend.api_key":              "OPENROUTER_API_KEY",
	"backend.model":                "OPENROUTER_MODEL",
	"logger.level":                 "LOG_LEVEL",
}

// LoadConfig reads the YAML file at path, applies defaults and environment
// overrides, normalizes and validates the result. A missing file is not an
// error: defaults and environment are enough to run.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), legacy); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", legacy, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	normalize(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.RegisterValidation("tgusername", func(fl validator.FieldLevel) bool {
		return usernameRe.MatchString(fl.Field().String())
	}); err != nil {
		return fmt.Errorf("failed to register validator: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func normalize(cfg *Config) {
	cfg.Telegram.TargetBotUsername = strings.TrimPrefix(strings.TrimSpace(cfg.Telegram.TargetBotUsername), "@")
	cfg.Logger.Level = strings.ToLower(cfg.Logger.Level)
	if cfg.Logger.Level == "warning" {
		cfg.Logger.Level = "warn"
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.json", false)

	v.SetDefault("telegram.admin_user_ids", []int64{})
	v.SetDefault("telegram.group_chat_ids", []int64{})
	v.SetDefault("telegram.allow_private_messages", false)
	v.SetDefault("telegram.monitor_channel_comments", true)

	v.SetDefault("backend.provider", "openrouter")
	v.SetDefault("backend.model", "nex-agi/deepseek-v3.1-nex-n1:free")
	v.SetDefault("backend.temperature", 0.7)
	v.SetDefault("backend.max_tokens", 500)
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("backend.max_attempts", 3)
	v.SetDefault("backend.backoff_base", time.Second)
	v.SetDefault("backend.backoff_cap", 16*time.Second)

	v.SetDefault("assistant.instruction_path", "config/ai_instruction.md")
	v.SetDefault("assistant.watch_instruction", true)
	v.SetDefault("assistant.context_window_size", 10)
	v.SetDefault("assistant.max_context_length", 3000)
	v.SetDefault("assistant.message_max_age", 24*time.Hour)

	v.SetDefault("buttons.max_buttons", 6)
	v.SetDefault("buttons.per_row", 2)

	v.SetDefault("database.path", "assistbot.db")
	v.SetDefault("database.run_retention", 7*24*time.Hour)

	v.SetDefault("scheduler.tasks.instruction_reload.enabled", false)
	v.SetDefault("scheduler.tasks.instruction_reload.schedule", "0 */5 * * * *")
	v.SetDefault("scheduler.tasks.context_prune.enabled", true)
	v.SetDefault("scheduler.tasks.context_prune.schedule", "0 */10 * * * *")
	v.SetDefault("scheduler.tasks.journal_prune.enabled", true)
	v.SetDefault("scheduler.tasks.journal_prune.schedule", "0 30 3 * * *")
	v.SetDefault("scheduler.tasks.sql_maintenance.enabled", true)
	v.SetDefault("scheduler.tasks.sql_maintenance.schedule", "0 0 4 * * 0")

	v.SetDefault("messages.welcome", "I suggest one-tap commands for @target. Mention @botname or reply to me in the group.")
	v.SetDefault("messages.help", "Mention @botname or reply to one of my messages and I will suggest commands for @target.\n\nAdmin commands: /reload, /stats, /reset")
	v.SetDefault("messages.general_error", "Sorry, I could not prepare suggestions right now. Please try again later.")
	v.SetDefault("messages.timeout", "The assistant took too long to answer. Please try again.")
	v.SetDefault("messages.not_authorized", "You are not authorized to use this command.")
	v.SetDefault("messages.reloaded", "Instruction reloaded.")
	v.SetDefault("messages.reload_failed", "Instruction reload failed, the previous version stays active.")
	v.SetDefault("messages.context_reset", "Context for this chat has been cleared.")
	v.SetDefault("messages.stats_header", "Assistant statistics")
}

package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shiftbreak/breakwatch/internal/storage"
)

// Config holds the complete application configuration
type Config struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Shift    ShiftConfig    `mapstructure:"shift"`
	Breaks   BreaksConfig   `mapstructure:"breaks"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// TelegramConfig defines the bot transport settings
type TelegramConfig struct {
	Token           string `mapstructure:"token"`
	ManagerID       int64  `mapstructure:"manager_id"`
	ManagerUsername string `mapstructure:"manager_username"`
	ManagerName     string `mapstructure:"manager_name"`
	PollTimeout     int    `mapstructure:"poll_timeout"` // seconds, long-poll
	MaxAttempts     int    `mapstructure:"max_attempts"` // delivery retries
}

// ShiftConfig defines the shift boundaries and timezone
type ShiftConfig struct {
	TimezoneOffsetHours int    `mapstructure:"timezone_offset_hours"`
	DayStart            string `mapstructure:"day_start"`   // HH:MM local
	NightStart          string `mapstructure:"night_start"` // HH:MM local
	ReconcileDelay      string `mapstructure:"reconcile_delay"`
}

// KindConfig defines the limits for one break kind
type KindConfig struct {
	LimitMinutes int    `mapstructure:"limit_minutes"`
	ShiftQuota   int    `mapstructure:"shift_quota"`
	MinDuration  string `mapstructure:"min_duration"`
	Cooldown     string `mapstructure:"cooldown"`
}

// BreaksConfig defines per-kind limits and global break behavior
type BreaksConfig struct {
	Toilet        KindConfig `mapstructure:"toilet"`
	Smoke         KindConfig `mapstructure:"smoke"`
	Meal          KindConfig `mapstructure:"meal"`
	Grace         string     `mapstructure:"grace"`
	HelpDelete    string     `mapstructure:"help_delete"`
	IdleRetention string     `mapstructure:"idle_retention"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig defines the metrics endpoint
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Port        int    `mapstructure:"port"`
	BindAddress string `mapstructure:"bind_address"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("BREAKWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Telegram defaults
	v.SetDefault("telegram.poll_timeout", 30)
	v.SetDefault("telegram.max_attempts", 3)

	// Shift defaults: day shift 07:00-19:00 at UTC+7
	v.SetDefault("shift.timezone_offset_hours", 7)
	v.SetDefault("shift.day_start", "07:00")
	v.SetDefault("shift.night_start", "19:00")
	v.SetDefault("shift.reconcile_delay", "5s")

	// Break defaults
	v.SetDefault("breaks.toilet.limit_minutes", 10)
	v.SetDefault("breaks.toilet.shift_quota", 5)
	v.SetDefault("breaks.toilet.min_duration", "30s")
	v.SetDefault("breaks.toilet.cooldown", "5m")
	v.SetDefault("breaks.smoke.limit_minutes", 10)
	v.SetDefault("breaks.smoke.shift_quota", 5)
	v.SetDefault("breaks.smoke.min_duration", "30s")
	v.SetDefault("breaks.smoke.cooldown", "5m")
	v.SetDefault("breaks.meal.limit_minutes", 30)
	v.SetDefault("breaks.meal.shift_quota", 3)
	v.SetDefault("breaks.meal.min_duration", "60s")
	v.SetDefault("breaks.meal.cooldown", "15m")
	v.SetDefault("breaks.grace", "3m")
	v.SetDefault("breaks.help_delete", "1m")
	v.SetDefault("breaks.idle_retention", "720h")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/breakwatch/breakwatch.bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.bind_address", "0.0.0.0")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required (set telegram.token or BREAKWATCH_TELEGRAM_TOKEN)")
	}

	for _, kind := range []struct {
		name string
		cfg  KindConfig
	}{
		{"toilet", cfg.Breaks.Toilet},
		{"smoke", cfg.Breaks.Smoke},
		{"meal", cfg.Breaks.Meal},
	} {
		if kind.cfg.LimitMinutes <= 0 {
			return fmt.Errorf("breaks.%s.limit_minutes must be positive", kind.name)
		}
		if kind.cfg.ShiftQuota <= 0 {
			return fmt.Errorf("breaks.%s.shift_quota must be positive", kind.name)
		}
		if _, err := time.ParseDuration(kind.cfg.MinDuration); err != nil {
			return fmt.Errorf("breaks.%s.min_duration: %w", kind.name, err)
		}
		if _, err := time.ParseDuration(kind.cfg.Cooldown); err != nil {
			return fmt.Errorf("breaks.%s.cooldown: %w", kind.name, err)
		}
	}

	if _, err := time.ParseDuration(cfg.Breaks.Grace); err != nil {
		return fmt.Errorf("breaks.grace: %w", err)
	}
	if _, err := time.ParseDuration(cfg.Breaks.IdleRetention); err != nil {
		return fmt.Errorf("breaks.idle_retention: %w", err)
	}

	switch cfg.Storage.Type {
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		if err := storage.EnsureDir(filepath.Dir(cfg.Storage.Path)); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
	default:
		return fmt.Errorf("unsupported storage type: %s (use 'bolt' or 'redis')", cfg.Storage.Type)
	}

	if cfg.Metrics.Enabled && (cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", cfg.Metrics.Port)
	}

	return nil
}

// Package config loads the server settings from the environment.
package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StorageInMemory = "in-memory"
	StoragePostgres = "postgres"
)

type Config struct {
	HTTPAddr      string        `mapstructure:"HTTP_ADDR"`
	Storage       string        `mapstructure:"STORAGE"`
	DatabaseURL   string        `mapstructure:"DATABASE_URL"`
	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	CacheTTL      time.Duration `mapstructure:"CACHE_TTL"`
	JWTSecret     string        `mapstructure:"JWT_SECRET"`
	MediaDir      string        `mapstructure:"MEDIA_DIR"`
	PageSize      int           `mapstructure:"PAGE_SIZE"`
	LogLevel      string        `mapstructure:"LOG_LEVEL"`
	Seed          bool          `mapstructure:"SEED"`
	// AdminUsernames is a comma-separated list of authors allowed to manage groups.
	AdminUsernames string `mapstructure:"ADMIN_USERNAMES"`
}

var keys = map[string]any{
	"HTTP_ADDR":       ":8080",
	"STORAGE":         StorageInMemory,
	"DATABASE_URL":    "",
	"REDIS_ADDR":      "",
	"REDIS_PASSWORD":  "",
	"CACHE_TTL":       20 * time.Second,
	"JWT_SECRET":      "dev-secret-change-me",
	"MEDIA_DIR":       "media",
	"PAGE_SIZE":       10,
	"LOG_LEVEL":       "info",
	"SEED":            false,
	"ADMIN_USERNAMES": "",
}

// Load reads the configuration from the environment, falling back to defaults.
func Load() (Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	// Unmarshal only sees keys viper knows about; defaults register every one.
	for key, def := range keys {
		v.SetDefault(key, def)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))
	return cfg, nil
}

// Level maps LOG_LEVEL onto a slog level. Unknown names mean info.
func (c Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Admins returns the configured admin usernames.
func (c Config) Admins() []string {
	var admins []string
	for _, name := range strings.Split(c.AdminUsernames, ",") {
		if name = strings.TrimSpace(name); name != "" {
			admins = append(admins, name)
		}
	}
	return admins
}

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	AppEnv                string
	LogLevel              string
	LogFormat             string
	DatabaseURL           string
	SQLitePath            string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	OwnerID               string
	TerminalID            string
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	WritebackWorkers      int
	WritebackMaxAttempts  int
	WriteStatusTTLSeconds int
}

func Load() Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("OWNER_ID", "main-owner")
	v.SetDefault("TERMINAL_ID", "terminal-1")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("WRITEBACK_WORKERS", 1)
	v.SetDefault("WRITEBACK_MAX_ATTEMPTS", 5)
	v.SetDefault("WRITE_STATUS_TTL_SECONDS", 86400)

	cfg := Config{
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		AppEnv:                v.GetString("APP_ENV"),
		LogLevel:              v.GetString("LOG_LEVEL"),
		LogFormat:             strings.ToLower(strings.TrimSpace(v.GetString("LOG_FORMAT"))),
		DatabaseURL:           v.GetString("DATABASE_URL"),
		SQLitePath:            v.GetString("SQLITE_PATH"),
		RedisAddr:             v.GetString("REDIS_ADDR"),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		OwnerID:               strings.TrimSpace(v.GetString("OWNER_ID")),
		TerminalID:            strings.TrimSpace(v.GetString("TERMINAL_ID")),
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: v.GetInt("ACCESS_TOKEN_TTL_MINUTES"),
		ManagerPIN:            strings.TrimSpace(v.GetString("MANAGER_PIN")),
		WritebackWorkers:      v.GetInt("WRITEBACK_WORKERS"),
		WritebackMaxAttempts:  v.GetInt("WRITEBACK_MAX_ATTEMPTS"),
		WriteStatusTTLSeconds: v.GetInt("WRITE_STATUS_TTL_SECONDS"),
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults repairs values that parsed but make no sense.
func (c *Config) applyDefaults() {
	if c.AccessTokenTTLMinutes < 1 {
		c.AccessTokenTTLMinutes = 480
	}
	if c.WritebackWorkers < 1 {
		c.WritebackWorkers = 1
	}
	if c.WritebackMaxAttempts < 1 {
		c.WritebackMaxAttempts = 5
	}
	if c.WriteStatusTTLSeconds < 60 {
		c.WriteStatusTTLSeconds = 86400
	}
	if c.OwnerID == "" {
		c.OwnerID = "main-owner"
	}
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

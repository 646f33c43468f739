package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("OWNER_ID", "")
	t.Setenv("WRITEBACK_WORKERS", "")

	cfg := Load()
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, "main-owner", cfg.OwnerID)
	assert.Equal(t, 1, cfg.WritebackWorkers)
	assert.Equal(t, 5, cfg.WritebackMaxAttempts)
	assert.Equal(t, 480, cfg.AccessTokenTTLMinutes)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("OWNER_ID", " tire-shop-7 ")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("WRITEBACK_MAX_ATTEMPTS", "0")
	t.Setenv("SQLITE_PATH", "/var/lib/pos/terminal.db")
	t.Setenv("LOG_FORMAT", " JSON ")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, "tire-shop-7", cfg.OwnerID)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 5, cfg.WritebackMaxAttempts)
	assert.Equal(t, "/var/lib/pos/terminal.db", cfg.SQLitePath)
	assert.Equal(t, "json", cfg.LogFormat)
}

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mytireplan/tire-plan-sub001/internal/config"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfig(t *testing.T) {
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: "short", ManagerPIN: "739154"}))
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: strongSecret, ManagerPIN: "123456"}))
	assert.Error(t, validateSecurityConfig(config.Config{AuthSecret: strongSecret, ManagerPIN: "7391"}))
	assert.NoError(t, validateSecurityConfig(config.Config{AuthSecret: strongSecret, ManagerPIN: "739154"}))
}

func TestValidatePINStrength(t *testing.T) {
	for _, pin := range []string{"000000", "777777", "123456", "987654", "112233", "12a456"} {
		assert.Error(t, validatePINStrength(pin), pin)
	}
	for _, pin := range []string{"739154", "482913", "1357924"} {
		assert.NoError(t, validatePINStrength(pin), pin)
	}
}

func TestNewLoggerHonoursFormat(t *testing.T) {
	log, err := newLogger(config.Config{AppEnv: "production", LogLevel: "warn", LogFormat: "console", TerminalID: "t-1"})
	assert.NoError(t, err)
	assert.NotNil(t, log)

	log, err = newLogger(config.Config{AppEnv: "development"})
	assert.NoError(t, err)
	assert.NotNil(t, log)
}

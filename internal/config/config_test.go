package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8000", cfg.APIAddr)
	assert.Equal(t, "/usr/bin/chromium", cfg.ChromeBinary)
	assert.Equal(t, 99, cfg.DisplayBase)
	assert.Equal(t, 9222, cfg.DevToolsPortBase)
	assert.Equal(t, 5, cfg.MaxConcurrentSessions)
	assert.Equal(t, 60*time.Second, cfg.JobTimeout)
	assert.Equal(t, time.Duration(0), cfg.SessionTimeout)
	assert.Equal(t, 60*time.Second, cfg.AdmissionTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.Debug)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HFC_MAX_CONCURRENT_SESSIONS", "12")
	t.Setenv("HFC_JOB_TIMEOUT_SECONDS", "90")
	t.Setenv("HFC_DEBUG", "true")
	t.Setenv("HFC_API_ADDR", ":9000")

	cfg := Load()
	assert.Equal(t, 12, cfg.MaxConcurrentSessions)
	assert.Equal(t, 90*time.Second, cfg.JobTimeout)
	assert.True(t, cfg.Debug)
	assert.Equal(t, ":9000", cfg.APIAddr)
}

func TestLoadIgnoresGarbage(t *testing.T) {
	t.Setenv("HFC_MAX_CONCURRENT_SESSIONS", "not-a-number")
	t.Setenv("HFC_DEBUG", "maybe")

	cfg := Load()
	assert.Equal(t, 5, cfg.MaxConcurrentSessions)
	assert.False(t, cfg.Debug)
}

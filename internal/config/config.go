package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all settings consumed by the core. Every field can be
// overridden through an HFC_-prefixed environment variable.
type Config struct {
	APIAddr string

	ChromeBinary     string
	ChromeProfileDir string

	DisplayBase   int
	DisplayWidth  int
	DisplayHeight int
	DisplayDepth  int

	DevToolsPortBase      int
	MaxConcurrentSessions int

	DefaultDelay     time.Duration
	JobTimeout       time.Duration
	SessionTimeout   time.Duration
	AdmissionTimeout time.Duration
	LaunchTimeout    time.Duration

	RateLimitPerHour int
	RateLimitBurst   int

	LogLevel string
	Debug    bool
}

// Load reads the configuration from the environment, applying defaults for
// anything unset.
func Load() *Config {
	return &Config{
		APIAddr:          getString("HFC_API_ADDR", ":8000"),
		ChromeBinary:     getString("HFC_CHROME_BINARY", "/usr/bin/chromium"),
		ChromeProfileDir: getString("HFC_CHROME_PROFILE_DIR", "/tmp/chrome-profiles"),

		DisplayBase:   getInt("HFC_DISPLAY_BASE", 99),
		DisplayWidth:  getInt("HFC_DISPLAY_WIDTH", 1920),
		DisplayHeight: getInt("HFC_DISPLAY_HEIGHT", 1080),
		DisplayDepth:  getInt("HFC_DISPLAY_DEPTH", 24),

		DevToolsPortBase:      getInt("HFC_DEVTOOLS_PORT_BASE", 9222),
		MaxConcurrentSessions: getInt("HFC_MAX_CONCURRENT_SESSIONS", 5),

		DefaultDelay:     getSeconds("HFC_DEFAULT_DELAY_SECONDS", 0),
		JobTimeout:       getSeconds("HFC_JOB_TIMEOUT_SECONDS", 60),
		SessionTimeout:   getSeconds("HFC_SESSION_TIMEOUT_SECONDS", 0),
		AdmissionTimeout: getSeconds("HFC_ADMISSION_TIMEOUT_SECONDS", 60),
		LaunchTimeout:    getSeconds("HFC_LAUNCH_TIMEOUT_SECONDS", 15),

		RateLimitPerHour: getInt("HFC_RATE_LIMIT_PER_HOUR", 1000),
		RateLimitBurst:   getInt("HFC_RATE_LIMIT_BURST", 20),

		LogLevel: getString("HFC_LOG_LEVEL", "info"),
		Debug:    getBool("HFC_DEBUG", false),
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getSeconds(key string, fallback int) time.Duration {
	return time.Duration(getInt(key, fallback)) * time.Second
}

func getBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

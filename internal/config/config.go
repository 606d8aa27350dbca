// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	Provider    ProviderConfig
	// HistoryWindow is the number of recent turns sent to the provider.
	HistoryWindow int
	// HardCeiling forces session completion at this main-channel exchange
	// count.
	HardCeiling int
	// StaleSessionTTL is how long an active session may sit idle before
	// the sweeper completes it.
	StaleSessionTTL time.Duration
}

// ProviderConfig controls the generative-response provider client.
type ProviderConfig struct {
	BaseURL       string
	APIKey        string
	Model         string
	MaxAttempts   int
	MainTimeout   time.Duration
	HelperTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/taleweaver.db"),
		Provider: ProviderConfig{
			BaseURL:       getEnv("PROVIDER_BASE_URL", ""),
			APIKey:        getEnv("PROVIDER_API_KEY", ""),
			Model:         getEnv("PROVIDER_MODEL", "gpt-4o-mini"),
			MaxAttempts:   getEnvInt("PROVIDER_MAX_ATTEMPTS", 3),
			MainTimeout:   getEnvDuration("PROVIDER_MAIN_TIMEOUT", 45*time.Second),
			HelperTimeout: getEnvDuration("PROVIDER_HELPER_TIMEOUT", 20*time.Second),
		},
		HistoryWindow:   getEnvInt("HISTORY_WINDOW", 12),
		HardCeiling:     getEnvInt("HARD_CEILING", 30),
		StaleSessionTTL: getEnvDuration("STALE_SESSION_TTL", 24*time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("PROVIDER_MODEL cannot be empty")
	}
	if c.Provider.MaxAttempts <= 0 {
		return fmt.Errorf("PROVIDER_MAX_ATTEMPTS must be > 0")
	}
	if c.HistoryWindow <= 0 {
		return fmt.Errorf("HISTORY_WINDOW must be > 0")
	}
	if c.HardCeiling <= 0 {
		return fmt.Errorf("HARD_CEILING must be > 0")
	}
	if c.StaleSessionTTL <= 0 {
		return fmt.Errorf("STALE_SESSION_TTL must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	// Set some test environment variables
	if err := os.Setenv("SERVER_PORT", "9090"); err != nil {
		t.Fatalf("Failed to set SERVER_PORT: %v", err)
	}
	if err := os.Setenv("POSTGRES_HOST", "testhost"); err != nil {
		t.Fatalf("Failed to set POSTGRES_HOST: %v", err)
	}
	if err := os.Setenv("RETRY_INITIAL_DELAY", "2s"); err != nil {
		t.Fatalf("Failed to set RETRY_INITIAL_DELAY: %v", err)
	}
	if err := os.Setenv("SCRAPER_HEADLESS", "false"); err != nil {
		t.Fatalf("Failed to set SCRAPER_HEADLESS: %v", err)
	}
	defer func() {
		_ = os.Unsetenv("SERVER_PORT")
		_ = os.Unsetenv("POSTGRES_HOST")
		_ = os.Unsetenv("RETRY_INITIAL_DELAY")
		_ = os.Unsetenv("SCRAPER_HEADLESS")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}

	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}

	if cfg.Retry.InitialDelay != 2*time.Second {
		t.Errorf("Retry.InitialDelay = %v, want %v", cfg.Retry.InitialDelay, 2*time.Second)
	}

	if cfg.Scraper.DefaultHeadless {
		t.Error("Scraper.DefaultHeadless = true, want false")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("Retry.MaxAttempts = %v, want 3", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.MaxDelay != 30*time.Second {
		t.Errorf("Retry.MaxDelay = %v, want 30s", cfg.Retry.MaxDelay)
	}
	if cfg.Metrics.SlowPageThreshold != 30*time.Second {
		t.Errorf("Metrics.SlowPageThreshold = %v, want 30s", cfg.Metrics.SlowPageThreshold)
	}
	if cfg.Metrics.ErrorRateHigh != 0.2 {
		t.Errorf("Metrics.ErrorRateHigh = %v, want 0.2", cfg.Metrics.ErrorRateHigh)
	}
	if cfg.Scheduler.SweepInterval != time.Minute {
		t.Errorf("Scheduler.SweepInterval = %v, want 1m", cfg.Scheduler.SweepInterval)
	}
	if cfg.Scheduler.PurgeAfter != 30*24*time.Hour {
		t.Errorf("Scheduler.PurgeAfter = %v, want 720h", cfg.Scheduler.PurgeAfter)
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns environment variable when set",
			key:          "TEST_KEY",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when environment variable not set",
			key:          "NONEXISTENT_KEY",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsFloat(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue float64
		envValue     string
		want         float64
	}{
		{
			name:         "returns float when valid",
			key:          "TEST_FLOAT",
			defaultValue: 0.5,
			envValue:     "0.25",
			want:         0.25,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_FLOAT_INVALID",
			defaultValue: 0.5,
			envValue:     "invalid",
			want:         0.5,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_FLOAT_NOTSET",
			defaultValue: 0.5,
			envValue:     "",
			want:         0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsFloat(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsFloat() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue time.Duration
		envValue     string
		want         time.Duration
	}{
		{
			name:         "returns duration when valid",
			key:          "TEST_DURATION",
			defaultValue: 10 * time.Second,
			envValue:     "30s",
			want:         30 * time.Second,
		},
		{
			name:         "returns default when invalid",
			key:          "TEST_DURATION_INVALID",
			defaultValue: 10 * time.Second,
			envValue:     "invalid",
			want:         10 * time.Second,
		},
		{
			name:         "returns default when not set",
			key:          "TEST_DURATION_NOTSET",
			defaultValue: 10 * time.Second,
			envValue:     "",
			want:         10 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				if err := os.Setenv(tt.key, tt.envValue); err != nil {
					t.Fatalf("Failed to set env var: %v", err)
				}
				defer func() {
					_ = os.Unsetenv(tt.key)
				}()
			}

			got := getEnvAsDuration(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvAsDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

package config

import (
	"os"
	"testing"
	"time"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		os.Setenv(k, v)
		key := k
		t.Cleanup(func() { os.Unsetenv(key) })
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	os.Unsetenv("TTS_PROVIDER")
	os.Unsetenv("CARTESIA_API_KEY")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}
	if cfg.DangerThreshold != 3.0 {
		t.Errorf("Expected default DangerThreshold 3.0, got %v", cfg.DangerThreshold)
	}
	if cfg.NavigationIntervalDuration() != 5*time.Second {
		t.Errorf("Expected default interval 5s, got %v", cfg.NavigationIntervalDuration())
	}
	if cfg.StopTimeout() != 2*time.Second {
		t.Errorf("Expected default stop timeout 2s, got %v", cfg.StopTimeout())
	}
	if cfg.OSRMURL != "http://localhost:5000" || cfg.OSRMProfile != "foot" {
		t.Errorf("Unexpected OSRM defaults: %s %s", cfg.OSRMURL, cfg.OSRMProfile)
	}
	if cfg.TTSProvider != TTSProviderLog {
		t.Errorf("Expected default TTSProvider %q, got %q", TTSProviderLog, cfg.TTSProvider)
	}
	if cfg.TTSVolume != 1.0 {
		t.Errorf("Expected default TTSVolume 1.0, got %v", cfg.TTSVolume)
	}
	if cfg.MQTTTopic != "vista/detections" {
		t.Errorf("Expected default MQTTTopic 'vista/detections', got '%s'", cfg.MQTTTopic)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}
	if !cfg.MetricsEnabled {
		t.Error("Expected MetricsEnabled to default to true")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	setEnv(t, map[string]string{
		"DANGER_THRESHOLD":      "2.5",
		"NAVIGATION_INTERVAL":   "0.5",
		"ROUTING_TIMEOUT":       "3",
		"RETRY_INITIAL_BACKOFF": "250",
		"TTS_PROVIDER":          "cartesia",
		"CARTESIA_API_KEY":      "test-cartesia-key",
	})

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.DangerThreshold != 2.5 {
		t.Errorf("Expected DangerThreshold 2.5, got %v", cfg.DangerThreshold)
	}
	if cfg.NavigationIntervalDuration() != 500*time.Millisecond {
		t.Errorf("Expected interval 500ms, got %v", cfg.NavigationIntervalDuration())
	}
	if cfg.RoutingTimeoutDuration() != 3*time.Second {
		t.Errorf("Expected routing timeout 3s, got %v", cfg.RoutingTimeoutDuration())
	}
	if cfg.RetryBackoff() != 250*time.Millisecond {
		t.Errorf("Expected retry backoff 250ms, got %v", cfg.RetryBackoff())
	}
	if cfg.CartesiaAPIKey != "test-cartesia-key" {
		t.Errorf("Expected CartesiaAPIKey 'test-cartesia-key', got '%s'", cfg.CartesiaAPIKey)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			DangerThreshold:    3,
			NavigationInterval: 5,
			StopTimeoutMs:      2000,
			TTSProvider:        TTSProviderLog,
			TTSVolume:          1,
			TTSSampleRate:      24000,
			PlayerSampleRate:   48000,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero threshold", func(c *Config) { c.DangerThreshold = 0 }, true},
		{"negative interval", func(c *Config) { c.NavigationInterval = -1 }, true},
		{"zero stop timeout", func(c *Config) { c.StopTimeoutMs = 0 }, true},
		{"negative volume", func(c *Config) { c.TTSVolume = -0.5 }, true},
		{"cartesia without key", func(c *Config) { c.TTSProvider = TTSProviderCartesia }, true},
		{"cartesia with key", func(c *Config) {
			c.TTSProvider = TTSProviderCartesia
			c.CartesiaAPIKey = "key"
		}, false},
		{"cartesia zero rate", func(c *Config) {
			c.TTSProvider = TTSProviderCartesia
			c.CartesiaAPIKey = "key"
			c.PlayerSampleRate = 0
		}, true},
		{"unknown provider", func(c *Config) { c.TTSProvider = "espeak" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	setEnv(t, map[string]string{"DANGER_THRESHOLD": "-1"})

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error for negative DANGER_THRESHOLD")
	}
}

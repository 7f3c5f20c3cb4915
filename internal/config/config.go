package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Speech output providers.
const (
	TTSProviderLog      = "log"
	TTSProviderCartesia = "cartesia"
)

// Config holds all configuration for the navigation gateway
type Config struct {
	// Server configuration
	Port        string `envconfig:"PORT" default:"8080"`
	GRPCPort    string `envconfig:"GRPC_PORT" default:"50051"`
	GRPCEnabled bool   `envconfig:"GRPC_ENABLED" default:"true"`

	// Guidance
	DangerThreshold    float64 `envconfig:"DANGER_THRESHOLD" default:"3.0"`    // Meters
	NavigationInterval float64 `envconfig:"NAVIGATION_INTERVAL" default:"5.0"` // Seconds between route steps
	StopTimeoutMs      int     `envconfig:"STOP_TIMEOUT_MS" default:"2000"`    // Bounded wait for the scheduler on stop
	DistanceScale      float64 `envconfig:"DISTANCE_SCALE" default:"1000"`     // Box height to meters for raw boxes

	// OSRM routing
	OSRMURL        string `envconfig:"OSRM_URL" default:"http://localhost:5000"`
	OSRMProfile    string `envconfig:"OSRM_PROFILE" default:"foot"`
	RoutingTimeout int    `envconfig:"ROUTING_TIMEOUT" default:"10"` // seconds

	// Speech output
	TTSProvider      string  `envconfig:"TTS_PROVIDER" default:"log"` // log, cartesia
	CartesiaAPIKey   string  `envconfig:"CARTESIA_API_KEY" default:""`
	CartesiaVoiceID  string  `envconfig:"CARTESIA_VOICE_ID" default:"a0e99841-438c-4a64-b679-ae501e7d6091"`
	CartesiaModelID  string  `envconfig:"CARTESIA_MODEL_ID" default:"sonic-english"`
	TTSSampleRate    int     `envconfig:"TTS_SAMPLE_RATE" default:"24000"`
	PlayerSampleRate int     `envconfig:"PLAYER_SAMPLE_RATE" default:"48000"`
	TTSVolume        float64 `envconfig:"TTS_VOLUME" default:"1.0"`
	TTSCacheDir      string  `envconfig:"TTS_CACHE_DIR" default:""`       // Empty keeps synthesized phrases in memory only
	LogSpeechPaceMs  int     `envconfig:"LOG_SPEECH_PACE_MS" default:"0"` // Per-word delay of the log speaker

	// Saved locations
	LocationsFile string `envconfig:"LOCATIONS_FILE" default:"saved_locations.json"`

	// Detection feed over MQTT; empty broker disables it
	MQTTBroker   string `envconfig:"MQTT_BROKER" default:""`
	MQTTTopic    string `envconfig:"MQTT_TOPIC" default:"vista/detections"`
	MQTTClientID string `envconfig:"MQTT_CLIENT_ID" default:""`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Zero retries forever
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Expose Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	if c.DangerThreshold <= 0 {
		return fmt.Errorf("DANGER_THRESHOLD must be positive, got %v", c.DangerThreshold)
	}
	if c.NavigationInterval <= 0 {
		return fmt.Errorf("NAVIGATION_INTERVAL must be positive, got %v", c.NavigationInterval)
	}
	if c.StopTimeoutMs <= 0 {
		return fmt.Errorf("STOP_TIMEOUT_MS must be positive, got %d", c.StopTimeoutMs)
	}
	if c.TTSVolume < 0 {
		return fmt.Errorf("TTS_VOLUME must not be negative, got %v", c.TTSVolume)
	}

	switch c.TTSProvider {
	case TTSProviderLog:
	case TTSProviderCartesia:
		if c.CartesiaAPIKey == "" {
			return fmt.Errorf("CARTESIA_API_KEY is required when TTS_PROVIDER=%s", TTSProviderCartesia)
		}
		if c.TTSSampleRate <= 0 || c.PlayerSampleRate <= 0 {
			return fmt.Errorf("TTS_SAMPLE_RATE and PLAYER_SAMPLE_RATE must be positive")
		}
	default:
		return fmt.Errorf("unknown TTS_PROVIDER %q (want %s or %s)", c.TTSProvider, TTSProviderLog, TTSProviderCartesia)
	}
	return nil
}

// NavigationIntervalDuration returns the announcement interval.
func (c *Config) NavigationIntervalDuration() time.Duration {
	return time.Duration(c.NavigationInterval * float64(time.Second))
}

// StopTimeout returns the bounded wait used when stopping navigation.
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutMs) * time.Millisecond
}

// RoutingTimeoutDuration returns the per-request OSRM timeout.
func (c *Config) RoutingTimeoutDuration() time.Duration {
	return time.Duration(c.RoutingTimeout) * time.Second
}

// BreakerResetTimeout returns how long an open circuit waits before probing.
func (c *Config) BreakerResetTimeout() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// RetryBackoff returns the initial retry backoff.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryInitialBackoff) * time.Millisecond
}

// ReconnectBackoffDuration returns the initial reconnect backoff.
func (c *Config) ReconnectBackoffDuration() time.Duration {
	return time.Duration(c.ReconnectBackoff) * time.Millisecond
}

// LogSpeechPace returns the per-word delay of the log speaker.
func (c *Config) LogSpeechPace() time.Duration {
	return time.Duration(c.LogSpeechPaceMs) * time.Millisecond
}

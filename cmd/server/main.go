package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vista/nav-gateway/internal/api"
	"github.com/vista/nav-gateway/internal/arbiter"
	"github.com/vista/nav-gateway/internal/assist"
	"github.com/vista/nav-gateway/internal/config"
	"github.com/vista/nav-gateway/internal/detection"
	"github.com/vista/nav-gateway/internal/feed"
	"github.com/vista/nav-gateway/internal/locations"
	"github.com/vista/nav-gateway/internal/navigation"
	"github.com/vista/nav-gateway/internal/observability"
	"github.com/vista/nav-gateway/internal/obstacle"
	"github.com/vista/nav-gateway/internal/resilience"
	"github.com/vista/nav-gateway/internal/routing"
	"github.com/vista/nav-gateway/internal/tts"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("osrm_url", cfg.OSRMURL).
		Str("tts_provider", cfg.TTSProvider).
		Float64("danger_threshold", cfg.DangerThreshold).
		Dur("navigation_interval", cfg.NavigationIntervalDuration()).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Navigation gateway starting")

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	retry := &resilience.RetryConfig{
		MaxAttempts:       cfg.RetryMaxAttempts,
		InitialBackoff:    cfg.RetryBackoff(),
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}

	// Speech output
	speech, err := newSpeech(rootCtx, cfg, retry)
	if err != nil {
		logger.Fatal().Err(err).Str("provider", cfg.TTSProvider).Msg("Failed to initialize speech output")
	}
	defer speech.close()

	arb := arbiter.New(speech.speaker)

	router := routing.NewClient(routing.Config{
		BaseURL:             cfg.OSRMURL,
		Profile:             cfg.OSRMProfile,
		Timeout:             cfg.RoutingTimeoutDuration(),
		BreakerMaxFailures:  cfg.CircuitBreakerMaxFailures,
		BreakerResetTimeout: cfg.BreakerResetTimeout(),
		Retry:               retry,
	}, observability.ForComponent("routing"))

	grpcHealth := observability.NewGRPCHealth(observability.ForComponent("grpc"))

	assistant := assist.New(arb,
		obstacle.NewEngine(cfg.DangerThreshold),
		detection.NewSpatialAnalyzer(cfg.DistanceScale),
		router,
		assist.WithInterval(cfg.NavigationIntervalDuration()),
		assist.WithStopTimeout(cfg.StopTimeout()),
		assist.WithNavigationHook(grpcHealth.SetNavigationServing),
	)

	store, err := locations.Open(cfg.LocationsFile, observability.ForComponent("locations"))
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.LocationsFile).Msg("Failed to open saved locations")
	}

	// Detection feed
	pump := feed.NewPump(assistant, observability.ForComponent("feed"))
	go pump.Run(rootCtx)

	checks := map[string]observability.HealthCheckFunc{
		"routing": router.Health,
		"speech":  speech.health,
	}

	var mqttSource *feed.MQTTSource
	if cfg.MQTTBroker != "" {
		mqttSource = feed.NewMQTTSource(feed.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			Topic:    cfg.MQTTTopic,
			ClientID: cfg.MQTTClientID,
			Reconnect: &resilience.ReconnectConfig{
				MaxAttempts: cfg.ReconnectMaxAttempts,
				Backoff:     cfg.ReconnectBackoffDuration(),
				Multiplier:  2.0,
				MaxBackoff:  30 * time.Second,
			},
		}, pump, observability.ForComponent("mqtt"))
		checks["mqtt"] = mqttSource.Health

		go func() {
			if err := mqttSource.Start(rootCtx); err != nil && rootCtx.Err() == nil {
				logger.Error().Err(err).Str("broker", cfg.MQTTBroker).Msg("MQTT detection feed unavailable")
			}
		}()
	}

	// Create HTTP server
	mux := http.NewServeMux()

	// Detection stream from the perception pipeline
	mux.Handle("/streams/detections", feed.NewWebSocketSource(pump, observability.ForComponent("websocket")))

	// Control API
	api.NewHandler(assistant, store, observability.ForComponent("api")).Register(mux)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. WriteTimeout stays off: a frame POST
	// may block while an instruction is spoken.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/streams/detections", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	if cfg.GRPCEnabled {
		go func() {
			if err := grpcHealth.Serve(cfg.GRPCPort); err != nil {
				logger.Error().Err(err).Msg("gRPC health service stopped")
			}
		}()
	}

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	if mqttSource != nil {
		mqttSource.Stop()
	}

	// Announces "Navigation stopped." if a session is running.
	if err := assistant.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("Assistant did not close cleanly")
	}
	cancelRoot()
	grpcHealth.Shutdown()

	logger.Info().Msg("Server exited gracefully")
}

type speechOutput struct {
	speaker arbiter.Speaker
	health  observability.HealthCheckFunc
	close   func()
}

// newSpeech builds the speech output chosen by TTS_PROVIDER.
func newSpeech(ctx context.Context, cfg *config.Config, retry *resilience.RetryConfig) (*speechOutput, error) {
	logger := observability.ForComponent("speech")

	if cfg.TTSProvider != config.TTSProviderCartesia {
		return &speechOutput{
			speaker: tts.NewLogSpeaker(logger, cfg.LogSpeechPace()),
			close:   func() {},
		}, nil
	}

	client, err := tts.NewCartesiaClient(tts.CartesiaConfig{
		APIKey:     cfg.CartesiaAPIKey,
		VoiceID:    cfg.CartesiaVoiceID,
		ModelID:    cfg.CartesiaModelID,
		SampleRate: cfg.TTSSampleRate,
		Breaker:    newBreaker("cartesia", cfg, logger),
		Retry:      retry,
	}, logger)
	if err != nil {
		return nil, err
	}

	player, err := tts.NewOtoPlayer(cfg.PlayerSampleRate, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio device: %w", err)
	}

	cache := tts.NewCachingSynthesizer(client, cfg.CartesiaVoiceID, cfg.TTSCacheDir, logger)
	// Obstacle phrases are time-critical; have them ready before the first frame.
	go cache.Prefetch(ctx,
		obstacle.MoveRight,
		obstacle.MoveLeft,
		obstacle.Stop,
		navigation.ArrivedMessage,
		navigation.StoppedMessage,
	)

	return &speechOutput{
		speaker: tts.NewAudioSpeaker(cache, player, cfg.TTSVolume, logger),
		health:  client.Health,
		close: func() {
			if err := player.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close audio device")
			}
		},
	}, nil
}

func newBreaker(name string, cfg *config.Config, logger zerolog.Logger) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(name, cfg.CircuitBreakerMaxFailures, cfg.BreakerResetTimeout()).
		OnStateChange(func(name string, from, to resilience.CircuitState) {
			observability.UpdateCircuitBreakerState(name, int(to))
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		})
}

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Arbitration metrics
	announcementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vista_announcements_total",
		Help: "Announcements forwarded to speech output",
	}, []string{"channel"})

	suppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vista_announcements_suppressed_total",
		Help: "Announcements suppressed by arbitration",
	}, []string{"channel", "reason"}) // reason: "repeat", "priority", "empty"

	speechFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vista_speech_failures_total",
		Help: "Utterances that failed in the speech output device",
	}, []string{"channel"})

	speechDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vista_speech_duration_seconds",
		Help:    "Time the speech lock was held for one utterance",
		Buckets: []float64{0.25, 0.5, 1, 2, 3, 5, 8},
	}, []string{"channel"})

	obstacleActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vista_obstacle_active",
		Help: "1 while the obstacle gate is closed to navigation",
	})

	// Frame metrics
	framesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vista_frames_processed_total",
		Help: "Frames run through the obstacle decision engine",
	}, []string{"outcome"}) // outcome: "obstacle_<arbiter outcome>", "cleared", "clear", "invalid", "fault"

	feedFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vista_feed_frames_total",
		Help: "Detection frames received from ingress sources",
	}, []string{"source", "outcome"}) // outcome: "received", "replaced", "invalid", "processed"

	// Navigation metrics
	navigationTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vista_navigation_ticks_total",
		Help: "Navigation scheduler ticks by outcome",
	}, []string{"outcome"})

	navigationSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vista_navigation_sessions_active",
		Help: "Number of active navigation sessions",
	})

	navigationStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vista_navigation_starts_total",
		Help: "Navigation start attempts",
	}, []string{"status"})

	// Routing metrics
	routingRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vista_routing_requests_total",
		Help: "Requests made to the routing service",
	}, []string{"status"})

	routingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vista_routing_latency_seconds",
		Help:    "Routing request latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vista_tts_requests_total",
		Help: "Total number of TTS synthesis requests",
	}, []string{"status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vista_tts_latency_seconds",
		Help:    "TTS synthesis latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vista_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "vista_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vista_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// RecordAnnouncement records an utterance handed to the speech device
func RecordAnnouncement(channel string) {
	announcementsTotal.WithLabelValues(channel).Inc()
}

// RecordSuppressed records an announcement dropped by arbitration
func RecordSuppressed(channel, reason string) {
	suppressedTotal.WithLabelValues(channel, reason).Inc()
}

// RecordSpeechFailure records a failed utterance
func RecordSpeechFailure(channel string) {
	speechFailures.WithLabelValues(channel).Inc()
}

// ObserveSpeechDuration records how long one utterance held the speech lock
func ObserveSpeechDuration(channel string, d time.Duration) {
	speechDuration.WithLabelValues(channel).Observe(d.Seconds())
}

// SetObstacleActive mirrors the obstacle gate
func SetObstacleActive(active bool) {
	if active {
		obstacleActive.Set(1)
		return
	}
	obstacleActive.Set(0)
}

// RecordFrame records the outcome of one processed frame
func RecordFrame(outcome string) {
	framesProcessed.WithLabelValues(outcome).Inc()
}

// RecordFeedFrame records a frame arriving from an ingress source
func RecordFeedFrame(source, outcome string) {
	feedFrames.WithLabelValues(source, outcome).Inc()
}

// RecordNavigationTick records the outcome of one scheduler tick
func RecordNavigationTick(outcome string) {
	navigationTicks.WithLabelValues(outcome).Inc()
}

// RecordNavigationStart records a navigation start attempt
func RecordNavigationStart(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	navigationStarts.WithLabelValues(status).Inc()
}

// SetNavigationSessionActive updates the active session gauge
func SetNavigationSessionActive(active bool) {
	if active {
		navigationSessions.Set(1)
		return
	}
	navigationSessions.Set(0)
}

// RecordRoutingRequest records one routing call and its latency
func RecordRoutingRequest(success bool, latency time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	routingRequests.WithLabelValues(status).Inc()
	routingLatency.Observe(latency.Seconds())
}

// RecordTTSRequest records one synthesis call and its latency
func RecordTTSRequest(success bool, latency time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	ttsRequests.WithLabelValues(status).Inc()
	ttsLatency.Observe(latency.Seconds())
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vista/nav-gateway/internal/observability"
	"github.com/vista/nav-gateway/internal/resilience"
)

const (
	DefaultBaseURL = "http://localhost:5000"
	DefaultProfile = "foot"
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 4 << 20
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Profile string
	Timeout time.Duration

	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
	Retry               *resilience.RetryConfig
}

// Client is an OSRM route service client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	profile    string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      *resilience.RetryConfig
	logger     zerolog.Logger
}

// NewClient creates an OSRM client. Zero fields in cfg take defaults.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Profile == "" {
		cfg.Profile = DefaultProfile
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.BreakerMaxFailures <= 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerResetTimeout <= 0 {
		cfg.BreakerResetTimeout = 30 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = resilience.DefaultRetryConfig()
	}

	breaker := resilience.NewCircuitBreaker("osrm", cfg.BreakerMaxFailures, cfg.BreakerResetTimeout)
	breaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
		logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		profile:    cfg.Profile,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
		retry:      cfg.Retry,
		logger:     logger,
	}
}

type routeResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
		Legs     []struct {
			Steps []Step `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

// Route returns the spoken steps of the first route from origin to
// destination. It returns ErrNoRoute when the router has no route or the
// route has no steps.
func (c *Client) Route(ctx context.Context, origin, destination Coordinate) ([]string, error) {
	if !origin.Valid() || !destination.Valid() {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidCoordinate, origin, destination)
	}

	var steps []string
	start := time.Now()
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		// A NoRoute answer is a healthy router and must not trip the breaker.
		var noRoute error
		err := c.breaker.Call(func() error {
			s, err := c.fetch(ctx, origin, destination)
			if errors.Is(err, ErrNoRoute) {
				noRoute = err
				return nil
			}
			steps = s
			return err
		})
		if err != nil {
			observability.IncrementCircuitBreakerFailures(c.breaker.Name())
			return err
		}
		return noRoute
	}, c.retry, IsRetryable)

	observability.RecordRoutingRequest(err == nil, time.Since(start))
	if err != nil {
		observability.RecordError("routing", "osrm")
		return nil, err
	}

	c.logger.Info().
		Str("origin", origin.String()).
		Str("destination", destination.String()).
		Int("steps", len(steps)).
		Dur("latency", time.Since(start)).
		Msg("Route fetched")
	return steps, nil
}

func (c *Client) fetch(ctx context.Context, origin, destination Coordinate) ([]string, error) {
	url := fmt.Sprintf("%s/route/v1/%s/%f,%f;%f,%f?steps=true",
		c.baseURL, c.profile, origin.Lon, origin.Lat, destination.Lon, destination.Lat)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var parsed routeResponse
	decodeErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode != http.StatusOK {
		// OSRM reports "no route" as a 400 with code NoRoute.
		if decodeErr == nil && parsed.Code == "NoRoute" {
			return nil, ErrNoRoute
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Code: parsed.Code, Message: parsed.Message}
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode response: %w", decodeErr)
	}
	if parsed.Code != "" && parsed.Code != "Ok" {
		return nil, fmt.Errorf("%w: %s", ErrNoRoute, parsed.Code)
	}
	if len(parsed.Routes) == 0 {
		return nil, ErrNoRoute
	}

	var steps []string
	for _, leg := range parsed.Routes[0].Legs {
		for _, step := range leg.Steps {
			if text := step.Text(); text != "" {
				steps = append(steps, text)
			}
		}
	}
	if len(steps) == 0 {
		return nil, ErrNoRoute
	}
	return steps, nil
}

// Health reports an error while the router's circuit breaker is open.
func (c *Client) Health(ctx context.Context) error {
	if state := c.breaker.GetState(); state == resilience.StateOpen {
		return fmt.Errorf("osrm circuit breaker is %s", state)
	}
	return nil
}

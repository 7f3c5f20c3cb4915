package tts

import (
	"bytes"
	"context"
	"encoding/json"
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
	DefaultCartesiaURL     = "https://api.cartesia.ai/tts/bytes"
	DefaultCartesiaModel   = "sonic-english"
	DefaultCartesiaVersion = "2024-06-10"
	DefaultSampleRate      = 24000

	providerCartesia = "cartesia"
	maxAudioBytes    = 16 << 20
)

// CartesiaConfig configures a CartesiaClient.
type CartesiaConfig struct {
	APIKey     string
	VoiceID    string
	ModelID    string
	APIURL     string
	SampleRate int
	Timeout    time.Duration

	Breaker *resilience.CircuitBreaker
	Retry   *resilience.RetryConfig
}

// CartesiaClient synthesizes raw PCM with Cartesia's bytes endpoint.
type CartesiaClient struct {
	apiKey     string
	apiURL     string
	voiceID    string
	modelID    string
	sampleRate int
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      *resilience.RetryConfig
	logger     zerolog.Logger
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// CartesiaRequest represents the request payload for Cartesia TTS API
type CartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        cartesiaVoice        `json:"voice"`
	OutputFormat cartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

// NewCartesiaClient validates cfg and creates a client.
func NewCartesiaClient(cfg CartesiaConfig, logger zerolog.Logger) (*CartesiaClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.VoiceID == "" {
		return nil, ErrNoVoiceID
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultCartesiaModel
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultCartesiaURL
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Breaker == nil {
		cfg.Breaker = resilience.NewCircuitBreaker(providerCartesia, 5, 30*time.Second).
			OnStateChange(func(name string, from, to resilience.CircuitState) {
				observability.UpdateCircuitBreakerState(name, int(to))
				logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
			})
	}
	if cfg.Retry == nil {
		cfg.Retry = resilience.DefaultRetryConfig()
	}

	return &CartesiaClient{
		apiKey:     cfg.APIKey,
		apiURL:     cfg.APIURL,
		voiceID:    cfg.VoiceID,
		modelID:    cfg.ModelID,
		sampleRate: cfg.SampleRate,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    cfg.Breaker,
		retry:      cfg.Retry,
		logger:     logger,
	}, nil
}

// Synthesize converts text to PCM at the client's sample rate.
func (c *CartesiaClient) Synthesize(ctx context.Context, text string) (*Audio, error) {
	var pcm []byte
	start := time.Now()
	err := resilience.Retry(ctx, func(ctx context.Context) error {
		return c.breaker.Call(func() error {
			var err error
			pcm, err = c.request(ctx, text)
			return err
		})
	}, c.retry, IsRetryable)

	observability.RecordTTSRequest(err == nil, time.Since(start))
	if err != nil {
		observability.RecordError("tts_request", providerCartesia)
		return nil, err
	}

	c.logger.Debug().
		Int("bytes", len(pcm)).
		Dur("latency", time.Since(start)).
		Str("text", text).
		Msg("Synthesized speech")
	return &Audio{PCM: pcm, SampleRate: c.sampleRate}, nil
}

func (c *CartesiaClient) request(ctx context.Context, text string) ([]byte, error) {
	reqBody := CartesiaRequest{
		ModelID:    c.modelID,
		Transcript: text,
		Voice:      cartesiaVoice{Mode: "id", ID: c.voiceID},
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: c.sampleRate,
		},
		Language: "en",
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Cartesia-Version", DefaultCartesiaVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
			Provider:   providerCartesia,
		}
	}
	if len(body) == 0 {
		return nil, ErrEmptyAudio
	}
	// Drop a dangling byte rather than fail the utterance.
	if len(body)%2 != 0 {
		body = body[:len(body)-1]
	}
	return body, nil
}

// Health reports an error while the synthesizer's circuit breaker is open.
func (c *CartesiaClient) Health(ctx context.Context) error {
	if state := c.breaker.GetState(); state == resilience.StateOpen {
		return fmt.Errorf("cartesia circuit breaker is %s", state)
	}
	return nil
}

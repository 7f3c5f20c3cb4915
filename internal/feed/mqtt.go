package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/vista/nav-gateway/internal/detection"
	"github.com/vista/nav-gateway/internal/observability"
	"github.com/vista/nav-gateway/internal/resilience"
)

const (
	SourceMQTT = "mqtt"

	DefaultMQTTTopic = "vista/detections"
)

// MQTTConfig configures an MQTTSource.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte

	ConnectTimeout time.Duration
	Reconnect      *resilience.ReconnectConfig
}

// MQTTSource subscribes to a detection topic on a broker.
type MQTTSource struct {
	cfg    MQTTConfig
	pump   *Pump
	logger zerolog.Logger

	mu        sync.RWMutex
	client    mqtt.Client
	connected bool
	received  uint64
	invalid   uint64
}

// NewMQTTSource creates a source. Call Start to connect.
func NewMQTTSource(cfg MQTTConfig, pump *Pump, logger zerolog.Logger) *MQTTSource {
	if cfg.Topic == "" {
		cfg.Topic = DefaultMQTTTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "vista-nav-" + observability.NewSessionID()[:8]
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	return &MQTTSource{cfg: cfg, pump: pump, logger: logger}
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Start connects and subscribes, retrying with backoff until it succeeds,
// the attempts run out, or ctx is done. After the first connection the
// client reconnects and resubscribes on its own.
func (s *MQTTSource) Start(ctx context.Context) error {
	if s.cfg.Broker == "" {
		return errors.New("mqtt broker not configured")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(s.cfg.Broker))
	opts.SetClientID(s.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)

	opts.OnConnect = func(c mqtt.Client) {
		s.setConnected(true)
		s.logger.Info().Str("broker", s.cfg.Broker).Str("client_id", s.cfg.ClientID).Msg("MQTT connection established")
		// A clean session loses subscriptions on reconnect.
		go s.subscribe(c)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		s.setConnected(false)
		observability.RecordError("connection_lost", "mqtt")
		s.logger.Warn().Err(err).Str("broker", s.cfg.Broker).Msg("MQTT connection lost, will auto-reconnect")
	}

	client := mqtt.NewClient(opts)
	s.mu.Lock()
	s.client = client
	s.mu.Unlock()

	return resilience.Reconnect(ctx, s.logger, func(ctx context.Context) error {
		token := client.Connect()
		if !token.WaitTimeout(s.cfg.ConnectTimeout) {
			return fmt.Errorf("mqtt connection timeout")
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connection failed: %w", err)
		}
		return nil
	}, s.cfg.Reconnect)
}

func (s *MQTTSource) subscribe(c mqtt.Client) {
	token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		s.HandleMessage(msg.Topic(), msg.Payload())
	})
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		s.logger.Error().Str("topic", s.cfg.Topic).Msg("MQTT subscribe timeout")
		return
	}
	if err := token.Error(); err != nil {
		s.logger.Error().Err(err).Str("topic", s.cfg.Topic).Msg("MQTT subscribe failed")
		return
	}
	s.logger.Info().Str("topic", s.cfg.Topic).Msg("Subscribed to detections")
}

// HandleMessage decodes one payload and offers it to the pump.
func (s *MQTTSource) HandleMessage(topic string, payload []byte) {
	f, err := detection.DecodeFrame(payload)
	if err != nil {
		s.mu.Lock()
		s.invalid++
		s.mu.Unlock()
		observability.RecordFeedFrame(SourceMQTT, "invalid")
		s.logger.Warn().Err(err).Str("topic", topic).Msg("Failed to parse detection frame")
		return
	}

	s.mu.Lock()
	s.received++
	s.mu.Unlock()
	s.pump.Offer(SourceMQTT, f)
}

func (s *MQTTSource) setConnected(v bool) {
	s.mu.Lock()
	s.connected = v
	s.mu.Unlock()
}

// Connected reports whether the broker connection is up.
func (s *MQTTSource) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// Health reports an error while disconnected.
func (s *MQTTSource) Health(ctx context.Context) error {
	if !s.Connected() {
		return errors.New("mqtt not connected")
	}
	return nil
}

// Stats returns the number of accepted and rejected messages.
func (s *MQTTSource) Stats() (received, invalid uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.received, s.invalid
}

// Stop disconnects from the broker.
func (s *MQTTSource) Stop() {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()

	if client != nil && client.IsConnected() {
		client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
		client.Disconnect(250)
		s.logger.Info().Msg("MQTT disconnected")
	}
	s.setConnected(false)
}

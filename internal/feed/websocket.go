package feed

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vista/nav-gateway/internal/detection"
	"github.com/vista/nav-gateway/internal/observability"
)

const (
	SourceWebSocket = "websocket"

	wsReadLimit  = 1 << 20
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 25 * time.Second
	wsWriteWait  = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	// Perception clients run on the same device or LAN and send no Origin.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
}

// WebSocketSource accepts detection streams: one JSON frame per text
// message.
type WebSocketSource struct {
	pump   *Pump
	logger zerolog.Logger
}

// NewWebSocketSource creates a source feeding pump.
func NewWebSocketSource(pump *Pump, logger zerolog.Logger) *WebSocketSource {
	return &WebSocketSource{pump: pump, logger: logger}
}

// ServeHTTP upgrades the request and reads frames until the peer leaves.
func (s *WebSocketSource) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn().Err(err).Msg("Failed to upgrade detection stream")
		return
	}
	defer conn.Close()

	connID := observability.NewSessionID()
	logger := s.logger.With().Str("conn_id", connID).Str("remote", r.RemoteAddr).Logger()
	logger.Info().Msg("Detection stream connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go keepAlive(ctx, conn, logger)

	n := s.readLoop(conn, logger)
	logger.Info().Int("frames", n).Msg("Detection stream closed")
}

func (s *WebSocketSource) readLoop(conn *websocket.Conn, logger zerolog.Logger) int {
	conn.SetReadLimit(wsReadLimit)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	frames := 0
	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("Detection stream read error")
			}
			return frames
		}
		conn.SetReadDeadline(time.Now().Add(wsPongWait))

		if msgType != websocket.TextMessage {
			observability.RecordFeedFrame(SourceWebSocket, "invalid")
			continue
		}

		f, err := detection.DecodeFrame(message)
		if err != nil {
			observability.RecordFeedFrame(SourceWebSocket, "invalid")
			logger.Warn().Err(err).Int("bytes", len(message)).Msg("Failed to parse detection frame")
			continue
		}

		frames++
		s.pump.Offer(SourceWebSocket, f)
	}
}

// keepAlive pings the peer so dead connections hit the read deadline. It is
// the only writer on conn.
func keepAlive(ctx context.Context, conn *websocket.Conn, logger zerolog.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				logger.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

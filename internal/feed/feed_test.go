package feed

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/vista/nav-gateway/internal/detection"
)

type recordingHandler struct {
	mu      sync.Mutex
	seqs    []uint64
	gate    chan struct{}
	started chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{started: make(chan struct{}, 16)}
}

func (h *recordingHandler) ProcessFrame(ctx context.Context, f detection.Frame) []detection.Detection {
	h.started <- struct{}{}
	if h.gate != nil {
		<-h.gate
	}
	h.mu.Lock()
	h.seqs = append(h.seqs, f.Sequence)
	h.mu.Unlock()
	return f.Detections
}

func (h *recordingHandler) Seqs() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint64(nil), h.seqs...)
}

func waitForSeqs(t *testing.T, h *recordingHandler, n int) []uint64 {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if seqs := h.Seqs(); len(seqs) >= n {
			return seqs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d frames, got %v", n, h.Seqs())
	return nil
}

func TestPump_LatestWins(t *testing.T) {
	h := newRecordingHandler()
	h.gate = make(chan struct{})
	p := NewPump(h, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	p.Offer("test", detection.Frame{Sequence: 1})
	<-h.started

	// The handler is busy with frame 1; only the newest of these survives.
	p.Offer("test", detection.Frame{Sequence: 2})
	p.Offer("test", detection.Frame{Sequence: 3})
	p.Offer("test", detection.Frame{Sequence: 4})
	close(h.gate)

	waitForSeqs(t, h, 2)
	time.Sleep(20 * time.Millisecond)
	seqs := h.Seqs()
	if len(seqs) != 2 || seqs[0] != 1 || seqs[1] != 4 {
		t.Errorf("Expected frames [1 4], got %v", seqs)
	}
}

func TestPump_OfferNeverBlocks(t *testing.T) {
	p := NewPump(newRecordingHandler(), zerolog.Nop())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			p.Offer("test", detection.Frame{Sequence: uint64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected Offer to return without a consumer")
	}

	item := <-p.slot
	if item.frame.Sequence != 99 {
		t.Errorf("Expected pending frame 99, got %d", item.frame.Sequence)
	}
}

func TestPump_StopsOnCancel(t *testing.T) {
	p := NewPump(newRecordingHandler(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected Run to return after cancel")
	}
}

func TestWebSocketSource(t *testing.T) {
	h := newRecordingHandler()
	p := NewPump(h, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	server := httptest.NewServer(NewWebSocketSource(p, zerolog.Nop()))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	messages := []string{
		`{"seq": 1, "detections": [{"id": 1, "label": "chair", "position": "center", "distance": 1.5}]}`,
		`not json`,
		`{"seq": 2}`,
	}
	for _, m := range messages {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			t.Fatalf("WriteMessage failed: %v", err)
		}
		// Pace the writes so the pump does not coalesce them.
		time.Sleep(20 * time.Millisecond)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01}); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	seqs := waitForSeqs(t, h, 2)
	if seqs[0] != 1 || seqs[1] != 2 {
		t.Errorf("Expected frames [1 2], got %v", seqs)
	}
}

func TestWebSocketSource_RejectsPlainHTTP(t *testing.T) {
	server := httptest.NewServer(NewWebSocketSource(NewPump(newRecordingHandler(), zerolog.Nop()), zerolog.Nop()))
	defer server.Close()

	resp, err := server.Client().Get(server.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 400 {
		t.Errorf("Expected 400 for non-upgrade request, got %d", resp.StatusCode)
	}
}

func TestMQTTSource_HandleMessage(t *testing.T) {
	h := newRecordingHandler()
	p := NewPump(h, zerolog.Nop())
	s := NewMQTTSource(MQTTConfig{Broker: "localhost:1883"}, p, zerolog.Nop())

	s.HandleMessage(DefaultMQTTTopic, []byte(`{"seq": 7, "objects": [{"id": 3, "label": "person", "box": [0, 0, 10, 10]}]}`))
	s.HandleMessage(DefaultMQTTTopic, []byte(`{"seq":`))

	received, invalid := s.Stats()
	if received != 1 || invalid != 1 {
		t.Errorf("Expected 1 received and 1 invalid, got %d and %d", received, invalid)
	}

	item := <-p.slot
	if item.source != SourceMQTT || item.frame.Sequence != 7 || len(item.frame.Objects) != 1 {
		t.Errorf("Unexpected queued frame: %+v", item)
	}
}

func TestMQTTSource_Defaults(t *testing.T) {
	s := NewMQTTSource(MQTTConfig{}, nil, zerolog.Nop())
	if s.cfg.Topic != DefaultMQTTTopic {
		t.Errorf("Expected topic %q, got %q", DefaultMQTTTopic, s.cfg.Topic)
	}
	if !strings.HasPrefix(s.cfg.ClientID, "vista-nav-") {
		t.Errorf("Expected generated client id, got %q", s.cfg.ClientID)
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("Expected error without a broker")
	}
	if err := s.Health(context.Background()); err == nil {
		t.Error("Expected unhealthy before connecting")
	}
}

func TestBrokerURL(t *testing.T) {
	tests := map[string]string{
		"localhost:1883":      "tcp://localhost:1883",
		"tcp://broker:1883":   "tcp://broker:1883",
		"ws://broker:9001/ws": "ws://broker:9001/ws",
	}
	for in, want := range tests {
		if got := brokerURL(in); got != want {
			t.Errorf("brokerURL(%q): expected %q, got %q", in, want, got)
		}
	}
}

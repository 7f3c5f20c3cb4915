package assist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vista/nav-gateway/internal/arbiter"
	"github.com/vista/nav-gateway/internal/detection"
	"github.com/vista/nav-gateway/internal/navigation"
	"github.com/vista/nav-gateway/internal/obstacle"
	"github.com/vista/nav-gateway/internal/routing"
)

var (
	home  = routing.Coordinate{Lat: 34.0522, Lon: -118.2437}
	store = routing.Coordinate{Lat: 34.0530, Lon: -118.2450}
)

type recordingSpeaker struct {
	mu     sync.Mutex
	spoken []string
}

func (s *recordingSpeaker) Speak(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spoken = append(s.spoken, text)
	return nil
}

func (s *recordingSpeaker) Spoken() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...)
}

func (s *recordingSpeaker) waitFor(t *testing.T, text string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, got := range s.Spoken() {
			if got == text {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %q, spoken: %v", text, s.Spoken())
}

type stubRouter struct {
	steps []string
	err   error
}

func (r *stubRouter) Route(ctx context.Context, o, d routing.Coordinate) ([]string, error) {
	return r.steps, r.err
}

type failingDetector struct {
	err   error
	panic bool
}

func (d *failingDetector) Detect(ctx context.Context, f detection.Frame) ([]detection.Detection, error) {
	if d.panic {
		panic("detector crashed")
	}
	return nil, d.err
}

func newTestAssistant(router navigation.Router, detector Detector, opts ...Option) (*Assistant, *recordingSpeaker) {
	speaker := &recordingSpeaker{}
	arb := arbiter.New(speaker, arbiter.WithLogger(zerolog.Nop()))
	opts = append([]Option{
		WithLogger(zerolog.Nop()),
		WithInterval(20 * time.Millisecond),
		WithStopTimeout(time.Second),
	}, opts...)
	return New(arb, obstacle.NewEngine(3.0), detector, router, opts...), speaker
}

func TestStartNavigation_NoRoute(t *testing.T) {
	a, speaker := newTestAssistant(&stubRouter{err: routing.ErrNoRoute}, nil)

	err := a.StartNavigation(context.Background(), home, store)
	if !errors.Is(err, navigation.ErrRouteUnavailable) {
		t.Fatalf("Expected ErrRouteUnavailable, got %v", err)
	}

	status := a.Status()
	if status.Navigating || status.State.NavigationActive {
		t.Errorf("Expected no session and navigation inactive, got %+v", status)
	}
	if spoken := speaker.Spoken(); len(spoken) != 0 {
		t.Errorf("Expected silence on failed start, got %v", spoken)
	}

	// A failed start does not block the next one.
	a.router = &stubRouter{steps: []string{"Head north."}}
	if err := a.StartNavigation(context.Background(), home, store); err != nil {
		t.Fatalf("Expected retry to start, got %v", err)
	}
	a.Close(context.Background())
}

func TestNavigationSession(t *testing.T) {
	var hookMu sync.Mutex
	var hook []bool
	a, speaker := newTestAssistant(
		&stubRouter{steps: []string{"Head north on Main Street.", "Turn right onto Oak Avenue."}},
		nil,
		WithNavigationHook(func(active bool) {
			hookMu.Lock()
			hook = append(hook, active)
			hookMu.Unlock()
		}),
	)
	ctx := context.Background()

	if err := a.StartNavigation(ctx, home, store); err != nil {
		t.Fatalf("StartNavigation failed: %v", err)
	}
	if err := a.StartNavigation(ctx, home, store); !errors.Is(err, ErrNavigationActive) {
		t.Errorf("Expected ErrNavigationActive, got %v", err)
	}

	expectedStart := fmt.Sprintf(StartedFormat, routing.Distance(home, store))
	if spoken := speaker.Spoken(); len(spoken) == 0 || spoken[0] != expectedStart {
		t.Fatalf("Expected %q first, got %v", expectedStart, spoken)
	}

	status := a.Status()
	if !status.Navigating || status.SessionID == "" || status.StepCount != 2 {
		t.Errorf("Unexpected status: %+v", status)
	}

	speaker.waitFor(t, navigation.ArrivedMessage)

	if err := a.StopNavigation(ctx); err != nil {
		t.Fatalf("StopNavigation failed: %v", err)
	}
	if err := a.StopNavigation(ctx); !errors.Is(err, ErrNavigationInactive) {
		t.Errorf("Expected ErrNavigationInactive, got %v", err)
	}

	spoken := speaker.Spoken()
	expected := []string{expectedStart, "Head north on Main Street.", "Turn right onto Oak Avenue.", navigation.ArrivedMessage, navigation.StoppedMessage}
	if strings.Join(spoken, "|") != strings.Join(expected, "|") {
		t.Errorf("Expected %v, got %v", expected, spoken)
	}

	hookMu.Lock()
	defer hookMu.Unlock()
	if len(hook) != 2 || !hook[0] || hook[1] {
		t.Errorf("Expected hook [true false], got %v", hook)
	}
}

func TestProcessFrame_ObstacleBlocksNavigation(t *testing.T) {
	a, speaker := newTestAssistant(&stubRouter{steps: []string{"Head north."}}, detection.NewSpatialAnalyzer(0))
	ctx := context.Background()

	// A 400px tall box in the middle third is 2.5m away.
	blocked := detection.Frame{Sequence: 1, Width: 600, Height: 480, Objects: []detection.Object{
		{ID: 1, Label: "chair", Box: detection.Box{250, 0, 350, 400}},
	}}
	dets := a.ProcessFrame(ctx, blocked)
	if len(dets) != 1 || dets[0].Position != detection.PositionCenter {
		t.Fatalf("Expected one center detection, got %+v", dets)
	}

	if err := a.StartNavigation(ctx, home, store); err != nil {
		t.Fatalf("StartNavigation failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	for _, text := range speaker.Spoken() {
		if strings.HasPrefix(text, "Navigation started") || text == "Head north." {
			t.Errorf("Expected navigation to stay silent behind the obstacle, got %q", text)
		}
	}

	a.ProcessFrame(ctx, detection.Frame{Sequence: 2, Width: 600, Height: 480})
	speaker.waitFor(t, "Head north.")

	if got := a.Status().FramesProcessed; got != 2 {
		t.Errorf("Expected 2 frames processed, got %d", got)
	}
	a.Close(ctx)
}

func TestProcessFrame_DetectorFailures(t *testing.T) {
	ctx := context.Background()
	frame := detection.Frame{Detections: []detection.Detection{{Position: detection.PositionCenter, Distance: 1}}}

	// The frame's own detections are still guided when analysis fails.
	a, speaker := newTestAssistant(&stubRouter{}, &failingDetector{err: errors.New("tracker offline")})
	if dets := a.ProcessFrame(ctx, frame); len(dets) != 1 {
		t.Errorf("Expected the pre-analyzed detection, got %v", dets)
	}
	if spoken := speaker.Spoken(); len(spoken) != 1 || spoken[0] != obstacle.MoveRight {
		t.Errorf("Expected %q, got %v", obstacle.MoveRight, spoken)
	}

	b, panicked := newTestAssistant(&stubRouter{}, &failingDetector{panic: true})
	if dets := b.ProcessFrame(ctx, frame); dets != nil {
		t.Errorf("Expected nil detections on detector panic, got %v", dets)
	}
	if spoken := panicked.Spoken(); len(spoken) != 0 {
		t.Errorf("Expected no announcement after a panic, got %v", spoken)
	}
}

func TestProcessFrame_MalformedEntriesKeepFrame(t *testing.T) {
	a, speaker := newTestAssistant(&stubRouter{}, detection.NewSpatialAnalyzer(0))
	ctx := context.Background()

	// No width for the raw box and a bad distance on one entry.
	frame, err := detection.DecodeFrame([]byte(`{
		"seq": 3,
		"detections": [
			{"id": 1, "label": "chair", "position": "center", "distance": 1.0},
			{"id": 2, "label": "dog", "position": "left", "distance": "far"}
		],
		"objects": [{"id": 3, "label": "box", "box": [0, 0, 10, 10]}]
	}`))
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}

	if dets := a.ProcessFrame(ctx, frame); len(dets) != 3 {
		t.Errorf("Expected 3 detections, got %v", dets)
	}
	if spoken := speaker.Spoken(); len(spoken) != 1 || spoken[0] != obstacle.MoveRight {
		t.Fatalf("Expected %q, got %v", obstacle.MoveRight, spoken)
	}

	// A clear frame of the same shape reopens the obstacle gate.
	a.ProcessFrame(ctx, detection.Frame{Sequence: 4, Objects: []detection.Object{{ID: 3, Box: detection.Box{0, 0, 10, 10}}}})
	if a.Status().State.ObstacleActive {
		t.Error("Expected the obstacle to clear")
	}
}

func TestProcessFrame_WithoutDetector(t *testing.T) {
	a, speaker := newTestAssistant(&stubRouter{}, nil)
	frame := detection.Frame{Detections: []detection.Detection{{ID: 1, Label: "chair", Position: detection.PositionCenter, Distance: 1.5}}}

	a.ProcessFrame(context.Background(), frame)
	a.ProcessFrame(context.Background(), frame)

	if spoken := speaker.Spoken(); len(spoken) != 1 || spoken[0] != obstacle.MoveRight {
		t.Errorf("Expected a single %q, got %v", obstacle.MoveRight, spoken)
	}
}

func TestClose(t *testing.T) {
	a, speaker := newTestAssistant(&stubRouter{steps: []string{"Head north."}}, nil)
	ctx := context.Background()

	if err := a.StartNavigation(ctx, home, store); err != nil {
		t.Fatalf("StartNavigation failed: %v", err)
	}
	if err := a.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := a.StartNavigation(ctx, home, store); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := a.Close(ctx); err != nil {
		t.Errorf("Expected second Close to be a no-op, got %v", err)
	}

	spoken := speaker.Spoken()
	if spoken[len(spoken)-1] != navigation.StoppedMessage {
		t.Errorf("Expected %q last, got %v", navigation.StoppedMessage, spoken)
	}
}

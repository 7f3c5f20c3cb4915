package frame

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vista/nav-gateway/internal/arbiter"
	"github.com/vista/nav-gateway/internal/detection"
	"github.com/vista/nav-gateway/internal/obstacle"
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

func setup() (*Processor, *arbiter.Arbiter, *recordingSpeaker) {
	speaker := &recordingSpeaker{}
	arb := arbiter.New(speaker, arbiter.WithLogger(zerolog.Nop()))
	return NewProcessor(obstacle.NewEngine(3.0), arb, zerolog.Nop()), arb, speaker
}

var chair = []detection.Detection{{ID: 1, Label: "chair", Position: detection.PositionCenter, Distance: 1.5}}

func TestOnFrame_ChairScenario(t *testing.T) {
	p, _, speaker := setup()
	ctx := context.Background()

	first := p.OnFrame(ctx, chair)
	if first.Instruction != obstacle.MoveRight || first.Outcome != arbiter.Emitted {
		t.Fatalf("Expected emitted %q, got %+v", obstacle.MoveRight, first)
	}

	second := p.OnFrame(ctx, chair)
	if second.Outcome != arbiter.SuppressedRepeat {
		t.Errorf("Expected second identical frame to be suppressed, got %s", second.Outcome)
	}

	if spoken := speaker.Spoken(); len(spoken) != 1 || spoken[0] != obstacle.MoveRight {
		t.Errorf("Expected a single %q, got %v", obstacle.MoveRight, spoken)
	}
}

func TestOnFrame_ClearFrameReopensGates(t *testing.T) {
	p, arb, speaker := setup()
	ctx := context.Background()

	p.OnFrame(ctx, chair)
	if got := arb.SpeakPriority(ctx, "Turn left onto Oak Avenue.", arbiter.Navigation); got != arbiter.SuppressedPriority {
		t.Fatalf("Expected navigation to be blocked by the obstacle, got %s", got)
	}

	res := p.OnFrame(ctx, []detection.Detection{{ID: 2, Label: "bench", Position: detection.PositionLeft, Distance: 0.8}})
	if !res.Cleared {
		t.Fatal("Expected a frame without center obstacle to clear the gate")
	}

	snap := arb.Snapshot()
	if snap.ObstacleActive || snap.LastObstacleText != "" {
		t.Errorf("Expected obstacle state cleared, got %+v", snap)
	}

	if got := arb.SpeakPriority(ctx, "Turn left onto Oak Avenue.", arbiter.Navigation); got != arbiter.Emitted {
		t.Errorf("Expected previously suppressed navigation to emit, got %s", got)
	}

	// The same obstacle reappearing is announced again.
	if res := p.OnFrame(ctx, chair); res.Outcome != arbiter.Emitted {
		t.Errorf("Expected reappearing obstacle to emit, got %s", res.Outcome)
	}

	if got := len(speaker.Spoken()); got != 3 {
		t.Errorf("Expected 3 utterances, got %d", got)
	}
}

func TestOnFrame_ClearWhenInactive(t *testing.T) {
	p, _, _ := setup()
	if res := p.OnFrame(context.Background(), nil); res.Cleared || res.Instruction != "" {
		t.Errorf("Expected no-op result, got %+v", res)
	}
}

func TestOnFrame_InstructionChanges(t *testing.T) {
	p, _, speaker := setup()
	ctx := context.Background()

	p.OnFrame(ctx, chair)
	p.OnFrame(ctx, append(chair, detection.Detection{ID: 3, Label: "wall", Position: detection.PositionRight, Distance: 1.0}))

	expected := []string{obstacle.MoveRight, obstacle.MoveLeft}
	spoken := speaker.Spoken()
	if len(spoken) != 2 || spoken[0] != expected[0] || spoken[1] != expected[1] {
		t.Errorf("Expected %v, got %v", expected, spoken)
	}
}

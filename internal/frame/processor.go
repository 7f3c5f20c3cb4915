// Package frame drives obstacle guidance from the detection stream.
package frame

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/vista/nav-gateway/internal/arbiter"
	"github.com/vista/nav-gateway/internal/detection"
	"github.com/vista/nav-gateway/internal/observability"
)

// Arbiter is the part of the speech arbiter the processor drives.
type Arbiter interface {
	SpeakPriority(ctx context.Context, text string, ch arbiter.Channel) arbiter.Outcome
	ClearObstacle() bool
}

// Analyzer decides the avoidance instruction for one frame.
type Analyzer interface {
	Analyze(detections []detection.Detection) (string, bool)
}

// Result summarizes what one frame did.
type Result struct {
	Instruction string
	Outcome     arbiter.Outcome
	Cleared     bool
}

// Processor turns each frame into at most one obstacle announcement and
// reopens the obstacle gate as soon as a frame shows the path clear.
type Processor struct {
	analyzer Analyzer
	arbiter  Arbiter
	logger   zerolog.Logger
}

// NewProcessor creates a frame processor.
func NewProcessor(analyzer Analyzer, arb Arbiter, logger zerolog.Logger) *Processor {
	return &Processor{analyzer: analyzer, arbiter: arb, logger: logger}
}

// OnFrame processes one frame of detections. It blocks while an instruction
// is spoken.
func (p *Processor) OnFrame(ctx context.Context, detections []detection.Detection) Result {
	instruction, ok := p.analyzer.Analyze(detections)
	if ok {
		outcome := p.arbiter.SpeakPriority(ctx, instruction, arbiter.Obstacle)
		observability.RecordFrame("obstacle_" + outcome.String())
		return Result{Instruction: instruction, Outcome: outcome}
	}

	if p.arbiter.ClearObstacle() {
		observability.RecordFrame("cleared")
		p.logger.Info().Int("detections", len(detections)).Msg("Path clear")
		return Result{Cleared: true}
	}
	observability.RecordFrame("clear")
	return Result{}
}

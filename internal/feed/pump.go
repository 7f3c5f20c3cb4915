// Package feed receives detection frames from the perception pipeline and
// hands them, newest first, to the guidance core.
package feed

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/vista/nav-gateway/internal/detection"
	"github.com/vista/nav-gateway/internal/observability"
)

// Handler processes one frame. It may block while an instruction is spoken.
type Handler interface {
	ProcessFrame(ctx context.Context, f detection.Frame) []detection.Detection
}

type queuedFrame struct {
	source string
	frame  detection.Frame
}

// Pump serializes frames from every source into a single consumer. It holds
// at most one pending frame: a newer frame replaces one that was not picked
// up yet, so guidance always reflects the latest view while the consumer is
// busy speaking.
type Pump struct {
	handler Handler
	logger  zerolog.Logger
	slot    chan queuedFrame
}

// NewPump creates a pump that feeds handler.
func NewPump(handler Handler, logger zerolog.Logger) *Pump {
	return &Pump{
		handler: handler,
		logger:  logger,
		slot:    make(chan queuedFrame, 1),
	}
}

// Offer queues f without blocking, displacing any pending frame.
func (p *Pump) Offer(source string, f detection.Frame) {
	item := queuedFrame{source: source, frame: f}
	for {
		select {
		case p.slot <- item:
			observability.RecordFeedFrame(source, "received")
			return
		default:
		}

		select {
		case stale := <-p.slot:
			observability.RecordFeedFrame(stale.source, "replaced")
			p.logger.Debug().
				Str("source", stale.source).
				Uint64("seq", stale.frame.Sequence).
				Msg("Dropped stale frame")
		default:
		}
	}
}

// Run delivers frames to the handler until ctx is done.
func (p *Pump) Run(ctx context.Context) {
	p.logger.Info().Msg("Frame pump started")
	defer p.logger.Info().Msg("Frame pump stopped")

	for {
		select {
		case <-ctx.Done():
			return
		case item := <-p.slot:
			p.handler.ProcessFrame(ctx, item.frame)
			observability.RecordFeedFrame(item.source, "processed")
		}
	}
}

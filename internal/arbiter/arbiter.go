// Package arbiter owns the single speech output and the record of what was
// last said on each channel. Every announcement in the process goes through
// SpeakPriority, which holds one lock for the whole decide-and-speak cycle.
package arbiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vista/nav-gateway/internal/observability"
)

// Speaker is the speech output device. Speak blocks until the utterance is
// finished. The arbiter never calls it concurrently.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Option configures an Arbiter.
type Option func(*Arbiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Arbiter) {
		a.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Arbiter) {
		a.logger = logger
	}
}

// Arbiter decides whether a candidate announcement is spoken, suppressed or
// dropped. The obstacle gate never looks at navigation; the navigation gate
// is closed while the obstacle gate is active.
type Arbiter struct {
	speaker Speaker
	now     func() time.Time
	logger  zerolog.Logger

	// mu guards both gates and the speaker. It is held while speaking.
	mu         sync.Mutex
	obstacle   gate
	navigation gate
}

// New creates an arbiter that owns speaker.
func New(speaker Speaker, opts ...Option) *Arbiter {
	a := &Arbiter{
		speaker: speaker,
		now:     time.Now,
		logger:  observability.ForComponent("arbiter"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SpeakPriority arbitrates text on channel and, if it wins, speaks it before
// returning. Suppressed navigation messages are dropped, not queued.
func (a *Arbiter) SpeakPriority(ctx context.Context, text string, ch Channel) Outcome {
	if text == "" {
		observability.RecordSuppressed(ch.String(), SuppressedEmpty.String())
		return SuppressedEmpty
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// The caller may have given up while waiting for an utterance to finish.
	if ctx.Err() != nil {
		return a.suppress(ch, Cancelled, text)
	}

	switch ch {
	case Obstacle:
		if a.obstacle.repeats(text) {
			return a.suppress(ch, SuppressedRepeat, text)
		}
		a.obstacle.record(text, a.now())
		observability.SetObstacleActive(true)
	case Navigation:
		if a.obstacle.active {
			return a.suppress(ch, SuppressedPriority, text)
		}
		if a.navigation.repeats(text) {
			return a.suppress(ch, SuppressedRepeat, text)
		}
		a.navigation.record(text, a.now())
	default:
		a.logger.Warn().Int("channel", int(ch)).Str("text", text).Msg("Unknown announcement channel")
		return Failed
	}

	return a.emit(ctx, text, ch)
}

func (a *Arbiter) suppress(ch Channel, outcome Outcome, text string) Outcome {
	observability.RecordSuppressed(ch.String(), outcome.String())
	a.logger.Debug().
		Str("channel", ch.String()).
		Str("reason", outcome.String()).
		Str("text", text).
		Msg("Announcement suppressed")
	return outcome
}

// emit forwards text to the speaker. Must be called with a.mu held. A
// failing or panicking speaker costs this one utterance only.
func (a *Arbiter) emit(ctx context.Context, text string, ch Channel) (outcome Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.speechFailed(ch, text, fmt.Errorf("speaker panic: %v", r))
			outcome = Failed
		}
		observability.ObserveSpeechDuration(ch.String(), time.Since(start))
	}()

	a.logger.Info().Str("channel", ch.String()).Str("text", text).Msg("Speaking")
	if err := a.speaker.Speak(ctx, text); err != nil {
		a.speechFailed(ch, text, err)
		return Failed
	}
	observability.RecordAnnouncement(ch.String())
	return Emitted
}

func (a *Arbiter) speechFailed(ch Channel, text string, err error) {
	observability.RecordSpeechFailure(ch.String())
	observability.RecordError("speech_output", "arbiter")
	a.logger.Error().Err(err).Str("channel", ch.String()).Str("text", text).Msg("Speech output failed")
}

// ClearObstacle opens the obstacle gate after a frame with no center
// obstacle. It reports whether the gate was active. It takes the same lock
// as SpeakPriority, so it waits for an utterance in progress.
func (a *Arbiter) ClearObstacle() bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.obstacle.active {
		return false
	}
	a.obstacle.active = false
	a.obstacle.lastText = ""
	observability.SetObstacleActive(false)
	a.logger.Debug().Msg("Obstacle cleared")
	return true
}

// Snapshot returns a copy of the system state.
func (a *Arbiter) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	return Snapshot{
		LastObstacleText:   a.obstacle.lastText,
		LastNavigationText: a.navigation.lastText,
		ObstacleActive:     a.obstacle.active,
		NavigationActive:   a.navigation.active,
		LastObstacleTime:   a.obstacle.lastTime,
		LastNavigationTime: a.navigation.lastTime,
	}
}

// Now reads the arbiter's clock, which stamps every announcement.
func (a *Arbiter) Now() time.Time {
	return a.now()
}

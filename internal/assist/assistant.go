// Package assist owns the guidance core for one user: the speech arbiter,
// obstacle processing and at most one navigation session.
package assist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vista/nav-gateway/internal/arbiter"
	"github.com/vista/nav-gateway/internal/detection"
	"github.com/vista/nav-gateway/internal/frame"
	"github.com/vista/nav-gateway/internal/navigation"
	"github.com/vista/nav-gateway/internal/observability"
	"github.com/vista/nav-gateway/internal/routing"
)

var (
	ErrNavigationActive   = errors.New("navigation is already active")
	ErrNavigationInactive = errors.New("navigation is not active")
	ErrClosed             = errors.New("assistant is closed")
)

// StartedFormat is announced with the straight-line distance to the
// destination before the first route step.
const StartedFormat = "Navigation started. Destination is %.0f meters away."

// Detector turns a raw frame into positioned detections.
type Detector interface {
	Detect(ctx context.Context, f detection.Frame) ([]detection.Detection, error)
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithInterval sets the navigation announcement interval.
func WithInterval(d time.Duration) Option {
	return func(a *Assistant) { a.interval = d }
}

// WithStopTimeout bounds how long stopping waits for the scheduler.
func WithStopTimeout(d time.Duration) Option {
	return func(a *Assistant) { a.stopTimeout = d }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *Assistant) { a.logger = logger }
}

// WithNavigationHook registers fn to be told when a session starts or ends.
func WithNavigationHook(fn func(active bool)) Option {
	return func(a *Assistant) { a.onNavigation = fn }
}

type session struct {
	id          string
	origin      routing.Coordinate
	destination routing.Coordinate
	startedAt   time.Time
	plan        *navigation.Plan
	scheduler   *navigation.Scheduler
}

// Assistant is the control surface of the guidance core. Safe for
// concurrent use.
type Assistant struct {
	arbiter      *arbiter.Arbiter
	processor    *frame.Processor
	detector     Detector
	router       navigation.Router
	interval     time.Duration
	stopTimeout  time.Duration
	logger       zerolog.Logger
	onNavigation func(active bool)

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	session  *session
	starting bool
	closed   bool
	frames   uint64
}

// New builds an assistant around arb. detector may be nil when frames
// always arrive with positioned detections.
func New(arb *arbiter.Arbiter, analyzer frame.Analyzer, detector Detector, router navigation.Router, opts ...Option) *Assistant {
	a := &Assistant{
		arbiter:     arb,
		detector:    detector,
		router:      router,
		interval:    navigation.DefaultInterval,
		stopTimeout: navigation.DefaultStopTimeout,
		logger:      observability.ForComponent("assist"),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.processor = frame.NewProcessor(analyzer, arb, a.logger)
	a.baseCtx, a.baseCancel = context.WithCancel(context.Background())
	return a
}

// StartNavigation fetches a route and starts reading it out. On failure no
// session exists and nothing is announced.
func (a *Assistant) StartNavigation(ctx context.Context, origin, destination routing.Coordinate) error {
	a.mu.Lock()
	switch {
	case a.closed:
		a.mu.Unlock()
		return ErrClosed
	case a.session != nil || a.starting:
		a.mu.Unlock()
		return ErrNavigationActive
	}
	a.starting = true
	a.mu.Unlock()

	started := false
	defer func() {
		if !started {
			a.mu.Lock()
			a.starting = false
			a.mu.Unlock()
			observability.RecordNavigationStart(false)
		}
	}()

	id := observability.NewSessionID()
	logger := a.logger.With().Str("session_id", id).Logger()

	plan := navigation.NewPlan(a.router)
	if err := plan.Start(ctx, origin, destination); err != nil {
		logger.Warn().Err(err).
			Str("origin", origin.String()).
			Str("destination", destination.String()).
			Msg("Navigation start failed")
		return err
	}

	distance := routing.Distance(origin, destination)
	a.arbiter.SpeakPriority(ctx, fmt.Sprintf(StartedFormat, distance), arbiter.Navigation)

	scheduler := navigation.NewScheduler(plan, a.arbiter,
		navigation.WithInterval(a.interval),
		navigation.WithStopTimeout(a.stopTimeout),
		navigation.WithClock(a.arbiter.Now),
		navigation.WithLogger(logger),
	)

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if err := scheduler.Start(a.baseCtx); err != nil {
		a.mu.Unlock()
		return err
	}
	a.session = &session{
		id:          id,
		origin:      origin,
		destination: destination,
		startedAt:   time.Now(),
		plan:        plan,
		scheduler:   scheduler,
	}
	a.starting = false
	a.mu.Unlock()
	started = true

	observability.RecordNavigationStart(true)
	observability.SetNavigationSessionActive(true)
	if a.onNavigation != nil {
		a.onNavigation(true)
	}

	logger.Info().
		Float64("distance_m", distance).
		Int("steps", plan.Len()).
		Msg("Navigation started")
	return nil
}

// StopNavigation ends the session and announces it. A bounded wait that
// expires is logged; the session is gone either way.
func (a *Assistant) StopNavigation(ctx context.Context) error {
	a.mu.Lock()
	s := a.session
	a.session = nil
	a.mu.Unlock()

	if s == nil {
		return ErrNavigationInactive
	}

	if err := s.scheduler.Stop(ctx); err != nil {
		a.logger.Warn().Err(err).Str("session_id", s.id).Msg("Navigation stop timed out")
	}

	observability.SetNavigationSessionActive(false)
	if a.onNavigation != nil {
		a.onNavigation(false)
	}
	a.logger.Info().
		Str("session_id", s.id).
		Dur("duration", time.Since(s.startedAt)).
		Int("steps_announced", s.plan.Index()).
		Msg("Navigation stopped")
	return nil
}

// ProcessFrame runs one frame through detection and obstacle guidance and
// returns the detections it used. On a detector error the detections it
// did return, or else the frame's pre-analyzed ones, are still guided. A
// panic yields an empty result and no announcement.
func (a *Assistant) ProcessFrame(ctx context.Context, f detection.Frame) (dets []detection.Detection) {
	defer func() {
		if r := recover(); r != nil {
			observability.RecordFrame("fault")
			observability.RecordError("frame_panic", "assist")
			a.logger.Error().Interface("panic", r).Uint64("seq", f.Sequence).Msg("Frame processing failed")
			dets = nil
		}
	}()

	a.mu.Lock()
	a.frames++
	a.mu.Unlock()

	dets = f.Detections
	if a.detector != nil {
		analyzed, err := a.detector.Detect(ctx, f)
		if err == nil || len(analyzed) > 0 {
			dets = analyzed
		}
		if err != nil {
			observability.RecordFrame("invalid")
			a.logger.Warn().Err(err).Uint64("seq", f.Sequence).Int("detections", len(dets)).Msg("Frame partially analyzed")
		}
	}

	a.processor.OnFrame(ctx, dets)
	return dets
}

// Status is a point-in-time view of the assistant.
type Status struct {
	Navigating         bool                `json:"navigating"`
	SessionID          string              `json:"session_id,omitempty"`
	Origin             *routing.Coordinate `json:"origin,omitempty"`
	Destination        *routing.Coordinate `json:"destination,omitempty"`
	StartedAt          *time.Time          `json:"started_at,omitempty"`
	StepIndex          int                 `json:"step_index"`
	StepCount          int                 `json:"step_count"`
	FramesProcessed    uint64              `json:"frames_processed"`
	NavigationInterval float64             `json:"navigation_interval_seconds"`
	State              arbiter.Snapshot    `json:"state"`
}

// Status returns the current status.
func (a *Assistant) Status() Status {
	a.mu.Lock()
	s := a.session
	st := Status{
		Navigating:         s != nil,
		FramesProcessed:    a.frames,
		NavigationInterval: a.interval.Seconds(),
	}
	a.mu.Unlock()

	if s != nil {
		origin, destination, startedAt := s.origin, s.destination, s.startedAt
		st.SessionID = s.id
		st.Origin = &origin
		st.Destination = &destination
		st.StartedAt = &startedAt
		st.StepIndex = s.plan.Index()
		st.StepCount = s.plan.Len()
	}
	st.State = a.arbiter.Snapshot()
	return st
}

// Close stops any session and rejects further starts.
func (a *Assistant) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	err := a.StopNavigation(ctx)
	a.baseCancel()
	if errors.Is(err, ErrNavigationInactive) {
		return nil
	}
	return err
}

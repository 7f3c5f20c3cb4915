package navigation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vista/nav-gateway/internal/arbiter"
	"github.com/vista/nav-gateway/internal/observability"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultStopTimeout = 2 * time.Second

	// StoppedMessage is announced when a running scheduler is stopped.
	StoppedMessage = "Navigation stopped."
)

var (
	ErrAlreadyRunning = errors.New("navigation scheduler already running")
	ErrNotRunning     = errors.New("navigation scheduler not running")
	// ErrStopTimeout means the loop did not exit within the stop timeout.
	// The stop announcement is still made.
	ErrStopTimeout = errors.New("navigation scheduler did not stop in time")
)

// Announcer is the part of the arbiter the scheduler needs.
type Announcer interface {
	SpeakPriority(ctx context.Context, text string, ch arbiter.Channel) arbiter.Outcome
	Snapshot() arbiter.Snapshot
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the time between navigation announcements.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithStopTimeout bounds how long Stop waits for the loop to exit.
func WithStopTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// Scheduler reads the plan out every interval while no obstacle is active.
// A tick skipped for an obstacle does not advance the plan.
type Scheduler struct {
	plan        *Plan
	announcer   Announcer
	interval    time.Duration
	stopTimeout time.Duration
	now         func() time.Time
	logger      zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a stopped scheduler over plan.
func NewScheduler(plan *Plan, announcer Announcer, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		plan:        plan,
		announcer:   announcer,
		interval:    DefaultInterval,
		stopTimeout: DefaultStopTimeout,
		now:         time.Now,
		logger:      observability.ForComponent("navigation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the loop. It runs until Stop is called or ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(loopCtx, s.done)

	s.logger.Info().Dur("interval", s.interval).Int("steps", s.plan.Len()).Msg("Navigation scheduler started")
	return nil
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done != nil
}

// Stop cancels the loop, waits for it up to the stop timeout, then
// announces StoppedMessage on the navigation channel.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if done == nil {
		return ErrNotRunning
	}
	cancel()

	var err error
	timer := time.NewTimer(s.stopTimeout)
	select {
	case <-done:
		timer.Stop()
	case <-timer.C:
		err = fmt.Errorf("%w after %s", ErrStopTimeout, s.stopTimeout)
		s.logger.Warn().Dur("timeout", s.stopTimeout).Msg("Navigation loop still running after stop timeout")
	}

	s.announcer.SpeakPriority(ctx, StoppedMessage, arbiter.Navigation)
	s.logger.Info().Msg("Navigation scheduler stopped")
	return err
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick performs one scheduling decision. A panic is logged and the loop
// keeps going.
func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			observability.RecordNavigationTick("fault")
			observability.RecordError("tick_panic", "navigation")
			s.logger.Error().Interface("panic", r).Msg("Navigation tick failed")
		}
	}()

	if ctx.Err() != nil {
		return
	}

	snap := s.announcer.Snapshot()
	if snap.ObstacleActive {
		observability.RecordNavigationTick("paused_obstacle")
		return
	}

	// Ticker jitter may deliver a tick slightly early.
	if !snap.LastNavigationTime.IsZero() && s.now().Sub(snap.LastNavigationTime) < s.interval-s.interval/20 {
		observability.RecordNavigationTick("too_soon")
		return
	}

	// Stop may have landed while the snapshot waited on the lock.
	if ctx.Err() != nil {
		return
	}
	text := s.plan.Next()
	switch s.announcer.SpeakPriority(ctx, text, arbiter.Navigation) {
	case arbiter.Emitted:
		observability.RecordNavigationTick("announced")
	case arbiter.Cancelled:
		observability.RecordNavigationTick("cancelled")
	default:
		observability.RecordNavigationTick("suppressed")
	}
}

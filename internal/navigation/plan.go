// Package navigation holds the active route and the periodic task that reads
// it out one step at a time.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/vista/nav-gateway/internal/routing"
)

// ArrivedMessage is returned by Next once the route is exhausted.
const ArrivedMessage = "You have arrived at your destination."

// ErrRouteUnavailable means the router produced no usable route.
var ErrRouteUnavailable = errors.New("route unavailable")

// Routers of the original system answered with these in place of steps.
var sentinelSteps = map[string]bool{
	"no route found":             true,
	"error getting instructions": true,
}

func isSentinel(step string) bool {
	return sentinelSteps[strings.TrimSuffix(strings.ToLower(step), ".")]
}

// Router fetches the walking steps between two points.
type Router interface {
	Route(ctx context.Context, origin, destination routing.Coordinate) ([]string, error)
}

// Plan is the ordered list of steps for one trip with a read cursor. It is
// safe for concurrent use.
type Plan struct {
	router Router

	mu    sync.Mutex
	steps []string
	index int
}

// NewPlan creates an empty plan backed by router.
func NewPlan(router Router) *Plan {
	return &Plan{router: router}
}

// Start fetches the route and resets the cursor. On failure the plan keeps
// its previous contents and the error wraps ErrRouteUnavailable.
func (p *Plan) Start(ctx context.Context, origin, destination routing.Coordinate) error {
	raw, err := p.router.Route(ctx, origin, destination)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRouteUnavailable, err)
	}

	steps := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" || isSentinel(s) {
			continue
		}
		steps = append(steps, s)
	}
	if len(steps) == 0 {
		return fmt.Errorf("%w: no steps between %s and %s", ErrRouteUnavailable, origin, destination)
	}

	p.mu.Lock()
	p.steps = steps
	p.index = 0
	p.mu.Unlock()
	return nil
}

// Next returns the step at the cursor and advances it. Past the end it
// returns ArrivedMessage on every call.
func (p *Plan) Next() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.index >= len(p.steps) {
		return ArrivedMessage
	}
	step := p.steps[p.index]
	p.index++
	return step
}

// HasMore reports whether Next will return a route step.
func (p *Plan) HasMore() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index < len(p.steps)
}

// Len returns the number of steps in the plan.
func (p *Plan) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.steps)
}

// Index returns the cursor position.
func (p *Plan) Index() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index
}

// Package obstacle turns one frame of detections into at most one avoidance
// instruction.
package obstacle

import "github.com/vista/nav-gateway/internal/detection"

// DefaultThreshold is the distance in meters under which an object is an
// imminent obstacle.
const DefaultThreshold = 3.0

// Instructions, in the only forms the engine produces.
const (
	MoveRight = "Obstacle ahead. Move right."
	MoveLeft  = "Obstacle ahead. Move left."
	Stop      = "Obstacle ahead. Stop."
)

// Analyze returns the avoidance instruction for a frame, or false when the
// path ahead is clear. Only center obstacles trigger guidance; side
// obstacles decide which way to step. With both sides clear the engine
// prefers right.
func Analyze(detections []detection.Detection, threshold float64) (string, bool) {
	if len(detections) == 0 {
		return "", false
	}

	centerBlocked := false
	leftClear, rightClear := true, true
	for _, d := range detections {
		if !d.Within(threshold) {
			continue
		}
		switch d.Position {
		case detection.PositionCenter:
			centerBlocked = true
		case detection.PositionLeft:
			leftClear = false
		case detection.PositionRight:
			rightClear = false
		}
	}

	if !centerBlocked {
		return "", false
	}

	switch {
	case leftClear && rightClear:
		return MoveRight, true
	case leftClear:
		return MoveLeft, true
	case rightClear:
		return MoveRight, true
	default:
		return Stop, true
	}
}

// Engine binds Analyze to a fixed threshold.
type Engine struct {
	threshold float64
}

// NewEngine falls back to DefaultThreshold for a non-positive threshold.
func NewEngine(threshold float64) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Engine{threshold: threshold}
}

// Analyze runs the decision table with the engine's threshold.
func (e *Engine) Analyze(detections []detection.Detection) (string, bool) {
	return Analyze(detections, e.threshold)
}

// Threshold returns the danger threshold in meters.
func (e *Engine) Threshold() float64 {
	return e.threshold
}

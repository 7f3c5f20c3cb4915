package arbiter

import "time"

// Channel is one of the two announcement sources competing for the voice.
type Channel int

const (
	// Obstacle announcements always outrank navigation.
	Obstacle Channel = iota
	Navigation
)

func (c Channel) String() string {
	switch c {
	case Obstacle:
		return "obstacle"
	case Navigation:
		return "navigation"
	default:
		return "unknown"
	}
}

// Outcome is the result of one arbitration.
type Outcome int

const (
	Emitted Outcome = iota
	SuppressedRepeat
	SuppressedPriority
	SuppressedEmpty
	Failed
	// Cancelled means the caller's context was done once the lock was held.
	// Nothing is recorded, so the text is not treated as a repeat later.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Emitted:
		return "emitted"
	case SuppressedRepeat:
		return "repeat"
	case SuppressedPriority:
		return "priority"
	case SuppressedEmpty:
		return "empty"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// gate is the suppression record of one channel. An empty lastText means
// nothing is on record.
type gate struct {
	lastText string
	active   bool
	lastTime time.Time
}

func (g *gate) repeats(text string) bool {
	return g.lastText != "" && g.lastText == text
}

func (g *gate) record(text string, now time.Time) {
	g.lastText = text
	g.active = true
	g.lastTime = now
}

// Snapshot is a consistent copy of the system state.
type Snapshot struct {
	LastObstacleText   string    `json:"last_obstacle_text,omitempty"`
	LastNavigationText string    `json:"last_navigation_text,omitempty"`
	ObstacleActive     bool      `json:"obstacle_active"`
	NavigationActive   bool      `json:"navigation_active"`
	LastObstacleTime   time.Time `json:"last_obstacle_time"`
	LastNavigationTime time.Time `json:"last_navigation_time"`
}

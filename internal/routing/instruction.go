package routing

import (
	"fmt"
	"math"
	"strings"
)

// Step is one OSRM route step.
type Step struct {
	Name     string   `json:"name"`
	Distance float64  `json:"distance"`
	Maneuver Maneuver `json:"maneuver"`
}

// Maneuver describes the action at the start of a step. Instruction is only
// present on routers that run a text-instructions plugin.
type Maneuver struct {
	Type        string `json:"type"`
	Modifier    string `json:"modifier"`
	Instruction string `json:"instruction"`
}

// Text returns the spoken form of the step.
func (s Step) Text() string {
	if text := strings.TrimSpace(s.Maneuver.Instruction); text != "" {
		return text
	}
	return s.synthesize()
}

func (s Step) synthesize() string {
	name := strings.TrimSpace(s.Name)
	modifier := strings.TrimSpace(s.Maneuver.Modifier)

	var b strings.Builder
	switch s.Maneuver.Type {
	case "arrive":
		return "Arrive at your destination."
	case "depart":
		b.WriteString("Head")
		if modifier != "" {
			b.WriteString(" " + modifier)
		}
		if name != "" {
			b.WriteString(" on " + name)
		}
	case "roundabout", "rotary":
		b.WriteString("Enter the roundabout")
		if name != "" {
			b.WriteString(" and exit onto " + name)
		}
	case "continue", "new name":
		b.WriteString("Continue")
		if modifier != "" && modifier != "straight" {
			b.WriteString(" " + modifier)
		} else {
			b.WriteString(" straight")
		}
		if name != "" {
			b.WriteString(" onto " + name)
		}
	default:
		switch {
		case modifier == "straight":
			b.WriteString("Go straight")
		case modifier == "uturn":
			b.WriteString("Make a U-turn")
		case modifier != "":
			b.WriteString("Turn " + modifier)
		default:
			b.WriteString("Continue")
		}
		if name != "" {
			b.WriteString(" onto " + name)
		}
	}

	if meters := math.Round(s.Distance); meters >= 1 {
		fmt.Fprintf(&b, " and walk %.0f meters", meters)
	}
	b.WriteString(".")
	return b.String()
}

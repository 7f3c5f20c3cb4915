// Package detection holds the per-frame object model handed over by the
// external detection and tracking pipeline.
package detection

import (
	"encoding/json"
	"math"
	"strings"
)

// Position is the horizontal third of the frame an object occupies.
type Position string

const (
	PositionLeft    Position = "left"
	PositionCenter  Position = "center"
	PositionRight   Position = "right"
	PositionUnknown Position = ""
)

// ParsePosition normalizes a position label. Anything other than
// left/center/right maps to PositionUnknown.
func ParsePosition(s string) Position {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left":
		return PositionLeft
	case "center", "centre", "middle":
		return PositionCenter
	case "right":
		return PositionRight
	default:
		return PositionUnknown
	}
}

// Detection is one tracked object in a frame. Distance is in meters; NaN
// means the pipeline could not estimate it.
type Detection struct {
	ID       int      `json:"id"`
	Label    string   `json:"label"`
	Position Position `json:"position"`
	Distance float64  `json:"distance"`
}

// HasDistance reports whether Distance is a usable estimate.
func (d Detection) HasDistance() bool {
	return !math.IsNaN(d.Distance) && !math.IsInf(d.Distance, 0) && d.Distance >= 0
}

// Within reports whether the object is closer than threshold. Detections
// without a usable distance are never within any threshold.
func (d Detection) Within(threshold float64) bool {
	return d.HasDistance() && d.Distance < threshold
}

type wireDetection struct {
	ID       int      `json:"id"`
	TrackID  *int     `json:"track_id,omitempty"`
	Label    string   `json:"label"`
	Position string   `json:"position"`
	Distance *float64 `json:"distance"`
}

// UnmarshalJSON accepts missing or null distance and unknown positions
// without failing; both decode as non-dangerous values. A malformed entry
// keeps whichever fields still decode, so one bad entry never rejects the
// whole frame.
func (d *Detection) UnmarshalJSON(data []byte) error {
	var w wireDetection
	if err := json.Unmarshal(data, &w); err != nil {
		w = wireDetection{}
		fields := lenientFields(data)
		decodeField(fields, "id", &w.ID)
		decodeField(fields, "track_id", &w.TrackID)
		decodeField(fields, "label", &w.Label)
		decodeField(fields, "position", &w.Position)
		decodeField(fields, "distance", &w.Distance)
	}
	d.ID = w.ID
	if w.TrackID != nil {
		d.ID = *w.TrackID
	}
	d.Label = w.Label
	d.Position = ParsePosition(w.Position)
	d.Distance = math.NaN()
	if w.Distance != nil {
		d.Distance = *w.Distance
	}
	return nil
}

// MarshalJSON writes an unknown distance as null.
func (d Detection) MarshalJSON() ([]byte, error) {
	w := wireDetection{
		ID:       d.ID,
		Label:    d.Label,
		Position: string(d.Position),
	}
	if d.HasDistance() {
		dist := d.Distance
		w.Distance = &dist
	}
	return json.Marshal(w)
}

// lenientFields splits a JSON object into raw fields. Anything that is not
// an object yields no fields.
func lenientFields(data []byte) map[string]json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	return fields
}

// decodeField decodes fields[key] into v, leaving v untouched on error.
func decodeField[T any](fields map[string]json.RawMessage, key string, v *T) {
	raw, ok := fields[key]
	if !ok {
		return
	}
	var tmp T
	if err := json.Unmarshal(raw, &tmp); err == nil {
		*v = tmp
	}
}

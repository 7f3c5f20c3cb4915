package detection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidFrame is returned for feed messages that are not a JSON frame.
var ErrInvalidFrame = errors.New("detection: invalid frame")

// DefaultDistanceScale converts box height in pixels to meters.
const DefaultDistanceScale = 1000.0

// Box is a bounding box in pixels: x1, y1, x2, y2.
type Box [4]float64

// Object is a tracked box that has not been spatially analyzed yet.
type Object struct {
	ID         int     `json:"id"`
	Label      string  `json:"label"`
	Box        Box     `json:"box"`
	Confidence float64 `json:"confidence,omitempty"`
}

// UnmarshalJSON decodes field by field when the object is malformed. A bad
// box decodes as zero height, which places the object at an unknown distance.
func (o *Object) UnmarshalJSON(data []byte) error {
	type plain Object
	var p plain
	if err := json.Unmarshal(data, &p); err == nil {
		*o = Object(p)
		return nil
	}

	*o = Object{}
	fields := lenientFields(data)
	decodeField(fields, "id", &o.ID)
	decodeField(fields, "label", &o.Label)
	decodeField(fields, "box", &o.Box)
	decodeField(fields, "confidence", &o.Confidence)
	return nil
}

// Frame is one message from the detection feed. Detections are already
// analyzed; Objects still need a position and distance, which requires Width.
type Frame struct {
	Sequence   uint64      `json:"seq"`
	Width      int         `json:"width,omitempty"`
	Height     int         `json:"height,omitempty"`
	Detections []Detection `json:"detections,omitempty"`
	Objects    []Object    `json:"objects,omitempty"`
}

// DecodeFrame parses a JSON frame.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return f, nil
}

// ClassifyPosition places a box in the left, center or right third of a
// frame by the x coordinate of its center.
func ClassifyPosition(box Box, frameWidth int) Position {
	if frameWidth <= 0 {
		return PositionUnknown
	}
	cx := (box[0] + box[2]) / 2
	w := float64(frameWidth)
	switch {
	case cx < w/3:
		return PositionLeft
	case cx < 2*w/3:
		return PositionCenter
	default:
		return PositionRight
	}
}

// EstimateDistance maps box height to meters as scale/height, rounded to
// one decimal. A zero or negative height yields NaN.
func EstimateDistance(box Box, scale float64) float64 {
	height := box[3] - box[1]
	if height <= 0 {
		return math.NaN()
	}
	return math.Round(scale/height*10) / 10
}

// SpatialAnalyzer is the default Detector: it passes analyzed detections
// through and enriches raw objects using the frame geometry.
type SpatialAnalyzer struct {
	Scale float64
}

// NewSpatialAnalyzer uses DefaultDistanceScale when scale is not positive.
func NewSpatialAnalyzer(scale float64) *SpatialAnalyzer {
	if scale <= 0 {
		scale = DefaultDistanceScale
	}
	return &SpatialAnalyzer{Scale: scale}
}

// Detect returns every detection of the frame with position and distance
// filled in. Objects in a frame without a width cannot be placed; they keep
// an unknown position and never count as obstacles.
func (a *SpatialAnalyzer) Detect(_ context.Context, f Frame) ([]Detection, error) {
	out := make([]Detection, 0, len(f.Detections)+len(f.Objects))
	out = append(out, f.Detections...)
	for _, o := range f.Objects {
		out = append(out, Detection{
			ID:       o.ID,
			Label:    o.Label,
			Position: ClassifyPosition(o.Box, f.Width),
			Distance: EstimateDistance(o.Box, a.Scale),
		})
	}
	return out, nil
}

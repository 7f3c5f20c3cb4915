package detection

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func TestDetection_UnmarshalMissingDistance(t *testing.T) {
	var d Detection
	if err := json.Unmarshal([]byte(`{"id":7,"label":"chair","position":"center"}`), &d); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !math.IsNaN(d.Distance) {
		t.Errorf("Expected NaN distance, got %v", d.Distance)
	}
	if d.Within(3.0) {
		t.Error("Expected detection without distance to be outside any threshold")
	}
	if d.Position != PositionCenter {
		t.Errorf("Expected center position, got %q", d.Position)
	}
}

func TestDetection_UnmarshalNullDistanceAndUnknownPosition(t *testing.T) {
	var d Detection
	if err := json.Unmarshal([]byte(`{"id":1,"label":"dog","position":"up","distance":null}`), &d); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if d.Position != PositionUnknown {
		t.Errorf("Expected unknown position, got %q", d.Position)
	}
	if d.HasDistance() {
		t.Error("Expected null distance to be unusable")
	}
}

func TestDetection_TrackIDOverridesID(t *testing.T) {
	var d Detection
	if err := json.Unmarshal([]byte(`{"id":1,"track_id":42,"label":"person","position":"left","distance":2.5}`), &d); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if d.ID != 42 {
		t.Errorf("Expected ID 42, got %d", d.ID)
	}
	if !d.Within(3.0) {
		t.Error("Expected 2.5m to be within 3.0m")
	}
}

func TestDetection_Within(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		expected bool
	}{
		{"close", 1.0, true},
		{"at threshold", 3.0, false},
		{"far", 9.0, false},
		{"negative", -1.0, false},
		{"infinite", math.Inf(1), false},
		{"nan", math.NaN(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Detection{Position: PositionCenter, Distance: tt.distance}
			if got := d.Within(3.0); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestDetection_MarshalUnknownDistanceAsNull(t *testing.T) {
	data, err := json.Marshal(Detection{ID: 3, Label: "cup", Position: PositionRight, Distance: math.NaN()})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	expected := `{"id":3,"label":"cup","position":"right","distance":null}`
	if string(data) != expected {
		t.Errorf("Expected %s, got %s", expected, data)
	}
}

func TestClassifyPosition(t *testing.T) {
	tests := []struct {
		box      Box
		expected Position
	}{
		{Box{0, 0, 100, 100}, PositionLeft},
		{Box{250, 0, 350, 100}, PositionCenter},
		{Box{500, 0, 600, 100}, PositionRight},
		{Box{200, 0, 200, 100}, PositionCenter}, // cx exactly at the left boundary
	}

	for _, tt := range tests {
		if got := ClassifyPosition(tt.box, 600); got != tt.expected {
			t.Errorf("ClassifyPosition(%v) expected %q, got %q", tt.box, tt.expected, got)
		}
	}

	if got := ClassifyPosition(Box{0, 0, 10, 10}, 0); got != PositionUnknown {
		t.Errorf("Expected unknown position for zero width, got %q", got)
	}
}

func TestEstimateDistance(t *testing.T) {
	if got := EstimateDistance(Box{0, 100, 0, 500}, DefaultDistanceScale); got != 2.5 {
		t.Errorf("Expected 2.5, got %v", got)
	}
	if got := EstimateDistance(Box{0, 0, 0, 300}, DefaultDistanceScale); got != 3.3 {
		t.Errorf("Expected 3.3, got %v", got)
	}
	if got := EstimateDistance(Box{0, 100, 0, 100}, DefaultDistanceScale); !math.IsNaN(got) {
		t.Errorf("Expected NaN for zero height, got %v", got)
	}
}

func TestSpatialAnalyzer_Detect(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{
		"seq": 9,
		"width": 600,
		"height": 480,
		"detections": [{"id":1,"label":"chair","position":"left","distance":1.2}],
		"objects": [{"id":2,"label":"table","box":[250,0,350,400]}]
	}`))
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}

	dets, err := NewSpatialAnalyzer(0).Detect(context.Background(), frame)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("Expected 2 detections, got %d", len(dets))
	}
	if dets[1].Position != PositionCenter || dets[1].Distance != 2.5 {
		t.Errorf("Expected center at 2.5m, got %q at %v", dets[1].Position, dets[1].Distance)
	}
}

func TestSpatialAnalyzer_ObjectsWithoutWidth(t *testing.T) {
	frame := Frame{
		Detections: []Detection{{ID: 1, Position: PositionCenter, Distance: 1.0}},
		Objects:    []Object{{ID: 2, Box: Box{0, 0, 10, 10}}},
	}
	dets, err := NewSpatialAnalyzer(0).Detect(context.Background(), frame)
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("Expected 2 detections, got %d", len(dets))
	}
	if dets[1].Position != PositionUnknown || dets[1].Within(3.0) {
		t.Errorf("Expected an unplaced, non-dangerous object, got %+v", dets[1])
	}
}

func TestDecodeFrame_MalformedEntries(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{
		"seq": 2,
		"width": 600,
		"detections": [
			{"id": 1, "label": "chair", "position": "center", "distance": 1.0},
			{"id": 2, "label": "dog", "position": "center", "distance": "far"},
			{"id": 3, "label": "cat", "position": 7, "distance": 0.5},
			"garbage"
		],
		"objects": [{"id": 4, "label": "bag", "box": "wide"}]
	}`))
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if len(frame.Detections) != 4 || len(frame.Objects) != 1 {
		t.Fatalf("Expected every entry kept, got %+v", frame)
	}

	if !frame.Detections[0].Within(3.0) {
		t.Errorf("Expected the valid entry to stay dangerous, got %+v", frame.Detections[0])
	}
	if d := frame.Detections[1]; d.ID != 2 || d.Label != "dog" || d.HasDistance() {
		t.Errorf("Expected bad distance as unknown, got %+v", d)
	}
	if d := frame.Detections[2]; d.Position != PositionUnknown || d.Distance != 0.5 {
		t.Errorf("Expected bad position as unknown, got %+v", d)
	}
	if d := frame.Detections[3]; d.Position != PositionUnknown || d.HasDistance() {
		t.Errorf("Expected a non-object entry as non-dangerous, got %+v", d)
	}

	if o := frame.Objects[0]; o.ID != 4 || o.Label != "bag" || o.Box != (Box{}) {
		t.Errorf("Expected bad box as zero, got %+v", o)
	}
	dets, _ := NewSpatialAnalyzer(0).Detect(context.Background(), frame)
	if dets[4].Within(3.0) {
		t.Errorf("Expected a zero box to be non-dangerous, got %+v", dets[4])
	}
}

func TestDecodeFrame_Malformed(t *testing.T) {
	if _, err := DecodeFrame([]byte(`{"seq":`)); !errors.Is(err, ErrInvalidFrame) {
		t.Errorf("Expected ErrInvalidFrame, got %v", err)
	}
}

package workpiece

import (
	"errors"
	"testing"

	"github.com/plrobotics/dispense-core/internal/capability"
)

func square(x, y, side float64) capability.Contour {
	return capability.Contour{
		{X: x, Y: y},
		{X: x + side, Y: y},
		{X: x + side, Y: y + side},
		{X: x, Y: y + side},
	}
}

func rectangle(x, y, w, h float64) capability.Contour {
	return capability.Contour{
		{X: x, Y: y},
		{X: x + w, Y: y},
		{X: x + w, Y: y + h},
		{X: x, Y: y + h},
	}
}

func TestSimilarity_IdenticalShape(t *testing.T) {
	a := square(0, 0, 40)
	b := square(100, 200, 40)

	if got := Similarity(a, b); got < 0.999 {
		t.Errorf("Similarity(translated copies) = %v, want ~1", got)
	}
}

func TestSimilarity_RotatedShape(t *testing.T) {
	a := rectangle(0, 0, 80, 20)
	b := rectangle(0, 0, 80, 20).Rotate(1.5707963)

	if got := Similarity(a, b); got < 0.95 {
		t.Errorf("Similarity(rotated rectangle) = %v, want near 1", got)
	}
}

func TestSimilarity_DifferentShapes(t *testing.T) {
	a := square(0, 0, 40)
	b := rectangle(0, 0, 200, 10)

	if got := Similarity(a, b); got > 0.7 {
		t.Errorf("Similarity(square, thin strip) = %v, want well below threshold", got)
	}
}

func TestSimilarity_DegenerateContour(t *testing.T) {
	line := capability.Contour{{X: 0, Y: 0}, {X: 10, Y: 0}}
	if got := Similarity(line, square(0, 0, 40)); got != 0 {
		t.Errorf("Similarity(degenerate) = %v, want 0", got)
	}
}

func TestMatcher_PicksBestCandidate(t *testing.T) {
	known := []Workpiece{
		{ID: "strip", Name: "strip", Contour: rectangle(0, 0, 200, 10)},
		{ID: "pad", Name: "pad", Contour: square(0, 0, 40)},
	}
	detected := []capability.Contour{square(300, 300, 41)}

	m := NewMatcher(0.85)
	matches := m.Match(detected, known)
	if len(matches) != 1 {
		t.Fatalf("Match() returned %d matches, want 1", len(matches))
	}
	if matches[0].Workpiece.ID != "pad" {
		t.Errorf("matched %q, want pad", matches[0].Workpiece.ID)
	}
	if matches[0].Score < 0.85 {
		t.Errorf("score = %v, want >= threshold", matches[0].Score)
	}
}

func TestMatcher_DropsUnmatchedContours(t *testing.T) {
	known := []Workpiece{
		{ID: "pad", Name: "pad", Contour: square(0, 0, 40)},
	}
	detected := []capability.Contour{
		square(0, 0, 40),
		rectangle(0, 0, 300, 5),
	}

	matches := NewMatcher(0.85).Match(detected, known)
	if len(matches) != 1 {
		t.Fatalf("Match() returned %d matches, want 1", len(matches))
	}
	if matches[0].Workpiece.ID != "pad" {
		t.Errorf("matched %q, want pad", matches[0].Workpiece.ID)
	}
}

func TestMatcher_SameWorkpieceMatchesMultipleCopies(t *testing.T) {
	known := []Workpiece{
		{ID: "pad", Name: "pad", Contour: square(0, 0, 40)},
	}
	detected := []capability.Contour{
		square(10, 10, 40),
		square(200, 200, 40),
	}

	matches := NewMatcher(0.85).Match(detected, known)
	if len(matches) != 2 {
		t.Fatalf("Match() returned %d matches, want 2", len(matches))
	}
	// Detection order is preserved.
	if matches[0].Detected[0].X != 10 || matches[1].Detected[0].X != 200 {
		t.Errorf("matches out of detection order: %v, %v",
			matches[0].Detected[0], matches[1].Detected[0])
	}
}

func TestNewMatcher_NonPositiveThresholdSelectsDefault(t *testing.T) {
	m := NewMatcher(0)
	if m.threshold != DefaultMatchThreshold {
		t.Errorf("threshold = %v, want %v", m.threshold, DefaultMatchThreshold)
	}
}

func TestValidate(t *testing.T) {
	valid := &Workpiece{
		Name:    "gasket",
		Contour: square(0, 0, 40),
		Glue:    GlueSettings{ValveID: 1, Speed: 50},
	}
	if err := Validate(valid); err != nil {
		t.Errorf("Validate(valid) error = %v", err)
	}

	tests := []struct {
		name string
		wp   *Workpiece
	}{
		{"nil", nil},
		{"no name", &Workpiece{Contour: square(0, 0, 40), Glue: GlueSettings{Speed: 50}}},
		{"short contour", &Workpiece{Name: "x", Contour: capability.Contour{{X: 0, Y: 0}}, Glue: GlueSettings{Speed: 50}}},
		{"zero speed", &Workpiece{Name: "x", Contour: square(0, 0, 40)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Validate(tt.wp); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() error = %v, want ErrInvalid", err)
			}
		})
	}
}

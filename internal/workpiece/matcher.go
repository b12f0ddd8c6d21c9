package workpiece

import (
	"math"
	"sort"

	"github.com/plrobotics/dispense-core/internal/capability"
)

// DefaultMatchThreshold is the minimum similarity score for a contour to
// count as a match. Scores are in [0, 1].
const DefaultMatchThreshold = 0.85

// Match pairs a detected contour with the known workpiece it resembles.
// The detected contour carries the part's actual position on the table;
// the workpiece carries the stored bead geometry and glue settings.
type Match struct {
	Workpiece Workpiece
	Detected  capability.Contour
	Score     float64
}

// Matcher scores detected contours against known workpieces by geometric
// similarity. It compares scale- and position-invariant shape descriptors:
// compactness (4πA/P²), bounding-box aspect ratio, and extent (area over
// bounding-box area). Rotation only swaps the aspect ratio, so the
// reciprocal is also tried.
type Matcher struct {
	threshold float64
}

// NewMatcher creates a matcher. A non-positive threshold selects
// DefaultMatchThreshold.
func NewMatcher(threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultMatchThreshold
	}
	return &Matcher{threshold: threshold}
}

// Match pairs each detected contour with its best-scoring known workpiece
// above the threshold. Each workpiece may match several contours (multiple
// copies of the same part on the table). Contours that match nothing are
// simply absent from the result; the caller decides whether that is a
// warning or a fault. Results keep the detection order of the contours.
func (m *Matcher) Match(detected []capability.Contour, known []Workpiece) []Match {
	var matches []Match
	for _, c := range detected {
		best := -1
		bestScore := 0.0
		for i := range known {
			score := Similarity(c, known[i].Contour)
			if score >= m.threshold && score > bestScore {
				best = i
				bestScore = score
			}
		}
		if best >= 0 {
			matches = append(matches, Match{
				Workpiece: known[best],
				Detected:  c,
				Score:     bestScore,
			})
		}
	}
	return matches
}

// Similarity returns a geometric similarity score in [0, 1] between two
// contours. 1 means the shape descriptors agree exactly.
func Similarity(a, b capability.Contour) float64 {
	da, ok := describe(a)
	if !ok {
		return 0
	}
	db, ok := describe(b)
	if !ok {
		return 0
	}

	// Rotation by ~90° swaps width and height; take the better of the two
	// aspect interpretations.
	aspect := math.Max(ratio(da.aspect, db.aspect), ratio(da.aspect, 1/db.aspect))

	scores := []float64{
		ratio(da.compactness, db.compactness),
		aspect,
		ratio(da.extent, db.extent),
		ratio(da.area, db.area),
	}
	sort.Float64s(scores)

	// Weighted mean, least similar descriptor dominating so one agreeing
	// descriptor cannot mask a shape mismatch.
	return 0.5*scores[0] + 0.25*scores[1] + 0.15*scores[2] + 0.1*scores[3]
}

type descriptor struct {
	area        float64
	compactness float64
	aspect      float64
	extent      float64
}

func describe(c capability.Contour) (descriptor, bool) {
	area := c.Area()
	perimeter := c.Perimeter()
	if area <= 0 || perimeter <= 0 {
		return descriptor{}, false
	}
	minP, maxP := c.BoundingBox()
	w := maxP.X - minP.X
	h := maxP.Y - minP.Y
	if w <= 0 || h <= 0 {
		return descriptor{}, false
	}
	return descriptor{
		area:        area,
		compactness: 4 * math.Pi * area / (perimeter * perimeter),
		aspect:      w / h,
		extent:      area / (w * h),
	}, true
}

// ratio maps a pair of positive quantities to min/max, i.e. 1 when equal.
func ratio(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > b {
		return b / a
	}
	return a / b
}

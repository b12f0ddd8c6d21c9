// Package nesting computes non-overlapping positions for multiple
// workpieces within the cell's work area.
//
// The layout is a shelf packer over bounding boxes: items are sorted by
// height, placed left to right in rows, and rotated 90° when that is the
// only way an item fits the remaining row. Bounding boxes are padded by a
// clearance margin so the dispensing nozzle never crosses a neighbouring
// part. There is no partial result: if any item cannot be placed the whole
// layout fails with ErrInfeasible.
package nesting

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/plrobotics/dispense-core/internal/capability"
)

// ErrInfeasible is returned when no non-overlapping layout fits the work
// area. Cycle-fatal: the orchestrator reports it without a partial attempt.
var ErrInfeasible = errors.New("nesting: no feasible layout")

// Bounds is the rectangular work area, millimetres, in the robot base
// frame.
type Bounds struct {
	MinX float64 `yaml:"min_x" json:"min_x"`
	MinY float64 `yaml:"min_y" json:"min_y"`
	MaxX float64 `yaml:"max_x" json:"max_x"`
	MaxY float64 `yaml:"max_y" json:"max_y"`
}

// Width returns the X extent of the bounds.
func (b Bounds) Width() float64 { return b.MaxX - b.MinX }

// Height returns the Y extent of the bounds.
func (b Bounds) Height() float64 { return b.MaxY - b.MinY }

// Contains reports whether p lies inside the bounds.
func (b Bounds) Contains(p capability.Point) bool {
	return p.X >= b.MinX && p.X <= b.MaxX && p.Y >= b.MinY && p.Y <= b.MaxY
}

// Placement is one item's computed position: the translation from its
// detected contour to its nested contour, and whether it was rotated 90°
// around its centroid first.
type Placement struct {
	Index   int     `json:"index"`
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
	Rotated bool    `json:"rotated"`
}

// Apply returns the contour moved to its placed position.
func (p Placement) Apply(c capability.Contour) capability.Contour {
	if p.Rotated {
		c = c.Rotate(math.Pi / 2)
	}
	return c.Translate(p.OffsetX, p.OffsetY)
}

// Layout places every contour inside bounds with at least margin
// millimetres between bounding boxes and the work-area edge. The returned
// placements are indexed like the input. Fails with ErrInfeasible when any
// contour cannot be placed.
func Layout(contours []capability.Contour, bounds Bounds, margin float64) ([]Placement, error) {
	if margin < 0 {
		margin = 0
	}

	type item struct {
		index int
		w, h  float64
	}
	items := make([]item, len(contours))
	for i, c := range contours {
		minP, maxP := c.BoundingBox()
		items[i] = item{
			index: i,
			w:     maxP.X - minP.X + margin,
			h:     maxP.Y - minP.Y + margin,
		}
	}

	// Tallest first gives denser shelves.
	sort.SliceStable(items, func(i, j int) bool { return items[i].h > items[j].h })

	usableW := bounds.Width() - margin
	usableH := bounds.Height() - margin
	placements := make([]Placement, len(contours))

	cursorX := 0.0
	cursorY := 0.0
	rowH := 0.0
	for _, it := range items {
		w, h, rotated := it.w, it.h, false

		if cursorX+w > usableW {
			// Try the rotated footprint before opening a new row.
			if cursorX+h <= usableW && w <= math.Max(rowH, usableH-cursorY-h) {
				w, h, rotated = h, w, true
			} else {
				cursorX = 0
				cursorY += rowH
				rowH = 0
			}
		}
		if w > usableW || cursorY+h > usableH {
			return nil, fmt.Errorf("%w: item %d (%.0fx%.0f mm) in %.0fx%.0f mm work area",
				ErrInfeasible, it.index, it.w, it.h, bounds.Width(), bounds.Height())
		}

		// Target bounding-box origin for this item.
		targetX := bounds.MinX + margin + cursorX
		targetY := bounds.MinY + margin + cursorY

		src := contours[it.index]
		if rotated {
			src = src.Rotate(math.Pi / 2)
		}
		minP, _ := src.BoundingBox()
		placements[it.index] = Placement{
			Index:   it.index,
			OffsetX: targetX - minP.X,
			OffsetY: targetY - minP.Y,
			Rotated: rotated,
		}

		cursorX += w
		if h > rowH {
			rowH = h
		}
	}
	return placements, nil
}

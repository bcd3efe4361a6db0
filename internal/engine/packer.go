package engine

import (
	"sort"

	"github.com/piwi3910/SlabQuote/internal/model"
)

// Packing is the output of Pack.
type Packing struct {
	Placements []model.Placement
	Unplaced   []model.UnplacedPiece
	SlabCount  int // Number of slabs opened, indices 0..SlabCount-1
}

// shelf is a horizontal row on a slab. Its height is fixed by the unit that
// opened it; cursor is where the next unit's left edge goes.
type shelf struct {
	y      float64
	height float64
	cursor float64
}

// slabState tracks the shelves of one open slab.
type slabState struct {
	index   int
	shelves []shelf
	nextY   float64 // Top of the next shelf, kerf already included
}

// shelfPacker implements the shelf heuristic over slabs of one size.
type shelfPacker struct {
	width, height float64
	kerf          float64
	slabs         []*slabState
}

// Pack assigns every unit to a slab position using a deterministic
// best-fit shelf heuristic. Units are sorted by area descending, then by
// width descending, then by id ascending. Each unit goes on the existing
// shelf with the least remaining width that can hold it (un-rotated first,
// then rotated); failing that a new shelf is opened on the first slab with
// height left, and failing that a new slab is opened. Adjacent units and
// shelves are separated by exactly one kerf width.
//
// Units that fit an empty slab in no permitted orientation are reported as
// unplaced; packing continues for the rest.
func Pack(units []Unit, slab model.SlabSize, kerf float64, allowRotation bool) Packing {
	sorted := make([]Unit, len(units))
	copy(sorted, units)
	sort.SliceStable(sorted, func(i, j int) bool {
		ai, aj := sorted[i].Area(), sorted[j].Area()
		if ai != aj {
			return ai > aj
		}
		if sorted[i].Width != sorted[j].Width {
			return sorted[i].Width > sorted[j].Width
		}
		return sorted[i].ID < sorted[j].ID
	})

	sp := &shelfPacker{width: slab.WidthMm, height: slab.HeightMm, kerf: kerf}
	result := Packing{
		Placements: make([]model.Placement, 0, len(units)),
		Unplaced:   []model.UnplacedPiece{},
	}

	for _, u := range sorted {
		canRotate := allowRotation && u.Rotatable && u.Length != u.Width

		if !sp.fitsEmpty(u.Length, u.Width) && !(canRotate && sp.fitsEmpty(u.Width, u.Length)) {
			result.Unplaced = append(result.Unplaced, model.UnplacedPiece{
				PieceID: u.ID,
				Reason:  model.ReasonExceedsSlab,
			})
			continue
		}

		p := sp.place(u, canRotate)
		result.Placements = append(result.Placements, p)
	}

	sortPlacements(result.Placements)
	result.SlabCount = len(sp.slabs)
	return result
}

func (sp *shelfPacker) fitsEmpty(w, h float64) bool {
	return w <= sp.width+fitTolerance && h <= sp.height+fitTolerance
}

// place puts a unit that is known to fit an empty slab.
func (sp *shelfPacker) place(u Unit, canRotate bool) model.Placement {
	orientations := []bool{false}
	if canRotate {
		orientations = append(orientations, true)
	}

	// 1. Best existing shelf, un-rotated before rotated.
	for _, rotated := range orientations {
		w, h := oriented(u, rotated)
		if s, idx, ok := sp.bestShelf(w, h); ok {
			return sp.put(u, s, idx, w, h, rotated)
		}
	}

	// 2. New shelf on the first slab with height remaining.
	for _, st := range sp.slabs {
		for _, rotated := range orientations {
			w, h := oriented(u, rotated)
			if w <= sp.width+fitTolerance && st.nextY+h <= sp.height+fitTolerance {
				idx := sp.openShelf(st, h)
				return sp.put(u, st, idx, w, h, rotated)
			}
		}
	}

	// 3. New slab.
	st := &slabState{index: len(sp.slabs)}
	sp.slabs = append(sp.slabs, st)
	rotated := !sp.fitsEmpty(u.Length, u.Width)
	w, h := oriented(u, rotated)
	idx := sp.openShelf(st, h)
	return sp.put(u, st, idx, w, h, rotated)
}

// bestShelf finds the shelf with the smallest remaining width that still
// holds a w x h rectangle. Ties go to the lower slab, then the lower shelf.
func (sp *shelfPacker) bestShelf(w, h float64) (*slabState, int, bool) {
	var best *slabState
	bestIdx := -1
	bestRemaining := 0.0

	for _, st := range sp.slabs {
		for i, sh := range st.shelves {
			remaining := sp.width - sh.cursor
			if w > remaining+fitTolerance || h > sh.height+fitTolerance {
				continue
			}
			if best == nil || remaining < bestRemaining {
				best, bestIdx, bestRemaining = st, i, remaining
			}
		}
	}
	return best, bestIdx, best != nil
}

func (sp *shelfPacker) openShelf(st *slabState, h float64) int {
	st.shelves = append(st.shelves, shelf{y: st.nextY, height: h})
	st.nextY += h + sp.kerf
	return len(st.shelves) - 1
}

func (sp *shelfPacker) put(u Unit, st *slabState, shelfIdx int, w, h float64, rotated bool) model.Placement {
	sh := &st.shelves[shelfIdx]
	p := model.Placement{
		PieceID:   u.ID,
		SourceID:  u.PieceID,
		Kind:      u.Kind,
		SlabIndex: st.index,
		X:         sh.cursor,
		Y:         sh.y,
		Width:     w,
		Height:    h,
		Rotated:   rotated,
	}
	sh.cursor += w + sp.kerf
	return p
}

// oriented returns the placed extent of a unit along X and Y.
func oriented(u Unit, rotated bool) (float64, float64) {
	if rotated {
		return u.Width, u.Length
	}
	return u.Length, u.Width
}

// sortPlacements orders placements by slab, then top-to-bottom, left-to-right.
func sortPlacements(ps []model.Placement) {
	sort.SliceStable(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.SlabIndex != b.SlabIndex {
			return a.SlabIndex < b.SlabIndex
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.PieceID < b.PieceID
	})
}

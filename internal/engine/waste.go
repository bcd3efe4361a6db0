package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/piwi3910/SlabQuote/internal/model"
)

// MinOffcutDimension is the minimum width or height (in mm) for a remnant
// to be worth keeping. Stone remnants below this end up as waste.
const MinOffcutDimension = 200.0

// MinOffcutArea is the minimum area (in sq mm) for a remnant to be kept.
const MinOffcutArea = 120000.0 // roughly a 300 x 400mm vanity top

// SlabInfo describes one opened slab for accounting.
type SlabInfo struct {
	Index      int
	MaterialID string
	Size       model.SlabSize
}

// Accounting holds per-slab usage and run totals.
type Accounting struct {
	Slabs          []model.SlabUsage
	TotalUsedArea  float64
	TotalWasteArea float64
	WastePercent   float64
}

// Account derives used and waste area from placements. It is a pure
// function; the only failure is a slab with no area.
func Account(placements []model.Placement, slabs []SlabInfo, kerf float64) (Accounting, error) {
	acc := Accounting{Slabs: make([]model.SlabUsage, 0, len(slabs))}

	bySlab := make(map[int][]model.Placement, len(slabs))
	for _, p := range placements {
		bySlab[p.SlabIndex] = append(bySlab[p.SlabIndex], p)
	}

	ordered := append([]SlabInfo(nil), slabs...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	var totalArea float64
	for _, s := range ordered {
		area := s.Size.Area()
		if area <= 0 {
			return Accounting{}, model.NewInputError("slab %d has no area", s.Index)
		}

		usage := model.SlabUsage{
			Index:      s.Index,
			MaterialID: s.MaterialID,
			WidthMm:    s.Size.WidthMm,
			HeightMm:   s.Size.HeightMm,
		}
		for _, p := range bySlab[s.Index] {
			usage.Placements++
			usage.UsedArea += p.Area()
			if p.Kind == model.KindLamination {
				usage.LaminationArea += p.Area()
			}
		}
		usage.WasteArea = area - usage.UsedArea
		usage.WastePercent = usage.WasteArea / area * 100.0
		usage.Offcuts = detectOffcuts(s, bySlab[s.Index], kerf)

		acc.TotalUsedArea += usage.UsedArea
		acc.TotalWasteArea += usage.WasteArea
		totalArea += area
		acc.Slabs = append(acc.Slabs, usage)
	}

	if totalArea > 0 {
		acc.WastePercent = acc.TotalWasteArea / totalArea * 100.0
	}
	return acc, nil
}

// detectOffcuts finds the large remnant strips to the right of and below
// everything placed on a slab. Offcuts are informational; their area is
// still counted as waste.
func detectOffcuts(s SlabInfo, placements []model.Placement, kerf float64) []model.Offcut {
	if len(placements) == 0 {
		return nil
	}
	slabW, slabH := s.Size.WidthMm, s.Size.HeightMm

	var maxRight, maxBottom float64
	for _, p := range placements {
		maxRight = math.Max(maxRight, p.X+p.Width+kerf)
		maxBottom = math.Max(maxBottom, p.Y+p.Height+kerf)
	}

	var offcuts []model.Offcut
	usable := func(w, h float64) bool {
		return w >= MinOffcutDimension && h >= MinOffcutDimension && w*h >= MinOffcutArea
	}

	// Right strip spans the full slab height.
	if rightW := slabW - maxRight; usable(rightW, slabH) {
		offcuts = append(offcuts, model.Offcut{X: maxRight, Y: 0, Width: rightW, Height: slabH})
	}
	// Bottom strip stops where the right strip begins.
	bottomW := math.Min(maxRight, slabW)
	if bottomH := slabH - maxBottom; usable(bottomW, bottomH) {
		offcuts = append(offcuts, model.Offcut{X: 0, Y: maxBottom, Width: bottomW, Height: bottomH})
	}

	sort.SliceStable(offcuts, func(i, j int) bool {
		return offcuts[i].Area() > offcuts[j].Area()
	})
	for i := range offcuts {
		offcuts[i].ID = fmt.Sprintf("S%d-O%d", s.Index, i+1)
	}
	return offcuts
}

package engine

import (
	"fmt"
	"math"

	"github.com/piwi3910/SlabQuote/internal/model"
)

// fitTolerance absorbs floating point noise in dimension comparisons.
const fitTolerance = 0.001

// DefaultBuildUpMm is the height of a standard laminated edge strip.
const DefaultBuildUpMm = 40.0

// Laminator expands units that need extra packable rectangles: oversize
// pieces are split into joined sections and laminated edges get a
// companion strip.
type Laminator struct {
	BuildUpMm float64 // Strip height for standard lamination
	KerfMm    float64 // Consumed at every join seam
}

// Expansion is the output of Laminator.Expand.
type Expansion struct {
	Units   []Unit
	Joins   []model.JoinSeam
	Summary model.LaminationSummary
}

// Expand splits oversize units and adds lamination strips. Output order is
// deterministic: each input unit is followed by its sections and strips.
func (l Laminator) Expand(units []Unit) Expansion {
	exp := Expansion{
		Units:   make([]Unit, 0, len(units)),
		Joins:   []model.JoinSeam{},
		Summary: model.LaminationSummary{SurchargedPieceIDs: []string{}},
	}

	for _, u := range units {
		if fitsSlab(u) {
			exp.Units = append(exp.Units, u)
			l.addStrips(&exp, u, u.Lamination)
			continue
		}

		sections, seam, ok := l.split(u)
		if !ok {
			// Cannot be made from any slab; the packer reports it.
			exp.Units = append(exp.Units, u)
			continue
		}
		exp.Joins = append(exp.Joins, seam)
		exp.Summary.SurchargedPieceIDs = append(exp.Summary.SurchargedPieceIDs, u.PieceID)

		laminated := false
		for i, s := range sections {
			exp.Units = append(exp.Units, s)
			edges := sectionEdges(u, i, len(sections))
			if edges.HasAny() {
				laminated = true
			}
			l.addStrips(&exp, s, edges)
		}
		if laminated {
			exp.Summary.LaminatedCount++
		}
	}

	exp.Summary.LaminationLm = math.Round(exp.Summary.LaminationLm*1000) / 1000
	return exp
}

// fitsSlab reports whether a unit fits its slab in any permitted orientation.
func fitsSlab(u Unit) bool {
	w, h := u.Slab.WidthMm, u.Slab.HeightMm
	if u.Length <= w+fitTolerance && u.Width <= h+fitTolerance {
		return true
	}
	return u.Rotatable && u.Width <= w+fitTolerance && u.Length <= h+fitTolerance
}

// split cuts an oversize unit along its longer side into equal sections.
// The shorter side must fit across the slab in a permitted orientation; of
// the admissible orientations the one allowing the longest section wins.
func (l Laminator) split(u Unit) ([]Unit, model.JoinSeam, bool) {
	alongLength := u.Length >= u.Width
	long, short := u.Length, u.Width
	if !alongLength {
		long, short = u.Width, u.Length
	}

	sw, sh := u.Slab.WidthMm, u.Slab.HeightMm
	maxSection := 0.0
	// Long side along X: unrotated when the long side is the length.
	if (alongLength || u.Rotatable) && short <= sh+fitTolerance {
		maxSection = math.Max(maxSection, sw)
	}
	// Long side along Y.
	if (!alongLength || u.Rotatable) && short <= sw+fitTolerance {
		maxSection = math.Max(maxSection, sh)
	}
	if maxSection <= 0 || long <= maxSection+fitTolerance {
		return nil, model.JoinSeam{}, false
	}

	kerf := l.KerfMm
	n := int(math.Ceil((long + kerf) / (maxSection + kerf)))
	if n < 2 {
		n = 2
	}
	sectionLen := (long - float64(n-1)*kerf) / float64(n)
	if sectionLen <= 0 {
		return nil, model.JoinSeam{}, false
	}

	sections := make([]Unit, n)
	ids := make([]string, n)
	for i := range sections {
		s := u
		s.ID = fmt.Sprintf("%s-J%d", u.PieceID, i+1)
		s.Kind = model.KindJoinSection
		if alongLength {
			s.Length = sectionLen
		} else {
			s.Width = sectionLen
		}
		sections[i] = s
		ids[i] = s.ID
	}

	seam := model.JoinSeam{
		PieceID:             u.PieceID,
		SubPieceIDs:         ids,
		JoinCount:           n - 1,
		JoinLengthLm:        float64(n-1) * short / 1000.0,
		GrainMatchSurcharge: true,
	}
	return sections, seam, true
}

// sectionEdges returns the laminated edges that survive on section i of n.
// Seam edges created by the split are never laminated.
func sectionEdges(u Unit, i, n int) model.LaminatedEdges {
	e := u.Lamination
	first, last := i == 0, i == n-1
	if u.Length >= u.Width {
		// Split across the length: Left/Right are end edges.
		e.Left = e.Left && first
		e.Right = e.Right && last
	} else {
		e.Front = e.Front && first
		e.Back = e.Back && last
	}
	return e
}

// addStrips appends one companion strip per laminated edge of u.
func (l Laminator) addStrips(exp *Expansion, u Unit, edges model.LaminatedEdges) {
	if !edges.HasAny() {
		return
	}
	if u.Kind == model.KindPiece {
		exp.Summary.LaminatedCount++
	}

	stripW := l.BuildUpMm
	if stripW <= 0 {
		stripW = DefaultBuildUpMm
	}
	if u.LaminationMethod == model.LaminationMitred {
		stripW += u.Thickness
	}

	for _, edge := range []struct {
		on     bool
		code   string
		length float64
	}{
		{edges.Front, "F", u.Length},
		{edges.Back, "B", u.Length},
		{edges.Left, "L", u.Width},
		{edges.Right, "R", u.Width},
	} {
		if !edge.on {
			continue
		}
		strip := u
		strip.ID = fmt.Sprintf("%s-L%s", u.ID, edge.code)
		strip.Kind = model.KindLamination
		strip.Length = edge.length
		strip.Width = stripW
		strip.Lamination = model.LaminatedEdges{}
		exp.Units = append(exp.Units, strip)
		exp.Summary.LaminationLm += edge.length / 1000.0
	}
}

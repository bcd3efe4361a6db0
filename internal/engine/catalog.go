package engine

import (
	"fmt"

	"github.com/piwi3910/SlabQuote/internal/model"
)

// Unit is one packable rectangle: an ordered piece copy, a section of an
// oversize piece, or a lamination strip.
type Unit struct {
	ID               string
	PieceID          string // Copy-level piece id the unit belongs to
	Kind             model.PlacementKind
	Length           float64 // Along X when not rotated
	Width            float64 // Along Y when not rotated
	Thickness        float64
	MaterialID       string
	Slab             model.SlabSize
	Rotatable        bool
	Grain            model.Grain
	Lamination       model.LaminatedEdges
	LaminationMethod model.LaminationMethod
}

// Area returns the unit area in square mm.
func (u Unit) Area() float64 {
	return u.Length * u.Width
}

// BuildCatalog validates a snapshot and normalises its pieces into packable
// units, one per ordered copy, in input order. Rotation is resolved here:
// the run must allow it, the piece must allow it and the piece must not
// carry directional veining.
func BuildCatalog(snap model.Snapshot) ([]Unit, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}

	units := make([]Unit, 0, len(snap.Pieces))
	for _, p := range snap.Pieces {
		slab, _ := snap.SlabFor(p.MaterialID) // resolvable, checked by Validate

		method := p.LaminationMethod
		if method == "" {
			method = model.LaminationStandard
		}

		count := p.Count()
		for i := 1; i <= count; i++ {
			id := p.ID
			if count > 1 {
				id = fmt.Sprintf("%s#%d", p.ID, i)
			}
			units = append(units, Unit{
				ID:               id,
				PieceID:          id,
				Kind:             model.KindPiece,
				Length:           p.LengthMm,
				Width:            p.WidthMm,
				Thickness:        p.ThicknessMm,
				MaterialID:       p.MaterialID,
				Slab:             slab,
				Rotatable:        snap.AllowRotation && p.RotationAllowed && !p.Grain.Directional(),
				Grain:            p.Grain,
				Lamination:       p.Lamination,
				LaminationMethod: method,
			})
		}
	}

	// Quantity expansion can collide with a literal id such as "P1#2".
	if err := uniqueIDs(units, "quantity expansion"); err != nil {
		return nil, err
	}
	return units, nil
}

// uniqueIDs rejects a unit list in which two units share an id.
func uniqueIDs(units []Unit, stage string) error {
	seen := make(map[string]bool, len(units))
	for _, u := range units {
		if seen[u.ID] {
			return model.NewInputError("duplicate piece id %s after %s", u.ID, stage)
		}
		seen[u.ID] = true
	}
	return nil
}

package model

import (
	"math"
	"strings"
)

// SlabSize is the raw slab format for a material.
type SlabSize struct {
	WidthMm  float64 `json:"widthMm"`  // Long side, along X
	HeightMm float64 `json:"heightMm"` // Short side, along Y
}

// NewSlabSize returns a validated slab size.
func NewSlabSize(width, height float64) (SlabSize, error) {
	s := SlabSize{WidthMm: width, HeightMm: height}
	if err := s.Validate(); err != nil {
		return SlabSize{}, err
	}
	return s, nil
}

// Validate rejects non-positive slab dimensions.
func (s SlabSize) Validate() error {
	if !positive(s.WidthMm) || !positive(s.HeightMm) {
		return NewInputError("slab dimensions must be positive (got %gx%g)", s.WidthMm, s.HeightMm)
	}
	return nil
}

// Area returns the slab area in square mm.
func (s SlabSize) Area() float64 {
	return s.WidthMm * s.HeightMm
}

// IsZero reports whether the slab size is unset.
func (s SlabSize) IsZero() bool {
	return s.WidthMm == 0 && s.HeightMm == 0
}

// Snapshot is everything one optimisation run needs: the quote's pieces and
// the slab and machine parameters in force when the run was requested.
type Snapshot struct {
	Pieces        []Piece             `json:"pieces"`
	Slab          SlabSize            `json:"slab"`                    // Default slab for every material
	MaterialSlabs map[string]SlabSize `json:"materialSlabs,omitempty"` // Per-material overrides
	KerfMm        float64             `json:"kerfMm"`
	AllowRotation bool                `json:"allowRotation"`
}

// SlabFor resolves the slab size for a material, preferring the override.
func (s Snapshot) SlabFor(materialID string) (SlabSize, bool) {
	if sz, ok := s.MaterialSlabs[materialID]; ok && !sz.IsZero() {
		return sz, true
	}
	if !s.Slab.IsZero() {
		return s.Slab, true
	}
	return SlabSize{}, false
}

// Validate performs the boundary checks that make a run possible at all.
func (s Snapshot) Validate() error {
	if len(s.Pieces) == 0 {
		return NewInputError("piece list is empty")
	}
	if s.KerfMm < 0 || math.IsNaN(s.KerfMm) || math.IsInf(s.KerfMm, 0) {
		return NewInputError("kerf width must be a non-negative number (got %g)", s.KerfMm)
	}
	if !s.Slab.IsZero() {
		if err := s.Slab.Validate(); err != nil {
			return err
		}
	}
	for mat, sz := range s.MaterialSlabs {
		if err := sz.Validate(); err != nil {
			return WrapError(CodeInput, err, "slab for material %s", mat)
		}
	}

	seen := make(map[string]bool, len(s.Pieces))
	for _, p := range s.Pieces {
		if err := p.Validate(); err != nil {
			return err
		}
		id := strings.TrimSpace(p.ID)
		if seen[id] {
			return NewInputError("duplicate piece id %s", id)
		}
		seen[id] = true
		if _, ok := s.SlabFor(p.MaterialID); !ok {
			return NewInputError("piece %s: no slab size for material %s", p.ID, p.MaterialID)
		}
	}
	return nil
}

// Clone returns a deep copy so a pending snapshot cannot be mutated by its producer.
func (s Snapshot) Clone() Snapshot {
	cp := s
	cp.Pieces = append([]Piece(nil), s.Pieces...)
	if s.MaterialSlabs != nil {
		cp.MaterialSlabs = make(map[string]SlabSize, len(s.MaterialSlabs))
		for k, v := range s.MaterialSlabs {
			cp.MaterialSlabs[k] = v
		}
	}
	return cp
}

// Defaults are the run settings used when a change request leaves them out.
type Defaults struct {
	Slab          SlabSize
	KerfMm        float64
	AllowRotation bool
}

// ChangeSet is the wire form of a snapshot sent by the quote editor. Run
// settings are optional and fall back to Defaults.
type ChangeSet struct {
	Pieces        []Piece             `json:"pieces" validate:"required,min=1"`
	Slab          *SlabSize           `json:"slab,omitempty"`
	MaterialSlabs map[string]SlabSize `json:"materialSlabs,omitempty"`
	KerfMm        *float64            `json:"kerfMm,omitempty" validate:"omitempty,gte=0"`
	AllowRotation *bool               `json:"allowRotation,omitempty"`
}

// Snapshot resolves the change set against d. It does not validate; the
// engine does that at the start of a run.
func (c ChangeSet) Snapshot(d Defaults) Snapshot {
	snap := Snapshot{
		Pieces:        c.Pieces,
		Slab:          d.Slab,
		MaterialSlabs: c.MaterialSlabs,
		KerfMm:        d.KerfMm,
		AllowRotation: d.AllowRotation,
	}
	if c.Slab != nil && !c.Slab.IsZero() {
		snap.Slab = *c.Slab
	}
	if c.KerfMm != nil {
		snap.KerfMm = *c.KerfMm
	}
	if c.AllowRotation != nil {
		snap.AllowRotation = *c.AllowRotation
	}
	return snap.Clone()
}

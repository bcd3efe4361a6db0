package model

import (
	"math"
	"strings"
)

// Grain represents the grain (veining) direction constraint for a piece.
type Grain int

const (
	GrainNone       Grain = iota // No visible veining, can rotate freely
	GrainLengthwise              // Veining runs along the piece length
	GrainWidthwise               // Veining runs along the piece width
)

func (g Grain) String() string {
	switch g {
	case GrainLengthwise:
		return "Lengthwise"
	case GrainWidthwise:
		return "Widthwise"
	default:
		return "None"
	}
}

// ParseGrain accepts the names used in piece lists and JSON: none,
// lengthwise, widthwise (case-insensitive). Empty means none.
func ParseGrain(s string) (Grain, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "no", "n":
		return GrainNone, nil
	case "lengthwise", "length", "l", "h", "horizontal":
		return GrainLengthwise, nil
	case "widthwise", "width", "w", "v", "vertical":
		return GrainWidthwise, nil
	}
	return GrainNone, NewInputError("unknown grain %q", s)
}

func (g Grain) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(g.String())), nil
}

func (g *Grain) UnmarshalText(b []byte) error {
	v, err := ParseGrain(string(b))
	if err != nil {
		return err
	}
	*g = v
	return nil
}

// Directional reports whether the grain pins the piece orientation on the slab.
func (g Grain) Directional() bool {
	return g == GrainLengthwise || g == GrainWidthwise
}

// LaminationMethod selects how a laminated (built-up) edge is formed.
type LaminationMethod string

const (
	LaminationStandard LaminationMethod = "standard" // Strip glued under the edge
	LaminationMitred   LaminationMethod = "mitred"   // 45° mitre, strip carries the face thickness
)

// LaminatedEdges marks which edges of a piece receive a laminated strip.
// Front and Back run along the piece length; Left and Right along its width.
type LaminatedEdges struct {
	Front bool `json:"front"`
	Back  bool `json:"back"`
	Left  bool `json:"left"`
	Right bool `json:"right"`
}

// HasAny returns true if at least one edge is laminated.
func (e LaminatedEdges) HasAny() bool {
	return e.Front || e.Back || e.Left || e.Right
}

// EdgeCount returns the number of laminated edges.
func (e LaminatedEdges) EdgeCount() int {
	n := 0
	for _, on := range []bool{e.Front, e.Back, e.Left, e.Right} {
		if on {
			n++
		}
	}
	return n
}

// LinearLength returns the total laminated edge length in mm for a piece
// of the given length and width.
func (e LaminatedEdges) LinearLength(length, width float64) float64 {
	var total float64
	if e.Front {
		total += length
	}
	if e.Back {
		total += length
	}
	if e.Left {
		total += width
	}
	if e.Right {
		total += width
	}
	return total
}

// String returns a compact representation such as "F+B+L".
func (e LaminatedEdges) String() string {
	var parts []string
	if e.Front {
		parts = append(parts, "F")
	}
	if e.Back {
		parts = append(parts, "B")
	}
	if e.Left {
		parts = append(parts, "L")
	}
	if e.Right {
		parts = append(parts, "R")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, "+")
}

// MaxQuoteIDLen is the longest quote id accepted and stored.
const MaxQuoteIDLen = 128

// Piece is a single ordered benchtop, splashback or panel to be cut.
// A piece is immutable for the duration of an optimisation run.
type Piece struct {
	ID               string           `json:"id"`
	Label            string           `json:"label,omitempty"`
	LengthMm         float64          `json:"lengthMm"`
	WidthMm          float64          `json:"widthMm"`
	ThicknessMm      float64          `json:"thicknessMm"`
	MaterialID       string           `json:"materialId"`
	RotationAllowed  bool             `json:"rotationAllowed"`
	Grain            Grain            `json:"grain"`
	Lamination       LaminatedEdges   `json:"laminatedEdges"`
	LaminationMethod LaminationMethod `json:"laminationMethod,omitempty"`
	Quantity         int              `json:"quantity,omitempty"` // 0 is treated as 1
}

// NewPiece builds a rotatable, unlaminated piece and validates it.
func NewPiece(id, materialID string, length, width, thickness float64) (Piece, error) {
	p := Piece{
		ID:              id,
		Label:           id,
		LengthMm:        length,
		WidthMm:         width,
		ThicknessMm:     thickness,
		MaterialID:      materialID,
		RotationAllowed: true,
		Grain:           GrainNone,
		Quantity:        1,
	}
	if err := p.Validate(); err != nil {
		return Piece{}, err
	}
	return p, nil
}

// Validate checks the piece at the engine boundary.
func (p Piece) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return NewInputError("piece id is required")
	}
	if strings.TrimSpace(p.MaterialID) == "" {
		return NewInputError("piece %s: material is required", p.ID)
	}
	if !positive(p.LengthMm) || !positive(p.WidthMm) {
		return NewInputError("piece %s: dimensions must be positive (got %gx%g)", p.ID, p.LengthMm, p.WidthMm)
	}
	if !positive(p.ThicknessMm) {
		return NewInputError("piece %s: thickness must be positive (got %g)", p.ID, p.ThicknessMm)
	}
	if p.Quantity < 0 {
		return NewInputError("piece %s: quantity must not be negative", p.ID)
	}
	switch p.LaminationMethod {
	case "", LaminationStandard, LaminationMitred:
	default:
		return NewInputError("piece %s: unknown lamination method %q", p.ID, p.LaminationMethod)
	}
	return nil
}

// Count returns the number of physical copies ordered.
func (p Piece) Count() int {
	if p.Quantity <= 0 {
		return 1
	}
	return p.Quantity
}

// Area returns the face area of one copy in square mm.
func (p Piece) Area() float64 {
	return p.LengthMm * p.WidthMm
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

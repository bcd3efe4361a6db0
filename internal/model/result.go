package model

import "time"

// PlacementKind distinguishes ordered pieces from units generated for them.
type PlacementKind string

const (
	KindPiece       PlacementKind = "piece"
	KindLamination  PlacementKind = "lamination"   // Companion strip for a laminated edge
	KindJoinSection PlacementKind = "join-section" // Section of an oversize piece
)

// Placement is one packable unit positioned on a slab.
type Placement struct {
	PieceID   string        `json:"pieceId"`
	SourceID  string        `json:"sourceId,omitempty"` // Ordered piece this unit came from
	Kind      PlacementKind `json:"kind,omitempty"`
	SlabIndex int           `json:"slabIndex"`
	X         float64       `json:"x"`      // mm from the slab's left edge
	Y         float64       `json:"y"`      // mm from the slab's top edge
	Width     float64       `json:"width"`  // Placed extent along X
	Height    float64       `json:"height"` // Placed extent along Y
	Rotated   bool          `json:"rotated"`
}

// Area returns the placed area in square mm.
func (p Placement) Area() float64 {
	return p.Width * p.Height
}

// Inflated returns the placement's bounding box grown by half the kerf on
// every side, as (x0, y0, x1, y1).
func (p Placement) Inflated(kerf float64) (x0, y0, x1, y1 float64) {
	h := kerf / 2
	return p.X - h, p.Y - h, p.X + p.Width + h, p.Y + p.Height + h
}

// UnplacedPiece records a unit that could not be put on any slab.
type UnplacedPiece struct {
	PieceID string `json:"pieceId"`
	Reason  string `json:"reason"`
}

// JoinSeam records an oversize piece split into joined sections.
type JoinSeam struct {
	PieceID             string   `json:"pieceId"`
	SubPieceIDs         []string `json:"subPieceIds"`
	JoinLengthLm        float64  `json:"joinLengthLm"`
	JoinCount           int      `json:"joinCount"`
	GrainMatchSurcharge bool     `json:"grainMatchSurcharge"`
}

// LaminationSummary is read by pricing to charge build-up edges and joins.
type LaminationSummary struct {
	LaminatedCount     int      `json:"laminatedCount"`
	LaminationLm       float64  `json:"laminationLm"`
	SurchargedPieceIDs []string `json:"surchargedPieceIds"`
}

// Offcut is a reusable rectangular remnant left on a slab.
type Offcut struct {
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Area returns the offcut area in square mm.
func (o Offcut) Area() float64 {
	return o.Width * o.Height
}

// SlabUsage is the per-slab material account.
type SlabUsage struct {
	Index          int      `json:"index"`
	MaterialID     string   `json:"materialId"`
	WidthMm        float64  `json:"widthMm"`
	HeightMm       float64  `json:"heightMm"`
	Placements     int      `json:"placements"`
	UsedArea       float64  `json:"usedArea"`
	LaminationArea float64  `json:"laminationArea"` // Part of UsedArea taken by lamination strips
	WasteArea      float64  `json:"wasteArea"`
	WastePercent   float64  `json:"wastePercent"`
	Offcuts        []Offcut `json:"offcuts,omitempty"`
}

// TotalArea returns the slab area in square mm.
func (s SlabUsage) TotalArea() float64 {
	return s.WidthMm * s.HeightMm
}

// OptimizationResult is the committed layout for a quote. It is replaced
// wholesale on every accepted write and never mutated in place.
type OptimizationResult struct {
	QuoteID           string            `json:"quoteId,omitempty"`
	Placements        []Placement       `json:"placements"`
	TotalSlabs        int               `json:"totalSlabs"`
	TotalUsedArea     float64           `json:"totalUsedArea"`
	TotalWasteArea    float64           `json:"totalWasteArea"`
	WastePercent      float64           `json:"wastePercent"`
	UnplacedPieces    []UnplacedPiece   `json:"unplacedPieces"`
	LaminationSummary LaminationSummary `json:"laminationSummary"`
	Joins             []JoinSeam        `json:"joins"`
	Slabs             []SlabUsage       `json:"slabs"`
	KerfMm            float64           `json:"kerfMm"`
	Sequence          int64             `json:"sequence"`
	CreatedAt         time.Time         `json:"createdAt"`
}

// PlacementsOn returns the placements for one slab, in result order.
func (r OptimizationResult) PlacementsOn(slabIndex int) []Placement {
	var out []Placement
	for _, p := range r.Placements {
		if p.SlabIndex == slabIndex {
			out = append(out, p)
		}
	}
	return out
}

// Efficiency returns the overall material usage percentage.
func (r OptimizationResult) Efficiency() float64 {
	if r.TotalSlabs == 0 {
		return 0
	}
	return 100.0 - r.WastePercent
}

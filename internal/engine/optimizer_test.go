package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/SlabQuote/internal/model"
)

func snapshotOf(kerf float64, pieces ...model.Piece) model.Snapshot {
	return model.Snapshot{
		Pieces:        pieces,
		Slab:          stdSlab,
		KerfMm:        kerf,
		AllowRotation: true,
	}
}

// expandedIDs lists every unit id the pipeline is expected to account for.
func expandedIDs(t *testing.T, o *Optimizer, snap model.Snapshot) []string {
	t.Helper()
	units, err := BuildCatalog(snap)
	require.NoError(t, err)
	exp := Laminator{BuildUpMm: o.Settings.LaminationBuildUpMm, KerfMm: snap.KerfMm}.Expand(units)
	return unitIDs(exp.Units)
}

func assertInvariants(t *testing.T, o *Optimizer, snap model.Snapshot, res model.OptimizationResult) {
	t.Helper()

	// Every expanded id appears exactly once across placements and unplaced.
	seen := make(map[string]int)
	for _, p := range res.Placements {
		seen[p.PieceID]++
	}
	for _, u := range res.UnplacedPieces {
		seen[u.PieceID]++
	}
	ids := expandedIDs(t, o, snap)
	assert.Len(t, seen, len(ids))
	for _, id := range ids {
		assert.Equal(t, 1, seen[id], "piece %s accounted %d times", id, seen[id])
	}

	// No two kerf-inflated boxes overlap on the same slab, and every
	// placement stays on its slab.
	for i, a := range res.Placements {
		slab := res.Slabs[a.SlabIndex]
		assert.GreaterOrEqual(t, a.X, 0.0)
		assert.GreaterOrEqual(t, a.Y, 0.0)
		assert.LessOrEqual(t, a.X+a.Width, slab.WidthMm+fitTolerance, "%s off slab", a.PieceID)
		assert.LessOrEqual(t, a.Y+a.Height, slab.HeightMm+fitTolerance, "%s off slab", a.PieceID)

		ax0, ay0, ax1, ay1 := a.Inflated(snap.KerfMm)
		for _, b := range res.Placements[i+1:] {
			if b.SlabIndex != a.SlabIndex {
				continue
			}
			bx0, by0, bx1, by1 := b.Inflated(snap.KerfMm)
			overlap := ax0 < bx1-fitTolerance && ax1 > bx0+fitTolerance &&
				ay0 < by1-fitTolerance && ay1 > by0+fitTolerance
			assert.False(t, overlap, "%s overlaps %s", a.PieceID, b.PieceID)
		}
	}

	// Area bounds.
	var capacity float64
	for _, s := range res.Slabs {
		capacity += s.TotalArea()
	}
	assert.LessOrEqual(t, res.TotalUsedArea, capacity+fitTolerance)
	if len(res.Placements) > 0 {
		assert.GreaterOrEqual(t, res.WastePercent, 0.0)
		assert.Less(t, res.WastePercent, 100.0)
	}
	assert.Equal(t, len(res.Slabs), res.TotalSlabs)
}

func TestOptimise_ScenarioA_ThreeBenchtopsOneSlab(t *testing.T) {
	o := New(DefaultSettings())
	snap := snapshotOf(8,
		testPiece(t, "P1", 1200, 600),
		testPiece(t, "P2", 1200, 600),
		testPiece(t, "P3", 1200, 600),
	)

	res, err := o.Optimise(snap)
	require.NoError(t, err)

	assert.Equal(t, 1, res.TotalSlabs)
	assert.Empty(t, res.UnplacedPieces)
	require.Len(t, res.Placements, 3)
	for _, p := range res.Placements {
		assert.Equal(t, 0, p.SlabIndex)
	}
	// 3 x 1200 x 600 = 2,160,000 of 4,200,000 mm²
	assert.Equal(t, 2160000.0, res.TotalUsedArea)
	assert.Equal(t, 2040000.0, res.TotalWasteArea)
	assert.InDelta(t, 48.571428, res.WastePercent, 1e-5)
	assertInvariants(t, o, snap, res)
}

func TestOptimise_ScenarioB_OversizeJoin(t *testing.T) {
	o := New(DefaultSettings())
	snap := snapshotOf(8, testPiece(t, "P1", 3200, 600))

	res, err := o.Optimise(snap)
	require.NoError(t, err)

	require.Len(t, res.Joins, 1)
	assert.Equal(t, 1, res.Joins[0].JoinCount)
	assert.Contains(t, res.LaminationSummary.SurchargedPieceIDs, "P1")

	placed := map[string]bool{}
	for _, p := range res.Placements {
		placed[p.PieceID] = true
		assert.Equal(t, "P1", p.SourceID)
		assert.Equal(t, model.KindJoinSection, p.Kind)
	}
	for _, id := range res.Joins[0].SubPieceIDs {
		assert.True(t, placed[id], "section %s not placed", id)
	}
	assert.Empty(t, res.UnplacedPieces)
	assertInvariants(t, o, snap, res)
}

func TestOptimise_GeneratedIDCollidesWithLiteralID(t *testing.T) {
	o := New(DefaultSettings())

	tests := []struct {
		name   string
		pieces []model.Piece
	}{
		{"join section", []model.Piece{testPiece(t, "P1", 3200, 600), testPiece(t, "P1-J1", 500, 400)}},
		{"lamination strip", func() []model.Piece {
			p := testPiece(t, "P1", 1200, 600)
			p.Lamination = model.LaminatedEdges{Front: true}
			return []model.Piece{p, testPiece(t, "P1-LF", 500, 400)}
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Optimise(snapshotOf(8, tt.pieces...))
			require.Error(t, err)
			assert.True(t, model.IsCode(err, model.CodeInput))
			assert.Contains(t, err.Error(), "duplicate piece id")
		})
	}
}

func TestOptimise_ScenarioC_TooLargeEverywhere(t *testing.T) {
	o := New(DefaultSettings())
	snap := snapshotOf(8, testPiece(t, "P1", 4000, 4000))

	res, err := o.Optimise(snap)
	require.NoError(t, err)

	assert.Empty(t, res.Placements)
	require.Len(t, res.UnplacedPieces, 1)
	assert.Equal(t, model.UnplacedPiece{PieceID: "P1", Reason: "exceeds slab bounds"}, res.UnplacedPieces[0])
	assert.Empty(t, res.Joins)
	assert.Equal(t, 0, res.TotalSlabs)
	assert.Equal(t, 0.0, res.WastePercent)
}

func TestOptimise_InputErrorBeforePacking(t *testing.T) {
	o := New(DefaultSettings())
	_, err := o.Optimise(model.Snapshot{Slab: stdSlab})
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.CodeInput))
}

func TestOptimise_Deterministic(t *testing.T) {
	o := New(DefaultSettings())
	snap := randomSnapshot(t, 42, 40)

	first, err := o.Optimise(snap)
	require.NoError(t, err)
	second, err := o.Optimise(snap)
	require.NoError(t, err)

	a, err := json.Marshal(first.Placements)
	require.NoError(t, err)
	b, err := json.Marshal(second.Placements)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, first, second)
}

func TestOptimise_RandomisedInvariants(t *testing.T) {
	o := New(DefaultSettings())
	for seed := int64(1); seed <= 25; seed++ {
		snap := randomSnapshot(t, seed, 30)
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			res, err := o.Optimise(snap)
			require.NoError(t, err)
			assertInvariants(t, o, snap, res)
		})
	}
}

func TestOptimise_LaminationAreaAttributed(t *testing.T) {
	o := New(DefaultSettings())
	p := testPiece(t, "P1", 2000, 600)
	p.Lamination = model.LaminatedEdges{Front: true, Back: true}
	snap := snapshotOf(4, p)

	res, err := o.Optimise(snap)
	require.NoError(t, err)

	require.Len(t, res.Slabs, 1)
	assert.Equal(t, 2*2000*40.0, res.Slabs[0].LaminationArea)
	assert.Equal(t, 2000*600+2*2000*40.0, res.TotalUsedArea)
	assert.Equal(t, 1, res.LaminationSummary.LaminatedCount)
	assert.InDelta(t, 4.0, res.LaminationSummary.LaminationLm, 1e-9)
	assertInvariants(t, o, snap, res)
}

func TestOptimise_MaterialsPackOnSeparateSlabs(t *testing.T) {
	o := New(DefaultSettings())
	white := testPiece(t, "W1", 1000, 500)
	white.MaterialID = "white"
	black := testPiece(t, "B1", 1000, 500)
	black.MaterialID = "black"

	snap := snapshotOf(4, white, black)
	snap.MaterialSlabs = map[string]model.SlabSize{"white": {WidthMm: 3200, HeightMm: 1600}}

	res, err := o.Optimise(snap)
	require.NoError(t, err)

	require.Equal(t, 2, res.TotalSlabs)
	// Materials are numbered in id order: black before white.
	assert.Equal(t, "black", res.Slabs[0].MaterialID)
	assert.Equal(t, 3000.0, res.Slabs[0].WidthMm)
	assert.Equal(t, "white", res.Slabs[1].MaterialID)
	assert.Equal(t, 3200.0, res.Slabs[1].WidthMm)
	assert.Equal(t, "B1", res.Placements[0].PieceID)
	assert.Equal(t, 1, res.Placements[1].SlabIndex)
	assertInvariants(t, o, snap, res)
}

func TestCompareScenarios_ReturnsInScenarioOrder(t *testing.T) {
	o := New(DefaultSettings())
	base := snapshotOf(8,
		testPiece(t, "P1", 2900, 650),
		testPiece(t, "P2", 1450, 700),
		testPiece(t, "P3", 1450, 700),
	)

	scenarios := BuildDefaultScenarios(base)
	require.Len(t, scenarios, 3)
	assert.Equal(t, "Kerf 4.0mm (half)", scenarios[1].Name)
	assert.Equal(t, 8.0, base.KerfMm, "base snapshot untouched")

	results, err := o.CompareScenarios(context.Background(), scenarios)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, scenarios[i].Name, r.Scenario.Name)
		assert.Equal(t, r.Result.TotalSlabs, r.SlabsUsed)
	}
	assert.Equal(t, 4.0, results[1].Result.KerfMm)
	assert.LessOrEqual(t, results[0].SlabsUsed, results[2].SlabsUsed, "rotation never needs more slabs here")
}

func TestCompareScenarios_PropagatesInputError(t *testing.T) {
	o := New(DefaultSettings())
	_, err := o.CompareScenarios(context.Background(), []ComparisonScenario{{Name: "empty", Snapshot: model.Snapshot{Slab: stdSlab}}})
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.CodeInput))
}

// randomSnapshot builds a reproducible mixed order: benchtops, splashbacks,
// oversize runs, some laminated, some veined.
func randomSnapshot(t *testing.T, seed int64, n int) model.Snapshot {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	pieces := make([]model.Piece, 0, n)
	for i := 0; i < n; i++ {
		l := float64(100 + rng.Intn(3600))
		w := float64(60 + rng.Intn(1000))
		p := testPiece(t, fmt.Sprintf("P%02d", i), l, w)
		if rng.Intn(4) == 0 {
			p.Grain = model.GrainLengthwise
		}
		if rng.Intn(3) == 0 {
			p.Lamination = model.LaminatedEdges{Front: true, Left: rng.Intn(2) == 0}
		}
		if rng.Intn(5) == 0 {
			p.LaminationMethod = model.LaminationMitred
		}
		if rng.Intn(6) == 0 {
			p.Quantity = 2
		}
		pieces = append(pieces, p)
	}
	return snapshotOf(float64(rng.Intn(10)), pieces...)
}

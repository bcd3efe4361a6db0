package engine

import (
	"sort"

	"github.com/piwi3910/SlabQuote/internal/model"
)

// Settings holds engine parameters that are not part of a quote snapshot.
type Settings struct {
	LaminationBuildUpMm float64 `json:"lamination_build_up_mm" toml:"lamination_build_up_mm"`
}

// DefaultSettings returns the engine defaults.
func DefaultSettings() Settings {
	return Settings{
		LaminationBuildUpMm: DefaultBuildUpMm,
	}
}

// Optimizer runs the catalog → lamination → packing → accounting pipeline.
// It holds no mutable state and is safe for concurrent use.
type Optimizer struct {
	Settings Settings
}

func New(settings Settings) *Optimizer {
	return &Optimizer{Settings: settings}
}

// Optimise computes a layout for one snapshot. The returned result has no
// sequence number or timestamp; those are assigned by whoever commits it.
//
// Pieces are packed per material: a material's units only go on slabs of
// that material, and slab indices run across materials in material id order.
func (o *Optimizer) Optimise(snap model.Snapshot) (model.OptimizationResult, error) {
	units, err := BuildCatalog(snap)
	if err != nil {
		return model.OptimizationResult{}, err
	}

	lam := Laminator{BuildUpMm: o.Settings.LaminationBuildUpMm, KerfMm: snap.KerfMm}
	exp := lam.Expand(units)
	// Section ids ("P1-J1") and strip ids ("P1-LF") can collide with literal ids.
	if err := uniqueIDs(exp.Units, "splitting and lamination"); err != nil {
		return model.OptimizationResult{}, err
	}

	result := model.OptimizationResult{
		Placements:        []model.Placement{},
		UnplacedPieces:    []model.UnplacedPiece{},
		LaminationSummary: exp.Summary,
		Joins:             exp.Joins,
		KerfMm:            snap.KerfMm,
	}

	var slabs []SlabInfo
	for _, g := range groupByMaterial(exp.Units) {
		packing := Pack(g.units, g.slab, snap.KerfMm, snap.AllowRotation)

		offset := len(slabs)
		for _, p := range packing.Placements {
			p.SlabIndex += offset
			result.Placements = append(result.Placements, p)
		}
		result.UnplacedPieces = append(result.UnplacedPieces, packing.Unplaced...)
		for i := 0; i < packing.SlabCount; i++ {
			slabs = append(slabs, SlabInfo{Index: offset + i, MaterialID: g.material, Size: g.slab})
		}
	}

	acc, err := Account(result.Placements, slabs, snap.KerfMm)
	if err != nil {
		return model.OptimizationResult{}, err
	}
	result.Slabs = acc.Slabs
	result.TotalSlabs = len(acc.Slabs)
	result.TotalUsedArea = acc.TotalUsedArea
	result.TotalWasteArea = acc.TotalWasteArea
	result.WastePercent = acc.WastePercent
	return result, nil
}

// materialGroup holds the units cut from one material.
type materialGroup struct {
	material string
	slab     model.SlabSize
	units    []Unit
}

// groupByMaterial splits units by material, sorted by material id so slab
// numbering does not depend on piece order across materials.
func groupByMaterial(units []Unit) []materialGroup {
	index := make(map[string]int)
	var groups []materialGroup
	for _, u := range units {
		i, ok := index[u.MaterialID]
		if !ok {
			i = len(groups)
			index[u.MaterialID] = i
			groups = append(groups, materialGroup{material: u.MaterialID, slab: u.Slab})
		}
		groups[i].units = append(groups[i].units, u)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].material < groups[j].material
	})
	return groups
}

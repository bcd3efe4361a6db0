package engine

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/piwi3910/SlabQuote/internal/model"
)

// ComparisonScenario is a named variation of a snapshot.
type ComparisonScenario struct {
	Name     string
	Snapshot model.Snapshot
}

// ComparisonResult holds the layout and headline figures for one scenario.
type ComparisonResult struct {
	Scenario      ComparisonScenario
	Result        model.OptimizationResult
	SlabsUsed     int
	JoinCount     int
	WastePercent  float64
	UnplacedCount int
}

// CompareScenarios optimises every scenario concurrently and returns the
// results in scenario order. The first failing scenario aborts the comparison.
func (o *Optimizer) CompareScenarios(ctx context.Context, scenarios []ComparisonScenario) ([]ComparisonResult, error) {
	results := make([]ComparisonResult, len(scenarios))

	g, ctx := errgroup.WithContext(ctx)
	for i, sc := range scenarios {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := o.Optimise(sc.Snapshot)
			if err != nil {
				return fmt.Errorf("scenario %q: %w", sc.Name, err)
			}

			joins := 0
			for _, j := range res.Joins {
				joins += j.JoinCount
			}
			results[i] = ComparisonResult{
				Scenario:      sc,
				Result:        res,
				SlabsUsed:     res.TotalSlabs,
				JoinCount:     joins,
				WastePercent:  res.WastePercent,
				UnplacedCount: len(res.UnplacedPieces),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// BuildDefaultScenarios generates what-if variations of a snapshot: a
// thinner blade and, when rotation is on, a grain-locked layout.
func BuildDefaultScenarios(base model.Snapshot) []ComparisonScenario {
	scenarios := []ComparisonScenario{
		{Name: "Current Settings", Snapshot: base},
	}

	// Thinner blade (e.g. waterjet instead of bridge saw)
	if base.KerfMm > 1.0 {
		thin := base.Clone()
		thin.KerfMm = base.KerfMm * 0.5
		scenarios = append(scenarios, ComparisonScenario{
			Name:     fmt.Sprintf("Kerf %.1fmm (half)", thin.KerfMm),
			Snapshot: thin,
		})
	}

	// Every piece kept in its drawn orientation
	if base.AllowRotation {
		locked := base.Clone()
		locked.AllowRotation = false
		scenarios = append(scenarios, ComparisonScenario{
			Name:     "No Rotation",
			Snapshot: locked,
		})
	}

	return scenarios
}

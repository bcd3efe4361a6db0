package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/piwi3910/SlabQuote/internal/engine"
	"github.com/piwi3910/SlabQuote/internal/logging"
)

func newCompareCmd() *cobra.Command {
	var opts runOpts

	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare slab usage across what-if scenarios",
		Long:  `Compare packs the piece list with the given settings, with half the kerf and with rotation disabled, and prints slabs, joins and waste for each.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := logging.FromContext(ctx)

			snap, err := opts.snapshot(logger)
			if err != nil {
				return err
			}

			prog := logging.NewProgress(logger)
			opt := engine.New(engine.Settings{LaminationBuildUpMm: opts.buildUp})
			results, err := opt.CompareScenarios(ctx, engine.BuildDefaultScenarios(snap))
			if err != nil {
				return err
			}
			prog.Done("Compared scenarios", "scenarios", len(results))

			return printComparison(cmd.OutOrStdout(), results)
		},
	}

	opts.register(cmd)
	return cmd
}

func printComparison(w io.Writer, results []engine.ComparisonResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tSLABS\tJOINS\tWASTE\tUNPLACED")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f%%\t%d\n",
			r.Scenario.Name, r.SlabsUsed, r.JoinCount, r.WastePercent, r.UnplacedCount)
	}
	return tw.Flush()
}

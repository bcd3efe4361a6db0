package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/piwi3910/SlabQuote/internal/engine"
	"github.com/piwi3910/SlabQuote/internal/export"
	"github.com/piwi3910/SlabQuote/internal/importer"
	"github.com/piwi3910/SlabQuote/internal/logging"
	"github.com/piwi3910/SlabQuote/internal/model"
	"github.com/piwi3910/SlabQuote/internal/scheduler"
	"github.com/piwi3910/SlabQuote/internal/store"
)

const (
	defaultSlab    = "3000x1400" // common engineered stone jumbo slab
	defaultKerfMm  = 8.0         // bridge saw blade
	defaultTimeout = 30 * time.Second
)

// runOpts holds the flags shared by optimise and compare.
type runOpts struct {
	pieces    string  // CSV or XLSX piece list
	slab      string  // WIDTHxHEIGHT in mm
	kerf      float64 // blade width in mm
	noRotate  bool    // keep every piece in its drawn orientation
	material  string  // material for rows without one
	thickness float64 // thickness for rows without one
	buildUp   float64 // lamination strip width in mm
}

func (o *runOpts) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.pieces, "pieces", "p", "", "piece list (.csv or .xlsx)")
	cmd.Flags().StringVar(&o.slab, "slab", defaultSlab, "slab size WIDTHxHEIGHT in mm")
	cmd.Flags().Float64Var(&o.kerf, "kerf", defaultKerfMm, "blade kerf in mm")
	cmd.Flags().BoolVar(&o.noRotate, "no-rotate", false, "disable rotation for every piece")
	cmd.Flags().StringVar(&o.material, "material", importer.DefaultOptions().DefaultMaterial, "material for rows without one")
	cmd.Flags().Float64Var(&o.thickness, "thickness", importer.DefaultOptions().DefaultThicknessMm, "thickness in mm for rows without one")
	cmd.Flags().Float64Var(&o.buildUp, "build-up", engine.DefaultBuildUpMm, "lamination build-up strip width in mm")
	_ = cmd.MarkFlagRequired("pieces")
}

// snapshot imports the piece list and applies the run flags.
func (o *runOpts) snapshot(logger *log.Logger) (model.Snapshot, error) {
	slab, err := parseSlab(o.slab)
	if err != nil {
		return model.Snapshot{}, err
	}

	imp := importer.Import(o.pieces, importer.Options{DefaultMaterial: o.material, DefaultThicknessMm: o.thickness})
	for _, w := range imp.Warnings {
		logger.Warn(w)
	}
	if err := imp.Err(); err != nil {
		return model.Snapshot{}, err
	}
	logger.Debug("imported piece list", "file", o.pieces, "pieces", len(imp.Pieces))

	snap := model.Snapshot{
		Pieces:        imp.Pieces,
		Slab:          slab,
		KerfMm:        o.kerf,
		AllowRotation: !o.noRotate,
	}
	if err := snap.Validate(); err != nil {
		return model.Snapshot{}, err
	}
	return snap, nil
}

// parseSlab reads "3000x1400" style sizes.
func parseSlab(s string) (model.SlabSize, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	w, h, ok := strings.Cut(strings.ReplaceAll(s, "×", "x"), "x")
	if !ok {
		return model.SlabSize{}, model.NewInputError("slab size %q must look like 3000x1400", s)
	}
	width, err := strconv.ParseFloat(strings.TrimSpace(w), 64)
	if err != nil {
		return model.SlabSize{}, model.NewInputError("invalid slab width %q", w)
	}
	height, err := strconv.ParseFloat(strings.TrimSpace(h), 64)
	if err != nil {
		return model.SlabSize{}, model.NewInputError("invalid slab height %q", h)
	}
	return model.NewSlabSize(width, height)
}

type optimiseOpts struct {
	runOpts
	quote   string
	out     string
	report  string
	timeout time.Duration
}

func newOptimiseCmd() *cobra.Command {
	var opts optimiseOpts

	cmd := &cobra.Command{
		Use:     "optimise",
		Aliases: []string{"optimize"},
		Short:   "Nest a piece list onto slabs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimise(cmd, &opts)
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVar(&opts.quote, "quote", "", "quote id (default: random uuid)")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "write the layout JSON here (default: stdout)")
	cmd.Flags().StringVar(&opts.report, "report", "", "also write an .xlsx layout report")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", defaultTimeout, "optimisation time budget")

	return cmd
}

func runOptimise(cmd *cobra.Command, opts *optimiseOpts) error {
	ctx := cmd.Context()
	logger := logging.FromContext(ctx)

	snap, err := opts.snapshot(logger)
	if err != nil {
		return err
	}
	quoteID := opts.quote
	if quoteID == "" {
		quoteID = uuid.NewString()
	}

	// A one-shot run goes through the same commit path as the service.
	st := store.NewMemoryStore()
	sched := scheduler.New(st, engine.New(engine.Settings{LaminationBuildUpMm: opts.buildUp}), scheduler.Options{
		Timeout: opts.timeout,
		Logger:  logger,
	})
	defer sched.Close()

	prog := logging.NewProgress(logger)
	res, err := sched.Optimise(ctx, quoteID, snap)
	if err != nil {
		return err
	}
	prog.Done("Optimised", "quote", quoteID, "slabs", res.TotalSlabs,
		"waste", fmt.Sprintf("%.1f%%", res.WastePercent), "unplaced", len(res.UnplacedPieces))
	for _, u := range res.UnplacedPieces {
		logger.Warn("piece not placed", "piece", u.PieceID, "reason", u.Reason)
	}

	if err := writeJSON(cmd.OutOrStdout(), opts.out, res); err != nil {
		return err
	}
	if opts.report != "" {
		if err := export.SaveReport(opts.report, res); err != nil {
			return err
		}
		logger.Info("Wrote report", "file", opts.report)
	}
	return nil
}

// writeJSON writes v indented to path, or to stdout when path is empty or "-".
func writeJSON(stdout io.Writer, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode layout: %w", err)
	}
	data = append(data, '\n')
	if path == "" || path == "-" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

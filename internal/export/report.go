// Package export writes committed quote layouts to spreadsheet reports for
// the sales desk and the saw room.
package export

import (
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/piwi3910/SlabQuote/internal/model"
)

// Sheet names, in workbook order.
const (
	SheetSummary    = "Summary"
	SheetSlabs      = "Slabs"
	SheetPlacements = "Placements"
	SheetUnplaced   = "Unplaced"
	SheetJoins      = "Joins"
)

// XLSXContentType is the media type served for reports.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// BuildReport lays the result out as a workbook. The caller owns the
// returned file and must Close it.
func BuildReport(res model.OptimizationResult) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), SheetSummary); err != nil {
		f.Close()
		return nil, err
	}
	for _, name := range []string{SheetSlabs, SheetPlacements, SheetUnplaced, SheetJoins} {
		if _, err := f.NewSheet(name); err != nil {
			f.Close()
			return nil, err
		}
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDE4EE"}},
	})
	if err != nil {
		f.Close()
		return nil, err
	}

	w := &sheetWriter{f: f, header: header}
	w.summary(res)
	w.slabs(res)
	w.placements(res)
	w.unplaced(res)
	w.joins(res)
	if w.err != nil {
		f.Close()
		return nil, w.err
	}
	f.SetActiveSheet(0)
	return f, nil
}

// WriteReport streams the workbook for res to out.
func WriteReport(out io.Writer, res model.OptimizationResult) error {
	f, err := BuildReport(res)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteTo(out); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// SaveReport writes the workbook for res to path.
func SaveReport(path string, res model.OptimizationResult) error {
	f, err := BuildReport(res)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save report %s: %w", path, err)
	}
	return nil
}

// sheetWriter keeps the first error so the section writers stay linear.
type sheetWriter struct {
	f      *excelize.File
	header int
	err    error
}

func (w *sheetWriter) row(sheet string, r int, values ...any) {
	if w.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(1, r)
	if err != nil {
		w.err = err
		return
	}
	w.err = w.f.SetSheetRow(sheet, cell, &values)
}

func (w *sheetWriter) headerRow(sheet string, widths []float64, titles ...any) {
	w.row(sheet, 1, titles...)
	if w.err != nil {
		return
	}
	if w.err = w.f.SetRowStyle(sheet, 1, 1, w.header); w.err != nil {
		return
	}
	for i, width := range widths {
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			w.err = err
			return
		}
		if w.err = w.f.SetColWidth(sheet, col, col, width); w.err != nil {
			return
		}
	}
}

func (w *sheetWriter) summary(res model.OptimizationResult) {
	w.headerRow(SheetSummary, []float64{24, 28}, "Field", "Value")
	rows := [][]any{
		{"Quote", res.QuoteID},
		{"Sequence", res.Sequence},
		{"Optimised at", res.CreatedAt.UTC().Format("2006-01-02 15:04:05")},
		{"Kerf (mm)", res.KerfMm},
		{"Slabs used", res.TotalSlabs},
		{"Used area (m²)", round(res.TotalUsedArea/1e6, 3)},
		{"Waste area (m²)", round(res.TotalWasteArea/1e6, 3)},
		{"Waste %", round(res.WastePercent, 2)},
		{"Efficiency %", round(res.Efficiency(), 2)},
		{"Laminated pieces", res.LaminationSummary.LaminatedCount},
		{"Lamination (lm)", round(res.LaminationSummary.LaminationLm, 3)},
		{"Grain-match surcharge", strings.Join(res.LaminationSummary.SurchargedPieceIDs, ", ")},
		{"Unplaced pieces", len(res.UnplacedPieces)},
	}
	for i, r := range rows {
		w.row(SheetSummary, i+2, r...)
	}
}

func (w *sheetWriter) slabs(res model.OptimizationResult) {
	w.headerRow(SheetSlabs, []float64{8, 16, 12, 12, 12, 14, 14, 10, 10},
		"Slab", "Material", "Width (mm)", "Height (mm)", "Placements", "Used (m²)", "Waste (m²)", "Waste %", "Offcuts")
	for i, s := range res.Slabs {
		w.row(SheetSlabs, i+2, s.Index+1, s.MaterialID, s.WidthMm, s.HeightMm, s.Placements,
			round(s.UsedArea/1e6, 3), round(s.WasteArea/1e6, 3), round(s.WastePercent, 2), len(s.Offcuts))
	}
}

func (w *sheetWriter) placements(res model.OptimizationResult) {
	w.headerRow(SheetPlacements, []float64{8, 16, 16, 14, 10, 10, 12, 12, 9},
		"Slab", "Unit", "Piece", "Kind", "X (mm)", "Y (mm)", "Width (mm)", "Height (mm)", "Rotated")
	for i, p := range res.Placements {
		source := p.SourceID
		if source == "" {
			source = p.PieceID
		}
		kind := p.Kind
		if kind == "" {
			kind = model.KindPiece
		}
		w.row(SheetPlacements, i+2, p.SlabIndex+1, p.PieceID, source, string(kind),
			p.X, p.Y, p.Width, p.Height, yesNo(p.Rotated))
	}
}

func (w *sheetWriter) unplaced(res model.OptimizationResult) {
	w.headerRow(SheetUnplaced, []float64{16, 40}, "Unit", "Reason")
	for i, u := range res.UnplacedPieces {
		w.row(SheetUnplaced, i+2, u.PieceID, u.Reason)
	}
}

func (w *sheetWriter) joins(res model.OptimizationResult) {
	w.headerRow(SheetJoins, []float64{16, 30, 10, 14, 20},
		"Piece", "Sections", "Joins", "Seam (lm)", "Grain-match surcharge")
	for i, j := range res.Joins {
		w.row(SheetJoins, i+2, j.PieceID, strings.Join(j.SubPieceIDs, ", "), j.JoinCount,
			round(j.JoinLengthLm, 3), yesNo(j.GrainMatchSurcharge))
	}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Package importer reads quote piece lists from CSV and Excel files.
// It supports automatic delimiter detection, flexible column mapping, and
// case-insensitive header recognition.
package importer

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/piwi3910/SlabQuote/internal/model"
)

// Options supplies values for columns a piece list leaves out.
type Options struct {
	DefaultMaterial    string
	DefaultThicknessMm float64
}

// DefaultOptions matches a 20mm engineered stone order.
func DefaultOptions() Options {
	return Options{DefaultMaterial: "default", DefaultThicknessMm: 20}
}

// ImportResult holds the results of an import operation.
type ImportResult struct {
	Pieces   []model.Piece
	Errors   []string
	Warnings []string
}

// Err returns an InputError listing every row error, or nil.
func (r ImportResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return model.NewInputError("piece list has %d error(s): %s", len(r.Errors), strings.Join(r.Errors, "; "))
}

// Column roles.
const (
	colID = iota
	colLabel
	colLength
	colWidth
	colThickness
	colMaterial
	colQuantity
	colRotation
	colGrain
	colLamination
	colMethod
	numCols
)

// ColumnMapping holds the index of each column role, -1 when absent.
type ColumnMapping [numCols]int

// headerAliases lists the accepted header names per role (all lowercase).
var headerAliases = [numCols][]string{
	colID:         {"id", "piece id", "ref", "reference", "code"},
	colLabel:      {"label", "name", "description", "desc", "piece", "item"},
	colLength:     {"length", "len", "l", "length mm", "length (mm)"},
	colWidth:      {"width", "w", "depth", "width mm", "width (mm)"},
	colThickness:  {"thickness", "thk", "t", "thickness mm", "thickness (mm)"},
	colMaterial:   {"material", "stone", "colour", "color", "material id"},
	colQuantity:   {"quantity", "qty", "count", "pcs"},
	colRotation:   {"rotation", "rotate", "can rotate", "rotation allowed"},
	colGrain:      {"grain", "vein", "veining", "grain direction"},
	colLamination: {"lamination", "laminated", "laminated edges", "edges", "build-up", "buildup"},
	colMethod:     {"method", "lamination method", "edge method"},
}

// positional is the column order assumed for files without a header.
var positional = ColumnMapping{
	colID: -1, colLabel: 0, colLength: 1, colWidth: 2, colQuantity: 3, colGrain: 4,
	colThickness: -1, colMaterial: -1, colRotation: -1, colLamination: -1, colMethod: -1,
}

// DetectCSVDelimiter reads the file content and determines the most likely CSV delimiter.
// It tries comma, semicolon, tab, and pipe. The delimiter that produces the most
// consistent (non-one) column count across lines wins.
func DetectCSVDelimiter(data []byte) rune {
	candidates := []rune{',', ';', '\t', '|'}
	bestDelimiter := ','
	bestScore := 0

	for _, delim := range candidates {
		reader := csv.NewReader(bytes.NewReader(data))
		reader.Comma = delim
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1

		records, err := reader.ReadAll()
		if err != nil || len(records) < 1 {
			continue
		}
		firstCols := len(records[0])
		if firstCols < 2 {
			continue
		}
		score := 0
		for _, row := range records {
			if len(row) == firstCols {
				score++
			}
		}
		if weighted := score*10 + firstCols; weighted > bestScore {
			bestScore = weighted
			bestDelimiter = delim
		}
	}
	return bestDelimiter
}

// DetectColumns examines a header row. It returns the mapping and true when
// at least one known header was found, or the positional mapping and false.
func DetectColumns(row []string) (ColumnMapping, bool) {
	var mapping ColumnMapping
	for i := range mapping {
		mapping[i] = -1
	}

	isHeader := false
	for i, cell := range row {
		normalized := strings.ToLower(strings.TrimSpace(cell))
		for role, aliases := range headerAliases {
			if mapping[role] != -1 {
				continue
			}
			for _, alias := range aliases {
				if normalized == alias {
					mapping[role] = i
					isHeader = true
					break
				}
			}
		}
	}
	if !isHeader {
		return positional, false
	}
	return mapping, true
}

// ParseLamination reads edge lists such as "F+B", "front,left", "all" or "-".
func ParseLamination(s string) (model.LaminatedEdges, error) {
	var e model.LaminatedEdges
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "-", "none", "no", "n":
		return e, nil
	case "all":
		return model.LaminatedEdges{Front: true, Back: true, Left: true, Right: true}, nil
	}
	for _, part := range strings.FieldsFunc(s, func(r rune) bool {
		return r == '+' || r == ',' || r == '/' || r == ' ' || r == '|'
	}) {
		switch part {
		case "f", "front":
			e.Front = true
		case "b", "back":
			e.Back = true
		case "l", "left":
			e.Left = true
		case "r", "right":
			e.Right = true
		default:
			return model.LaminatedEdges{}, fmt.Errorf("unknown edge '%s'", part)
		}
	}
	return e, nil
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "true", "1", "x":
		return true, true
	case "n", "no", "false", "0", "-":
		return false, true
	}
	return false, false
}

// getCell safely retrieves a cell value from a row by column index.
func getCell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func parseDimension(row []string, idx int, name, rowLabel string) (float64, string) {
	raw := getCell(row, idx)
	if raw == "" {
		return 0, fmt.Sprintf("%s: Missing %s value", rowLabel, name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Sprintf("%s: Invalid %s '%s'", rowLabel, name, raw)
	}
	if v <= 0 {
		return 0, fmt.Sprintf("%s: %s must be positive", rowLabel, strings.ToUpper(name[:1])+name[1:])
	}
	return v, ""
}

// parseRow extracts a Piece from a row. It returns the piece, an error
// message and any warnings.
func parseRow(row []string, m ColumnMapping, rowLabel string, pieceCount int, opts Options) (model.Piece, string, []string) {
	var warnings []string

	id := getCell(row, m[colID])
	if id == "" {
		id = fmt.Sprintf("P%d", pieceCount+1)
	}
	label := getCell(row, m[colLabel])
	if label == "" {
		label = id
	}

	length, errMsg := parseDimension(row, m[colLength], "length", rowLabel)
	if errMsg != "" {
		return model.Piece{}, errMsg, nil
	}
	width, errMsg := parseDimension(row, m[colWidth], "width", rowLabel)
	if errMsg != "" {
		return model.Piece{}, errMsg, nil
	}
	thickness := opts.DefaultThicknessMm
	if getCell(row, m[colThickness]) != "" {
		if thickness, errMsg = parseDimension(row, m[colThickness], "thickness", rowLabel); errMsg != "" {
			return model.Piece{}, errMsg, nil
		}
	}

	qty := 1
	if raw := getCell(row, m[colQuantity]); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return model.Piece{}, fmt.Sprintf("%s: Invalid quantity '%s'", rowLabel, raw), nil
		}
		qty = n
	}

	material := getCell(row, m[colMaterial])
	if material == "" {
		material = opts.DefaultMaterial
	}

	p, err := model.NewPiece(id, material, length, width, thickness)
	if err != nil {
		return model.Piece{}, fmt.Sprintf("%s: %v", rowLabel, err), nil
	}
	p.Label = label
	p.Quantity = qty

	if raw := getCell(row, m[colRotation]); raw != "" {
		if v, ok := parseBool(raw); ok {
			p.RotationAllowed = v
		} else {
			warnings = append(warnings, fmt.Sprintf("%s: Unknown rotation '%s', allowing rotation", rowLabel, raw))
		}
	}
	if raw := getCell(row, m[colGrain]); raw != "" {
		if g, err := model.ParseGrain(raw); err == nil {
			p.Grain = g
		} else {
			warnings = append(warnings, fmt.Sprintf("%s: Unknown grain direction '%s', defaulting to None", rowLabel, raw))
		}
	}
	if raw := getCell(row, m[colLamination]); raw != "" {
		edges, err := ParseLamination(raw)
		if err != nil {
			return model.Piece{}, fmt.Sprintf("%s: Invalid lamination '%s': %v", rowLabel, raw, err), nil
		}
		p.Lamination = edges
	}
	if raw := getCell(row, m[colMethod]); raw != "" {
		switch method := model.LaminationMethod(strings.ToLower(raw)); method {
		case model.LaminationStandard, model.LaminationMitred:
			p.LaminationMethod = method
		default:
			warnings = append(warnings, fmt.Sprintf("%s: Unknown lamination method '%s', using standard", rowLabel, raw))
		}
	}

	return p, "", warnings
}

// isEmptyRow returns true if the row has no meaningful content.
func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// Import picks the CSV or Excel reader by file extension.
func Import(path string, opts Options) ImportResult {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm", ".xltx":
		return ImportExcel(path, opts)
	default:
		return ImportCSV(path, opts)
	}
}

// ImportCSV imports pieces from a CSV file, detecting the delimiter and
// mapping columns by header names.
func ImportCSV(path string, opts Options) ImportResult {
	result := ImportResult{}

	data, err := os.ReadFile(path)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Cannot open file: %v", err))
		return result
	}
	if len(bytes.TrimSpace(data)) == 0 {
		result.Errors = append(result.Errors, "File is empty")
		return result
	}

	delimiter := DetectCSVDelimiter(data)
	var warnings []string
	if delimiter != ',' {
		delimName := map[rune]string{';': "semicolon", '\t': "tab", '|': "pipe"}[delimiter]
		warnings = append(warnings, fmt.Sprintf("Detected %s delimiter", delimName))
	}

	res := ImportCSVFromReader(bytes.NewReader(data), delimiter, opts)
	res.Warnings = append(warnings, res.Warnings...)
	return res
}

// ImportCSVFromReader imports pieces from a CSV reader with a known delimiter.
func ImportCSVFromReader(reader io.Reader, delimiter rune, opts Options) ImportResult {
	result := ImportResult{}

	csvReader := csv.NewReader(reader)
	csvReader.Comma = delimiter
	csvReader.LazyQuotes = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Cannot read CSV: %v", err))
		return result
	}
	if len(records) == 0 {
		result.Errors = append(result.Errors, "File is empty")
		return result
	}
	return importFromRows(records, "Line", opts)
}

// ImportExcel imports pieces from the first sheet of an Excel workbook.
func ImportExcel(path string, opts Options) ImportResult {
	result := ImportResult{}

	f, err := excelize.OpenFile(path)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Cannot open Excel file: %v", err))
		return result
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		result.Errors = append(result.Errors, "Excel file has no sheets")
		return result
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("Cannot read Excel data: %v", err))
		return result
	}
	if len(rows) == 0 {
		result.Errors = append(result.Errors, "Sheet is empty")
		return result
	}
	return importFromRows(rows, "Row", opts)
}

// importFromRows is the shared import logic for CSV and Excel data.
func importFromRows(rows [][]string, rowPrefix string, opts Options) ImportResult {
	result := ImportResult{}
	if opts.DefaultMaterial == "" {
		opts.DefaultMaterial = DefaultOptions().DefaultMaterial
	}
	if opts.DefaultThicknessMm <= 0 {
		opts.DefaultThicknessMm = DefaultOptions().DefaultThicknessMm
	}

	mapping, hasHeader := DetectColumns(rows[0])
	startRow := 0
	if hasHeader {
		startRow = 1
		var missing []string
		if mapping[colLength] == -1 {
			missing = append(missing, "Length")
		}
		if mapping[colWidth] == -1 {
			missing = append(missing, "Width")
		}
		if len(missing) > 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("Required columns not found in header: %s", strings.Join(missing, ", ")))
			return result
		}
	} else if len(rows[0]) >= 3 {
		// First row has a non-numeric length: an unrecognised header.
		if _, err := strconv.ParseFloat(strings.TrimSpace(rows[0][1]), 64); err != nil {
			startRow = 1
			result.Warnings = append(result.Warnings, "Unrecognised header row, using column order label, length, width, quantity, grain")
		}
	}

	seen := make(map[string]string)
	for i := startRow; i < len(rows); i++ {
		row := rows[i]
		if isEmptyRow(row) {
			continue
		}
		rowLabel := fmt.Sprintf("%s %d", rowPrefix, i+1)

		piece, errMsg, warnings := parseRow(row, mapping, rowLabel, len(result.Pieces), opts)
		result.Warnings = append(result.Warnings, warnings...)
		if errMsg != "" {
			result.Errors = append(result.Errors, errMsg)
			continue
		}
		if first, dup := seen[piece.ID]; dup {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: Duplicate piece id '%s' (first on %s)", rowLabel, piece.ID, first))
			continue
		}
		seen[piece.ID] = rowLabel
		result.Pieces = append(result.Pieces, piece)
	}

	if len(result.Pieces) == 0 && len(result.Errors) == 0 {
		result.Errors = append(result.Errors, "No valid pieces found in file")
	}
	return result
}

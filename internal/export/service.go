package export

import (
	"bytes"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/menu-allergens/constants"
	"github.com/joseph-ayodele/menu-allergens/internal/core/menu"
	"github.com/joseph-ayodele/menu-allergens/internal/core/normalize"
)

const (
	itemsSheet   = "Allergens"
	recordsSheet = "Records"
)

// Service renders parsed items and normalized records as CSV or XLSX bytes.
type Service struct {
	now    func() time.Time
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{now: time.Now, logger: logger}
}

// Filename is the download name for an export, e.g. allergy_data_20240501_093000.csv.
func (s *Service) Filename(ext string) string {
	return fmt.Sprintf("allergy_data_%s.%s", s.now().Format("20060102_150405"), ext)
}

// ItemsCSV encodes items with the allergen columns in order (nil = taxonomy).
func (s *Service) ItemsCSV(items []menu.MenuItem, order []string) ([]byte, error) {
	var buf bytes.Buffer
	if err := menu.EncodeCSV(&buf, items, order); err != nil {
		return nil, fmt.Errorf("csv write: %w", err)
	}
	s.logger.Info("export.csv.ok", "rows", len(items), "bytes", buf.Len())
	return buf.Bytes(), nil
}

// RecordsCSV encodes normalized records with the union of their columns.
func (s *Service) RecordsCSV(records []*normalize.Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := normalize.EncodeCSV(&buf, records); err != nil {
		return nil, fmt.Errorf("csv write: %w", err)
	}
	s.logger.Info("export.csv.ok", "rows", len(records), "bytes", buf.Len())
	return buf.Bytes(), nil
}

// ItemsXLSX returns a workbook with one row per item: name, one symbol column
// per allergen, then the source file.
func (s *Service) ItemsXLSX(items []menu.MenuItem, order []string) ([]byte, error) {
	start := time.Now()
	if order == nil {
		order = constants.Taxonomy()
	}
	headers := append(append([]string{menu.MenuNameColumn}, order...), "source_file")
	rows := make([][]any, 0, len(items))
	for _, it := range items {
		row := make([]any, 0, len(headers))
		row = append(row, it.Name)
		for _, a := range order {
			row = append(row, it.Status(a).Symbol())
		}
		row = append(row, it.SourceFile)
		rows = append(rows, row)
	}

	b, err := writeSheet(itemsSheet, headers, rows, func(f *excelize.File) {
		last, _ := excelize.ColumnNumberToName(len(headers))
		_ = f.SetColWidth(itemsSheet, "A", "A", 32) // menu name
		_ = f.SetColWidth(itemsSheet, "B", last, 6)  // symbols
		_ = f.SetColWidth(itemsSheet, last, last, 40)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("export.xlsx.ok", "sheet", itemsSheet, "rows", len(items), "elapsed_ms", time.Since(start).Milliseconds())
	return b, nil
}

// RecordsXLSX returns a workbook of normalized records.
func (s *Service) RecordsXLSX(records []*normalize.Record) ([]byte, error) {
	start := time.Now()
	cols := normalize.Columns(records)
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		row := make([]any, len(cols))
		for i, c := range cols {
			v, _ := r.Get(c)
			row[i] = v
		}
		rows = append(rows, row)
	}
	b, err := writeSheet(recordsSheet, cols, rows, nil)
	if err != nil {
		return nil, err
	}
	s.logger.Info("export.xlsx.ok", "sheet", recordsSheet, "rows", len(records), "elapsed_ms", time.Since(start).Milliseconds())
	return b, nil
}

func writeSheet(sheet string, headers []string, rows [][]any, style func(*excelize.File)) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	for r, row := range rows {
		for c, v := range row {
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
	if style != nil {
		style(f)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

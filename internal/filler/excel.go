package filler

import (
	"bytes"
	"context"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/propale/propale/internal/model"
)

// ExcelFiller writes mapped values into workbook cells, preserving the
// workbook's existing styles and formulas.
type ExcelFiller struct{}

func (f *ExcelFiller) Fill(ctx context.Context, template []byte, cfg model.FileConfig, data map[string]any) ([]byte, error) {
	if cfg.Excel == nil {
		return nil, eris.New("excel filler: config has no excel section")
	}

	wb, err := excelize.OpenReader(bytes.NewReader(template))
	if err != nil {
		return nil, eris.Wrap(err, "excel filler: open workbook")
	}
	defer wb.Close()

	sheet := cfg.Excel.Worksheet
	idx, err := wb.GetSheetIndex(sheet)
	if err != nil || idx < 0 {
		return nil, &TemplateStructureError{Target: sheet, Detail: "worksheet not found in workbook"}
	}

	preserve := make(map[string]bool, len(cfg.Excel.FormulaCells))
	for _, cell := range cfg.Excel.FormulaCells {
		preserve[cell] = true
	}

	maxCol, maxRow, err := usedRange(wb, sheet)
	if err != nil {
		return nil, eris.Wrap(err, "excel filler: read sheet extent")
	}

	for cell, key := range cfg.Excel.Cells {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "excel filler: cancelled")
		}
		if preserve[cell] {
			continue
		}
		col, row, err := excelize.CellNameToCoordinates(cell)
		if err != nil {
			zap.L().Warn("excel filler: skipping unknown cell address",
				zap.String("cell", cell),
				zap.String("field_key", key),
			)
			continue
		}
		if col > maxCol || row > maxRow {
			zap.L().Warn("excel filler: skipping cell outside the template's used range",
				zap.String("cell", cell),
				zap.String("field_key", key),
			)
			continue
		}
		if err := wb.SetCellValue(sheet, cell, lookup(data, key)); err != nil {
			zap.L().Warn("excel filler: skipping unwritable cell",
				zap.String("cell", cell),
				zap.String("field_key", key),
				zap.Error(err),
			)
		}
	}

	buf, err := wb.WriteToBuffer()
	if err != nil {
		return nil, eris.Wrap(err, "excel filler: serialize workbook")
	}
	return buf.Bytes(), nil
}

// usedRange reports the bottom-right extent of the worksheet's populated
// cells. A mapped cell beyond it does not exist in the template and is
// treated like any other unknown target.
func usedRange(wb *excelize.File, sheet string) (int, int, error) {
	rows, err := wb.GetRows(sheet)
	if err != nil {
		return 0, 0, err
	}
	maxCol := 0
	for _, row := range rows {
		if len(row) > maxCol {
			maxCol = len(row)
		}
	}
	return maxCol, len(rows), nil
}

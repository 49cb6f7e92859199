package filler

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/propale/propale/internal/model"
)

func buildWorkbook(t *testing.T, sheet string) []byte {
	t.Helper()
	wb := excelize.NewFile()
	defer wb.Close()

	idx, err := wb.NewSheet(sheet)
	require.NoError(t, err)
	wb.SetActiveSheet(idx)
	require.NoError(t, wb.SetCellValue(sheet, "A1", "Proposition"))
	require.NoError(t, wb.SetCellFormula(sheet, "D1", "SUM(C1:C3)"))
	require.NoError(t, wb.SetCellValue(sheet, "F10", "Total"))

	buf, err := wb.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func excelCfg(sheet string, cells map[string]string, formulas ...string) model.FileConfig {
	return model.FileConfig{
		FileType: model.FileTypeExcel,
		Excel:    &model.ExcelConfig{Worksheet: sheet, Cells: cells, FormulaCells: formulas},
	}
}

func TestExcelFill(t *testing.T) {
	t.Parallel()

	template := buildWorkbook(t, "Devis")
	cfg := excelCfg("Devis", map[string]string{
		"B2":  "client_name",
		"C3":  "total_price",
		"E4":  "absent_field",
		"!!!": "bad_address", // invalid cell address, skipped with a warning
	})
	data := map[string]any{"client_name": "Acme", "total_price": 1250.5}

	out, err := (&ExcelFiller{}).Fill(context.Background(), template, cfg, data)
	require.NoError(t, err)

	wb, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer wb.Close()

	got, err := wb.GetCellValue("Devis", "B2")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got)

	got, err = wb.GetCellValue("Devis", "C3")
	require.NoError(t, err)
	assert.Equal(t, "1250.5", got)

	got, err = wb.GetCellValue("Devis", "E4")
	require.NoError(t, err)
	assert.Equal(t, "", got, "absent field writes empty string")
}

func TestExcelFillSkipsCellBeyondUsedRange(t *testing.T) {
	template := buildWorkbook(t, "Devis")
	cfg := excelCfg("Devis", map[string]string{
		"B2":  "client_name",
		"Z99": "unused", // valid address, but the template never reaches it
	})

	core, logs := observer.New(zap.WarnLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	defer restore()

	out, err := (&ExcelFiller{}).Fill(context.Background(), template, cfg, map[string]any{"client_name": "Acme"})
	require.NoError(t, err, "an out-of-range cell never fails the document")

	wb, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer wb.Close()

	got, err := wb.GetCellValue("Devis", "B2")
	require.NoError(t, err)
	assert.Equal(t, "Acme", got)

	warned := false
	for _, entry := range logs.All() {
		for _, field := range entry.Context {
			if field.Key == "cell" && field.String == "Z99" {
				warned = true
			}
		}
	}
	assert.True(t, warned, "the skipped cell is logged")
}

func TestExcelFillMissingWorksheet(t *testing.T) {
	t.Parallel()

	template := buildWorkbook(t, "Devis")
	cfg := excelCfg("Missing", map[string]string{"B2": "client_name"})

	_, err := (&ExcelFiller{}).Fill(context.Background(), template, cfg, nil)
	require.Error(t, err)

	var terr *TemplateStructureError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "Missing", terr.Target)
}

func TestExcelFillPreservesFormulaCells(t *testing.T) {
	t.Parallel()

	template := buildWorkbook(t, "Devis")
	cfg := excelCfg("Devis", map[string]string{"D1": "total_price"}, "D1")

	out, err := (&ExcelFiller{}).Fill(context.Background(), template, cfg, map[string]any{"total_price": 99})
	require.NoError(t, err)

	wb, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer wb.Close()

	formula, err := wb.GetCellFormula("Devis", "D1")
	require.NoError(t, err)
	assert.Equal(t, "SUM(C1:C3)", formula, "formula cell must not be overwritten")
}

func TestExcelFillCorruptTemplate(t *testing.T) {
	t.Parallel()

	cfg := excelCfg("Devis", map[string]string{"B2": "client_name"})
	_, err := (&ExcelFiller{}).Fill(context.Background(), []byte("not a workbook"), cfg, nil)
	assert.Error(t, err)
}

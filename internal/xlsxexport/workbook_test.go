package xlsxexport

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"tablenorm/internal/domain"
)

func TestWriteWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "consolidated.xlsx")
	rows := []domain.NormalizedRow{
		{Type: "revenue", Article: "Taxes", Amount: "100", Year: "2024", SourceTable: "t1"},
		{Type: "expense", Article: "Rent", Amount: "50", Year: "2023", SourceTable: "t2"},
	}
	notes := "fine"
	report := &domain.ValidationReport{
		ColumnAlignmentOK: true,
		PerTableAlignment: map[string]bool{"t1": true},
		Discrepancies:     []string{"t2 missing unit"},
		LLMNotes:          &notes,
	}

	err := WriteWorkbook(path, rows, map[string]int{"t2": 1, "t1": 1}, domain.ValidationOutcome{Report: report})
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{SheetConsolidated, SheetValidation}, f.GetSheetList())

	data, err := f.GetRows(SheetConsolidated)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"type", "article", "amount", "year"},
		{"revenue", "Taxes", "100", "2024"},
		{"expense", "Rent", "50", "2023"},
	}, data)

	val, err := f.GetRows(SheetValidation)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "1", "true"}, val[1])
	assert.Equal(t, []string{"t2", "1"}, val[2])
	assert.Contains(t, val, []string{"t2 missing unit"})
	assert.Contains(t, val, []string{"fine"})
}

func TestWriteWorkbook_SkippedValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consolidated.xlsx")
	err := WriteWorkbook(path, nil, map[string]int{}, domain.ValidationOutcome{})
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	val, err := f.GetRows(SheetValidation)
	require.NoError(t, err)
	assert.Contains(t, val, []string{"validation skipped"})
}

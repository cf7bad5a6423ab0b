// Package export renders reports as spreadsheets.
package export

import (
	"errors"
	"fmt"

	"github.com/campaign-lens/backend/internal/models"
	"github.com/xuri/excelize/v2"
)

const (
	SummarySheet = "Resumen"
	KPISheet     = "KPIs"
)

// ContentType is the MIME type of the XLSX workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ReportXLSX returns a workbook with a summary sheet and a KPI sheet.
func ReportXLSX(r *models.ReportData) ([]byte, error) {
	if r == nil {
		return nil, errors.New("nil report")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(KPISheet); err != nil {
		return nil, err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	row := 1
	write := func(sheet string, col int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
	heading := func(sheet string, text string) {
		cell, _ := excelize.CoordinatesToCellName(1, row)
		_ = f.SetCellValue(sheet, cell, text)
		_ = f.SetCellStyle(sheet, cell, cell, bold)
	}

	heading(SummarySheet, "Campaña")
	write(SummarySheet, 2, r.CampaignTitle)
	row++
	heading(SummarySheet, "Resumen")
	write(SummarySheet, 2, r.Summary)
	row += 2

	for _, section := range []struct {
		title string
		items []string
	}{
		{"Aspectos positivos", r.PositiveInsights},
		{"Áreas de mejora", r.AreasForImprovement},
		{"Recomendaciones", r.ActionableRecommendations},
	} {
		heading(SummarySheet, section.title)
		row++
		for _, item := range section.items {
			write(SummarySheet, 1, "•")
			write(SummarySheet, 2, item)
			row++
		}
		row++
	}
	_ = f.SetColWidth(SummarySheet, "A", "A", 22)
	_ = f.SetColWidth(SummarySheet, "B", "B", 90)

	row = 1
	for i, h := range []string{"KPI", "Valor", "Interpretación"} {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(KPISheet, cell, h)
		_ = f.SetCellStyle(KPISheet, cell, cell, bold)
	}
	for _, k := range r.KPIs {
		row++
		write(KPISheet, 1, k.Name)
		write(KPISheet, 2, k.Value)
		write(KPISheet, 3, k.Interpretation)
	}
	_ = f.SetColWidth(KPISheet, "A", "A", 28)
	_ = f.SetColWidth(KPISheet, "B", "B", 14)
	_ = f.SetColWidth(KPISheet, "C", "C", 70)

	idx, _ := f.GetSheetIndex(SummarySheet)
	f.SetActiveSheet(idx)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

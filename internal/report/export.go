package report

import (
	"fmt"
	"io"
	"sort"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"bodega/backend/internal/domain"
)

const sheetName = "Ventas"

// Row is one day of the report with both series side by side.
type Row struct {
	Day    string `csv:"day"`
	Label  string `csv:"label"`
	Sales  string `csv:"sales"`
	Margin string `csv:"margin"`
}

// Rows merges the two series by day. A day present in only one series gets
// zero for the other.
func Rows(report domain.SalesReport) []Row {
	sales := make(map[string]decimal.Decimal, len(report.Sales))
	margin := make(map[string]decimal.Decimal, len(report.Margin))
	days := make([]string, 0, len(report.Sales))

	for _, point := range report.Sales {
		sales[point.Day] = point.Amount
		days = append(days, point.Day)
	}
	for _, point := range report.Margin {
		if _, ok := sales[point.Day]; !ok {
			days = append(days, point.Day)
		}
		margin[point.Day] = point.Amount
	}
	sort.Strings(days)

	rows := make([]Row, 0, len(days))
	for _, day := range days {
		rows = append(rows, Row{
			Day:    day,
			Label:  domain.DayLabel(day),
			Sales:  sales[day].StringFixed(2),
			Margin: margin[day].StringFixed(2),
		})
	}
	return rows
}

func WriteCSV(w io.Writer, report domain.SalesReport) error {
	rows := Rows(report)
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("write report csv: %w", err)
	}
	return nil
}

func WriteXLSX(w io.Writer, report domain.SalesReport) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	headers := []string{"Dia", "Etiqueta", "Ventas", "Margen"}
	for i, h := range headers {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
	}

	for i, row := range Rows(report) {
		rowNo := i + 2
		values := []interface{}{row.Day, row.Label, mustFloat(row.Sales), mustFloat(row.Margin)}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, rowNo)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return err
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write report xlsx: %w", err)
	}
	return nil
}

func mustFloat(raw string) float64 {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

// Package report renders bookings as Excel workbooks.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"menlo/internal/models"
)

// Columns of the bookings sheet, in order.
var Columns = []string{"Name", "Email", "Experiment Type", "Start Date", "End Date", "Days Left", "Date and Time Booked"}

const sheetName = "Bookings"

// workbook wraps an excelize file with a row cursor.
type workbook struct {
	file  *excelize.File
	sheet string
	row   int
}

func newWorkbook(sheet string) (*workbook, error) {
	f := excelize.NewFile()
	if len(sheet) > 31 {
		sheet = sheet[:31]
	}
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	return &workbook{file: f, sheet: sheet, row: 1}, nil
}

func (w *workbook) writeHeader(columns []string) error {
	if err := w.writeRow(toCells(columns)); err != nil {
		return err
	}
	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		start, _ := excelize.CoordinatesToCellName(1, 1)
		end, _ := excelize.CoordinatesToCellName(len(columns), 1)
		_ = w.file.SetCellStyle(w.sheet, start, end, style)
	}
	_ = w.file.SetPanes(w.sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	return nil
}

func (w *workbook) writeRow(row []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.sheet, cell, &row); err != nil {
		return fmt.Errorf("write row %d: %w", w.row, err)
	}
	w.row++
	return nil
}

func (w *workbook) close() error {
	return w.file.Close()
}

func toCells(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// BookingRow renders one booking as sheet cells.
func BookingRow(b models.Booking, today time.Time, loc *time.Location) []interface{} {
	booked := ""
	if !b.CreatedAt.IsZero() {
		booked = b.CreatedAt.In(loc).Format(models.BookedAtLayout)
	}
	return []interface{}{
		b.Name,
		b.Email,
		string(b.Experiment),
		models.DateKey(b.Start),
		models.DateKey(b.End),
		b.DaysLeft(today),
		booked,
	}
}

// ExportBookings writes an xlsx workbook listing bookings to out.
func ExportBookings(out io.Writer, bookings []models.Booking, today time.Time, loc *time.Location) error {
	w, err := newWorkbook(sheetName)
	if err != nil {
		return err
	}
	defer w.close()

	if err := w.writeHeader(Columns); err != nil {
		return err
	}
	for _, b := range bookings {
		if err := w.writeRow(BookingRow(b, today, loc)); err != nil {
			return err
		}
	}
	if err := w.file.Write(out); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Package audit exports the reservation tables to a monthly spreadsheet and prunes old rows.
package audit

import (
	"context"
	"fmt"
	"io"
	"time"
)

// TableExporter provides access to database tables for export.
type TableExporter interface {
	// GetTableNames returns list of table names to export.
	GetTableNames(ctx context.Context) ([]string, error)

	// GetTableData returns rows for a table as maps.
	GetTableData(ctx context.Context, tableName string) ([]map[string]interface{}, []string, error)
}

// DataCleaner removes finished reservations past retention.
type DataCleaner interface {
	DeleteOldReservations(ctx context.Context, olderThan time.Duration) (int64, error)
}

// ExcelWriter writes data to Excel format.
type ExcelWriter interface {
	// AddSheet adds a new sheet with the given name.
	AddSheet(name string) error

	// WriteHeader writes column headers to current sheet.
	WriteHeader(columns []string) error

	// WriteRow writes a data row to current sheet.
	WriteRow(row []interface{}) error

	// Save writes the Excel file to the writer.
	Save(w io.Writer) error

	// SaveToFile writes the Excel file to disk.
	SaveToFile(path string) error
}

// Logger for audit operations.
type Logger interface {
	Info(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Debug(msg string, fields ...interface{})
}

// GenerateFilename creates a filename like "stationbook_2026-09.xlsx".
func GenerateFilename(t time.Time) string {
	return fmt.Sprintf("stationbook_%04d-%02d.xlsx", t.Year(), int(t.Month()))
}

// PreviousMonth returns a time inside the month before now.
func PreviousMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -1, 0)
}

package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds configuration for the audit service.
type Config struct {
	// ExportDir is where monthly workbooks are written.
	ExportDir string

	// DataRetentionDays is how many days finished reservations are kept.
	// Default: 90 days.
	DataRetentionDays int

	// ExportOnStart if true, runs export immediately on service start.
	ExportOnStart bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ExportDir:         "data/exports",
		DataRetentionDays: 90,
	}
}

// Service handles monthly audit exports and data cleanup.
type Service struct {
	config   *Config
	exporter TableExporter
	writer   func() ExcelWriter // factory for creating new Excel writers
	cleaner  DataCleaner
	logger   Logger
	now      func() time.Time
	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewService creates a new audit service.
func NewService(
	config *Config,
	exporter TableExporter,
	writerFactory func() ExcelWriter,
	cleaner DataCleaner,
	logger Logger,
) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.DataRetentionDays <= 0 {
		config.DataRetentionDays = 90
	}
	if config.ExportDir == "" {
		config.ExportDir = DefaultConfig().ExportDir
	}

	return &Service{
		config:   config,
		exporter: exporter,
		writer:   writerFactory,
		cleaner:  cleaner,
		logger:   logger,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the audit scheduler.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	if s.config.ExportOnStart {
		go s.RunExportAndCleanup()
	}

	s.wg.Add(1)
	go s.loop()

	s.logger.Info("Audit service started",
		"retention_days", s.config.DataRetentionDays,
		"export_dir", s.config.ExportDir,
	)
}

// Stop gracefully stops the audit service.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	s.logger.Info("Audit service stopped")
}

func (s *Service) loop() {
	defer s.wg.Done()

	nextRun := nextFirstOfMonth(s.now())
	timer := time.NewTimer(time.Until(nextRun))
	defer timer.Stop()

	s.logger.Info("Next audit scheduled", "time", nextRun.Format(time.RFC3339))

	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
			s.RunExportAndCleanup()

			nextRun = nextFirstOfMonth(s.now())
			timer.Reset(time.Until(nextRun))
			s.logger.Info("Next audit scheduled", "time", nextRun.Format(time.RFC3339))
		}
	}
}

// nextFirstOfMonth is 00:01 on the first day of the month after now.
func nextFirstOfMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month()+1, 1, 0, 1, 0, 0, now.Location())
}

// RunExportAndCleanup exports first, then prunes old reservations.
func (s *Service) RunExportAndCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if _, err := s.Export(ctx, PreviousMonth(s.now())); err != nil {
		s.logger.Error("Failed to export audit data", "error", err.Error())
	}
	if _, err := s.Cleanup(ctx); err != nil {
		s.logger.Error("Failed to cleanup old data", "error", err.Error())
	}
}

// Export writes every exported table plus a revenue summary to a workbook named after month.
func (s *Service) Export(ctx context.Context, month time.Time) (string, error) {
	if s.exporter == nil || s.writer == nil {
		return "", fmt.Errorf("exporter or writer not configured")
	}

	tables, err := s.exporter.GetTableNames(ctx)
	if err != nil {
		return "", fmt.Errorf("get table names: %w", err)
	}
	if len(tables) == 0 {
		s.logger.Info("No tables to export")
		return "", nil
	}

	excel := s.writer()
	if excel == nil {
		return "", fmt.Errorf("failed to create excel writer")
	}

	var reservations []map[string]interface{}
	for _, tableName := range tables {
		data, columns, err := s.exporter.GetTableData(ctx, tableName)
		if err != nil {
			s.logger.Error("Failed to get table data", "table", tableName, "error", err.Error())
			continue
		}
		if tableName == "reservations" {
			reservations = data
		}

		if err := excel.AddSheet(tableName); err != nil {
			s.logger.Error("Failed to add sheet", "table", tableName, "error", err.Error())
			continue
		}
		if err := excel.WriteHeader(columns); err != nil {
			s.logger.Error("Failed to write header", "table", tableName, "error", err.Error())
			continue
		}

		for _, row := range data {
			rowData := make([]interface{}, len(columns))
			for i, col := range columns {
				rowData[i] = row[col]
			}
			if err := excel.WriteRow(rowData); err != nil {
				s.logger.Error("Failed to write row", "table", tableName, "error", err.Error())
			}
		}

		s.logger.Debug("Exported table", "table", tableName, "rows", len(data))
	}

	if err := writeSummary(excel, Summarize(reservations)); err != nil {
		s.logger.Error("Failed to write summary", "error", err.Error())
	}

	if err := os.MkdirAll(s.config.ExportDir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(s.config.ExportDir, GenerateFilename(month))
	if err := excel.SaveToFile(path); err != nil {
		return "", fmt.Errorf("save excel: %w", err)
	}

	s.logger.Info("Audit workbook written", "path", path)
	return path, nil
}

// Cleanup deletes finished reservations older than the retention period.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	if s.cleaner == nil {
		return 0, nil
	}

	retention := time.Duration(s.config.DataRetentionDays) * 24 * time.Hour
	deleted, err := s.cleaner.DeleteOldReservations(ctx, retention)
	if err != nil {
		return 0, fmt.Errorf("delete old reservations: %w", err)
	}

	s.logger.Info("Cleaned up old data",
		"deleted_count", deleted,
		"retention_days", s.config.DataRetentionDays,
	)
	return deleted, nil
}

// VenueSummary is one row of the summary sheet.
type VenueSummary struct {
	VenueID   string
	Completed int
	Cancelled int
	Revenue   decimal.Decimal
}

// Summarize totals completed revenue and cancellations per venue from reservation rows.
func Summarize(rows []map[string]interface{}) []VenueSummary {
	byVenue := make(map[string]*VenueSummary)
	for _, row := range rows {
		venueID := fmt.Sprint(row["venue_id"])
		sum, ok := byVenue[venueID]
		if !ok {
			sum = &VenueSummary{VenueID: venueID, Revenue: decimal.Zero}
			byVenue[venueID] = sum
		}
		switch fmt.Sprint(row["status"]) {
		case "completed":
			sum.Completed++
			if price, err := decimal.NewFromString(fmt.Sprint(row["total_price"])); err == nil {
				sum.Revenue = sum.Revenue.Add(price)
			}
		case "cancelled":
			sum.Cancelled++
		}
	}

	out := make([]VenueSummary, 0, len(byVenue))
	for _, sum := range byVenue {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VenueID < out[j].VenueID })
	return out
}

func writeSummary(excel ExcelWriter, rows []VenueSummary) error {
	if err := excel.AddSheet("summary"); err != nil {
		return err
	}
	if err := excel.WriteHeader([]string{"venue_id", "completed", "cancelled", "revenue"}); err != nil {
		return err
	}
	for _, r := range rows {
		if err := excel.WriteRow([]interface{}{r.VenueID, r.Completed, r.Cancelled, r.Revenue.StringFixed(2)}); err != nil {
			return err
		}
	}
	return nil
}

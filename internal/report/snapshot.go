package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"menlo/internal/models"
)

// BookingSource lists active bookings.
type BookingSource interface {
	ListActive(ctx context.Context) ([]models.Booking, error)
	Today() time.Time
	Location() *time.Location
}

// SnapshotConfig configures periodic workbook snapshots.
type SnapshotConfig struct {
	Enabled       bool
	Interval      time.Duration
	StoragePath   string
	RetentionDays int
}

// SnapshotService periodically writes the active bookings to a timestamped
// workbook and removes old ones.
type SnapshotService struct {
	source BookingSource
	config SnapshotConfig
	logger *zerolog.Logger
	now    func() time.Time
}

func NewSnapshotService(source BookingSource, cfg SnapshotConfig, logger *zerolog.Logger) *SnapshotService {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	return &SnapshotService{source: source, config: cfg, logger: logger, now: time.Now}
}

func (s *SnapshotService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("Booking snapshots are disabled")
		return
	}
	s.logger.Info().Dur("interval", s.config.Interval).Str("path", s.config.StoragePath).Msg("Booking snapshots started")

	if _, err := s.WriteSnapshot(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Initial snapshot failed")
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.WriteSnapshot(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Scheduled snapshot failed")
			}
			s.CleanupOldSnapshots()
		}
	}
}

// WriteSnapshot writes one workbook and returns its path. Nothing is written
// when the store is unavailable.
func (s *SnapshotService) WriteSnapshot(ctx context.Context) (string, error) {
	active, err := s.source.ListActive(ctx)
	if err != nil {
		return "", fmt.Errorf("list bookings: %w", err)
	}
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	name := fmt.Sprintf("bookings_%s.xlsx", s.now().In(s.source.Location()).Format("20060102_150405"))
	path := filepath.Join(s.config.StoragePath, name)

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := ExportBookings(f, active, s.source.Today(), s.source.Location()); err != nil {
		os.Remove(path)
		return "", err
	}
	s.logger.Info().Str("path", path).Int("bookings", len(active)).Msg("Booking snapshot written")
	return path, nil
}

// CleanupOldSnapshots deletes snapshot workbooks older than the retention.
func (s *SnapshotService) CleanupOldSnapshots() int {
	if s.config.RetentionDays <= 0 {
		return 0
	}
	files, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read snapshot directory for cleanup")
		return 0
	}

	cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays)
	removed := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), "bookings_") || filepath.Ext(file.Name()) != ".xlsx" {
			continue
		}
		info, err := file.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			s.logger.Info().Str("file", file.Name()).Msg("Deleting old snapshot")
			if err := os.Remove(filepath.Join(s.config.StoragePath, file.Name())); err == nil {
				removed++
			}
		}
	}
	return removed
}

package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/metrics"
)

// ArchiveService periodically copies committed events to cold storage.
type ArchiveService struct {
	archiver domain.Archiver
	interval time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewArchiveService creates an ArchiveService that runs every interval.
func NewArchiveService(archiver domain.Archiver, interval time.Duration, m *metrics.Metrics, logger *slog.Logger) *ArchiveService {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ArchiveService{
		archiver: archiver,
		interval: interval,
		metrics:  m,
		logger:   logger.With(slog.String("component", "archive_service")),
	}
}

// Run archives on every tick until ctx is done, then makes a final pass so
// events committed during shutdown are not left behind.
func (s *ArchiveService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			s.RunOnce(final)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one archive pass. Failures are logged and retried on the
// next tick.
func (s *ArchiveService) RunOnce(ctx context.Context) {
	last, n, err := s.archiver.ArchiveEvents(ctx)
	if s.metrics != nil && n > 0 {
		s.metrics.ObserveArchive(last, n)
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.SinkError("archive")
		}
		s.logger.ErrorContext(ctx, "archive_service: archive failed",
			slog.Uint64("last_seq", last),
			slog.String("error", err.Error()),
		)
		return
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "archive_service: archived events",
			slog.Int("count", n),
			slog.Uint64("last_seq", last),
		)
	}
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/opinionsmarket/internal/domain"
)

// ArchiveJob copies settled history older than the retention window to cold
// storage.
type ArchiveJob struct {
	archiver      domain.Archiver
	retentionDays int
	notifier      Notifier
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiveJob creates an ArchiveJob. notifier may be nil.
func NewArchiveJob(archiver domain.Archiver, retentionDays int, notifier Notifier, logger *slog.Logger) *ArchiveJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveJob{
		archiver:      archiver,
		retentionDays: retentionDays,
		notifier:      notifier,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "archive_job")),
	}
}

// Run executes a single archive run against the cutoff now - retentionDays.
func (a *ArchiveJob) Run(ctx context.Context) error {
	cutoff := a.now().UTC().AddDate(0, 0, -a.retentionDays)
	a.logger.InfoContext(ctx, "archive_job: starting run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	snapshots, err := a.archiver.ArchiveSnapshots(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive_job: snapshots before %s: %w", cutoff.Format(time.DateOnly), err)
	}
	ledger, err := a.archiver.ArchiveLedger(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive_job: ledger before %s: %w", cutoff.Format(time.DateOnly), err)
	}

	a.logger.InfoContext(ctx, "archive_job: run complete",
		slog.Int64("snapshots_archived", snapshots),
		slog.Int64("ledger_archived", ledger),
	)
	if a.notifier != nil && snapshots+ledger > 0 {
		msg := fmt.Sprintf("%d snapshots and %d ledger entries exported before %s",
			snapshots, ledger, cutoff.Format(time.DateOnly))
		if err := a.notifier.Notify(ctx, EventArchived, "Archive complete", msg); err != nil {
			a.logger.WarnContext(ctx, "archive_job: notify failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

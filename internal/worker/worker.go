package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/thermoclinics/clinicsync/internal/archive"
	"github.com/thermoclinics/clinicsync/internal/lock"
	"github.com/thermoclinics/clinicsync/internal/loglines"
)

const lockKey = "archive:daily"

// Worker runs the archival passes on a fixed interval. A distributed
// lock keeps concurrent replicas from sweeping the same tables.
type Worker struct {
	engine   *archive.Engine
	mutex    *lock.Mutex
	logger   *slog.Logger
	interval time.Duration
	lockWait time.Duration
	sweep    bool
}

type Config struct {
	Interval time.Duration
	LockWait time.Duration
	// SweepArchived enables deletion of flagged rows that are
	// confirmed present in the archive table.
	SweepArchived bool
}

func New(engine *archive.Engine, mutex *lock.Mutex, logger *slog.Logger, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 24 * time.Hour
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 5 * time.Second
	}
	return &Worker{
		engine:   engine,
		mutex:    mutex,
		logger:   logger,
		interval: cfg.Interval,
		lockWait: cfg.LockWait,
		sweep:    cfg.SweepArchived,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.runOnce(ctx); err != nil {
				w.logger.Error("archival run failed", "err", err)
			}
		}
	}
}

// RunOnce executes a single archival cycle under the distributed lock.
// It is also called from the admin API for on-demand runs.
func (w *Worker) RunOnce(ctx context.Context) (archive.Report, error) {
	if w.mutex != nil {
		release, err := w.mutex.Acquire(ctx, lockKey, w.lockWait)
		if err != nil {
			return archive.Report{}, err
		}
		defer release()
	}
	return w.cycle(ctx)
}

func (w *Worker) runOnce(ctx context.Context) error {
	_, err := w.RunOnce(ctx)
	return err
}

func (w *Worker) cycle(ctx context.Context) (archive.Report, error) {
	logger, flush := loglines.New(w.logger)
	defer flush()

	var total archive.Report

	report, err := w.engine.ArchiveOldClinics(ctx)
	if err != nil {
		return total, err
	}
	total.ClinicsArchived += report.ClinicsArchived
	total.ParticipantsArchived += report.ParticipantsArchived
	total.RowsFlagged += report.RowsFlagged
	logger.Info("archived old clinics",
		"clinics", report.ClinicsArchived,
		"participants", report.ParticipantsArchived)

	report, err = w.engine.FixMissed(ctx)
	if err != nil {
		return total, err
	}
	total.ParticipantsArchived += report.ParticipantsArchived
	total.RowsFlagged += report.RowsFlagged
	if report.ParticipantsArchived > 0 {
		logger.Warn("archived participants missed by earlier runs",
			"participants", report.ParticipantsArchived)
	}

	report, err = w.engine.SweepFlagged(ctx, w.sweep)
	if err != nil {
		return total, err
	}
	total.ParticipantsArchived += report.ParticipantsArchived
	total.RowsDeleted += report.RowsDeleted
	logger.Info("swept flagged rows",
		"reappended", report.ParticipantsArchived,
		"deleted", report.RowsDeleted)

	return total, nil
}

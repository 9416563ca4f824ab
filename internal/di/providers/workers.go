package providers

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/do/v2"

	"github.com/filerskeepers/bookwatch/internal/alert"
	"github.com/filerskeepers/bookwatch/internal/config"
	"github.com/filerskeepers/bookwatch/internal/logger"
	"github.com/filerskeepers/bookwatch/internal/reconcile"
	"github.com/filerskeepers/bookwatch/internal/report"
	"github.com/filerskeepers/bookwatch/internal/schedule"
	"github.com/filerskeepers/bookwatch/internal/store"
)

// Job names as they appear in logs and run IDs.
const (
	JobDetectChanges       = "reconcile"
	JobDailyReport         = "generate_daily_report"
	JobCleanupReports      = "cleanup_old_reports"
	JobCleanupFingerprints = "cleanup_orphan_fingerprints"
)

// Test-interval cadences used by --test runs in CI.
const (
	testDetectInterval       = 2 * time.Minute
	testReportInterval       = 4 * time.Minute
	testCleanupInterval      = 10 * time.Minute
	testFingerprintsInterval = 15 * time.Minute
)

// detectJobTimeout cuts off a stuck detection run so the next firing does
// not queue up behind it. The partial run summary is still persisted.
const detectJobTimeout = time.Hour

// JobSet bundles the scheduled job bodies of the detection pipeline. The
// scheduler process registers them with daily or interval triggers; the
// one-shot mode calls RunOnce directly.
type JobSet struct {
	cfg        *config.Config
	store      *store.Store
	reconciler *reconcile.Reconciler
	reports    *report.Generator
	alerter    *alert.Alerter
	logger     *slog.Logger
}

// ProvideJobSet provides the scheduled job set.
func ProvideJobSet(i do.Injector) (*JobSet, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	storeHandle := do.MustInvoke[*StoreHandle](i)
	reconciler := do.MustInvoke[*reconcile.Reconciler](i)
	reports := do.MustInvoke[*report.Generator](i)
	alerter := do.MustInvoke[*alert.Alerter](i)

	return &JobSet{
		cfg:        cfg,
		store:      storeHandle.Store,
		reconciler: reconciler,
		reports:    reports,
		alerter:    alerter,
		logger:     log.Logger,
	}, nil
}

// DetectChanges runs one reconciliation pass and alerts on its changes.
func (j *JobSet) DetectChanges(ctx context.Context, runID string) error {
	if !j.cfg.Detection.Enabled {
		j.logger.Info("change detection disabled, skipping", "run_id", runID)
		return nil
	}

	started := time.Now().UTC()
	run, err := j.reconciler.Run(ctx)
	if err != nil {
		return err
	}

	if run.ChangesDetected > 0 {
		changes, err := j.store.ListChangesBetween(ctx, started, time.Now().UTC())
		if err != nil {
			j.logger.Warn("loading changes for alerting failed", "run_id", runID, "error", err)
			return nil
		}
		if err := j.alerter.ProcessChanges(ctx, changes); err != nil {
			j.logger.Warn("alert dispatch failed", "run_id", runID, "error", err)
		}
	}
	return nil
}

// GenerateDailyReport builds and exports today's report.
func (j *JobSet) GenerateDailyReport(ctx context.Context, runID string) error {
	if !j.cfg.Report.Enabled {
		j.logger.Info("daily reports disabled, skipping", "run_id", runID)
		return nil
	}

	rep, err := j.reports.Generate(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	j.alerter.SendDailySummary(rep)
	return nil
}

// CleanupOldReports deletes stored reports past the retention window.
func (j *JobSet) CleanupOldReports(ctx context.Context, runID string) error {
	deleted, err := j.reports.CleanupOldReports(ctx)
	if err != nil {
		return err
	}
	if deleted > 0 {
		j.logger.Info("old reports deleted", "run_id", runID, "count", deleted)
	}
	return nil
}

// CleanupOrphanFingerprints deletes fingerprints whose book is gone.
func (j *JobSet) CleanupOrphanFingerprints(ctx context.Context, runID string) error {
	deleted, err := j.reconciler.CleanupOrphanFingerprints(ctx)
	if err != nil {
		return err
	}
	if deleted > 0 {
		j.logger.Info("orphaned fingerprints deleted", "run_id", runID, "count", deleted)
	}
	return nil
}

// RegisterDaemon wires the four jobs with their production triggers:
// detection at the configured time, the report five minutes after it,
// and the two cleanup jobs in the 01:00 night window.
func (j *JobSet) RegisterDaemon(s *schedule.Scheduler) {
	loc := j.cfg.Schedule.Location()

	reportHour, reportMinute := j.cfg.Schedule.Hour, j.cfg.Schedule.Minute+5
	if reportMinute >= 60 {
		reportMinute -= 60
		reportHour = (reportHour + 1) % 24
	}

	s.Register(schedule.Job{Name: JobDetectChanges, Run: j.DetectChanges, Timeout: detectJobTimeout},
		schedule.DailyAt(j.cfg.Schedule.Hour, j.cfg.Schedule.Minute, loc))
	s.Register(schedule.Job{Name: JobDailyReport, Run: j.GenerateDailyReport},
		schedule.DailyAt(reportHour, reportMinute, loc))
	s.Register(schedule.Job{Name: JobCleanupReports, Run: j.CleanupOldReports},
		schedule.DailyAt(1, 0, loc))
	s.Register(schedule.Job{Name: JobCleanupFingerprints, Run: j.CleanupOrphanFingerprints},
		schedule.DailyAt(1, 30, loc))
}

// RegisterTest wires the same jobs with short interval triggers so a CI
// run exercises every job in minutes instead of days.
func (j *JobSet) RegisterTest(s *schedule.Scheduler) {
	s.Register(schedule.Job{Name: JobDetectChanges, Run: j.DetectChanges, Timeout: detectJobTimeout}, schedule.Every(testDetectInterval))
	s.Register(schedule.Job{Name: JobDailyReport, Run: j.GenerateDailyReport}, schedule.Every(testReportInterval))
	s.Register(schedule.Job{Name: JobCleanupReports, Run: j.CleanupOldReports}, schedule.Every(testCleanupInterval))
	s.Register(schedule.Job{Name: JobCleanupFingerprints, Run: j.CleanupOrphanFingerprints}, schedule.Every(testFingerprintsInterval))
}

// RunOnce performs a single detection pass followed by the daily report,
// sequentially, for --once invocations.
func (j *JobSet) RunOnce(ctx context.Context) error {
	runID := time.Now().UTC().Format("20060102_150405")

	if err := j.DetectChanges(ctx, JobDetectChanges+"_"+runID); err != nil {
		return err
	}
	return j.GenerateDailyReport(ctx, JobDailyReport+"_"+runID)
}

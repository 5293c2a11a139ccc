package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	meteringdomain "github.com/smallbiznis/answerline/internal/metering/domain"
	obslogger "github.com/smallbiznis/answerline/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/answerline/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/answerline/internal/usage/domain"
	"go.uber.org/zap"
)

// jobRun tallies one sweep. Deferred rows are retried on the next tick and do
// not count as errors.
type jobRun struct {
	job            string
	runID          string
	batchSize      int
	periods        []string
	startedAt      time.Time
	processedCount int
	reportedCount  int
	reportedUnits  int64
	deferredCount  int
	errorCount     int
}

type jobRunKey struct{}

func (r *jobRun) AddProcessed(count int) {
	if r == nil || count <= 0 {
		return
	}
	r.processedCount += count
}

func (r *jobRun) AddReported(units int64) {
	if r == nil {
		return
	}
	r.reportedCount++
	r.reportedUnits += units
}

func (r *jobRun) IncDeferred() {
	if r == nil {
		return
	}
	r.deferredCount++
}

func (r *jobRun) IncError() {
	if r == nil {
		return
	}
	r.errorCount++
}

func (s *Scheduler) ensureJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, bool) {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing := jobRunFromContext(ctx); existing != nil {
		return ctx, existing, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: time.Now(),
	}
	ctx = context.WithValue(ctx, jobRunKey{}, run)
	return ctx, run, true
}

func jobRunFromContext(ctx context.Context) *jobRun {
	if ctx == nil {
		return nil
	}
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return run
	}
	return nil
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int("batch_size", run.batchSize),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	if run == nil {
		return
	}
	fields := []zap.Field{
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Strings("billing_periods", run.periods),
		zap.Int("processed_count", run.processedCount),
		zap.Int("reported_count", run.reportedCount),
		zap.Int64("reported_units", run.reportedUnits),
		zap.Int("deferred_count", run.deferredCount),
		zap.Int("error_count", run.errorCount),
	}
	log := s.logger(ctx)
	if run.errorCount > 0 {
		log.Warn("scheduler.job.finish", fields...)
		return
	}
	log.Info("scheduler.job.finish", fields...)
}

func (s *Scheduler) logSchedulerError(ctx context.Context, run *jobRun, msg string, job string, businessID snowflake.ID, err error, fields ...zap.Field) {
	if err == nil {
		return
	}
	if run != nil {
		run.IncError()
	}
	baseFields := []zap.Field{
		zap.String("job", job),
		zap.String("business_id", idString(businessID)),
		zap.String("error_type", obsmetrics.ClassifySchedulerErrorType(err)),
		zap.String("error", err.Error()),
		zap.Bool("retryable", obsmetrics.IsSchedulerErrorRetryable(err)),
	}
	s.logger(ctx).Error(msg, append(baseFields, fields...)...)
}

func (s *Scheduler) logReconciled(ctx context.Context, row usagedomain.UsagePeriod, result meteringdomain.ReportResult) {
	// business_id comes from the row context.
	s.logger(ctx).Info("metering.sweep.reconciled",
		zap.String("billing_period", row.BillingPeriod),
		zap.Int64("units", result.Units),
	)
}

func idString(id snowflake.ID) string {
	if id == 0 {
		return ""
	}
	return id.String()
}

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/answerline/internal/clock"
	meteringdomain "github.com/smallbiznis/answerline/internal/metering/domain"
	obscontext "github.com/smallbiznis/answerline/internal/observability/context"
	obsmetrics "github.com/smallbiznis/answerline/internal/observability/metrics"
	"github.com/smallbiznis/answerline/internal/plan"
	usagedomain "github.com/smallbiznis/answerline/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const jobMeteringSweep = "metering_sweep"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	UsageRepo usagedomain.Repository
	Reporter  meteringdomain.Reporter
	Plans     *plan.Resolver
	Config    Config `optional:"true"`
}

type Scheduler struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	usageRepo usagedomain.Repository
	reporter  meteringdomain.Reporter
	plans     *plan.Resolver
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.UsageRepo == nil || p.Reporter == nil || p.Plans == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		db:        p.DB,
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       cfg,
		genID:     p.GenID,
		clock:     p.Clock,
		usageRepo: p.UsageRepo,
		reporter:  p.Reporter,
		plans:     p.Plans,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick resumes the sweep
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, jobMeteringSweep, s.cfg.BatchSize, s.cfg.JobTimeout, s.MeteringSweepJob)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// MeteringSweepJob reconciles every period of the current and previous
// month whose overage is ahead of what was reported. Older periods are left
// alone: the provider has already invoiced them, so late units would land on
// the wrong invoice.
func (s *Scheduler) MeteringSweepJob(ctx context.Context) error {
	run := jobRunFromContext(ctx)
	schedMetrics := obsmetrics.Scheduler()

	current := usagedomain.BillingPeriodOf(s.clock.Now())
	previous, err := usagedomain.PreviousBillingPeriod(current)
	if err != nil {
		return err
	}
	periods := []string{previous, current}
	if run != nil {
		run.periods = periods
	}

	query := usagedomain.UnreportedQuery{
		Periods:  periods,
		Included: s.plans.IncludedMinutesByPlan(),
		Default:  s.plans.IncludedMinutes(plan.PlanNone),
		Limit:    s.cfg.BatchSize,
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rows, err := s.usageRepo.ListUnreported(ctx, s.db, query)
		if err != nil {
			s.logSchedulerError(ctx, run, "metering.sweep.list_failed", jobMeteringSweep, 0, err)
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		for _, row := range rows {
			rowCtx := obscontext.WithBusinessID(ctx, row.BusinessID.String())
			result := s.reporter.Reconcile(rowCtx, row.BusinessID, row.BillingPeriod)
			switch result.Outcome {
			case meteringdomain.OutcomeLeaseHeld:
				run.IncDeferred()
				schedMetrics.IncBatchDeferred(jobMeteringSweep, obsmetrics.SchedulerBatchDeferredReasonLeaseHeld)
			case meteringdomain.OutcomeFailed:
				run.IncError()
				schedMetrics.IncJobError(jobMeteringSweep, meteringdomain.ErrExternalService)
			case meteringdomain.OutcomeUnavailable:
				run.IncDeferred()
				schedMetrics.IncBatchDeferred(jobMeteringSweep, obsmetrics.SchedulerBatchDeferredReasonLeaseUnavailable)
			case meteringdomain.OutcomeReported:
				run.AddReported(result.Units)
				s.logReconciled(rowCtx, row, result)
			}
			query.AfterID = row.ID
		}
		run.AddProcessed(len(rows))
		schedMetrics.AddBatchProcessed(jobMeteringSweep, "usage_period", len(rows))

		if len(rows) < s.cfg.BatchSize {
			return nil
		}
	}
}

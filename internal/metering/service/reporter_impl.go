package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	businessdomain "github.com/smallbiznis/answerline/internal/business/domain"
	"github.com/smallbiznis/answerline/internal/clock"
	"github.com/smallbiznis/answerline/internal/config"
	"github.com/smallbiznis/answerline/internal/lock"
	meteringdomain "github.com/smallbiznis/answerline/internal/metering/domain"
	obsmetrics "github.com/smallbiznis/answerline/internal/observability/metrics"
	"github.com/smallbiznis/answerline/internal/plan"
	subscriptiondomain "github.com/smallbiznis/answerline/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/answerline/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const providerLabel = "stripe"

type Reporter struct {
	db  *gorm.DB
	log *zap.Logger

	clock            clock.Clock
	client           meteringdomain.Client
	locker           lock.Locker
	usageRepo        usagedomain.Repository
	businessRepo     businessdomain.Repository
	subscriptionRepo subscriptiondomain.Repository
	plans            *plan.Resolver
	metrics          *obsmetrics.Metrics
	timeout          time.Duration
}

type ReporterParam struct {
	fx.In

	DB               *gorm.DB
	Log              *zap.Logger
	Clock            clock.Clock
	Cfg              config.Config
	Client           meteringdomain.Client `optional:"true"`
	Locker           lock.Locker
	UsageRepo        usagedomain.Repository
	BusinessRepo     businessdomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
	Plans            *plan.Resolver
	Metrics          *obsmetrics.Metrics `optional:"true"`
}

func NewReporter(p ReporterParam) meteringdomain.Reporter {
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.NewNop()
	}
	timeout := p.Cfg.Billing.MeteringTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Reporter{
		db:  p.DB,
		log: p.Log.Named("metering.reporter"),

		clock:            p.Clock,
		client:           p.Client,
		locker:           p.Locker,
		usageRepo:        p.UsageRepo,
		businessRepo:     p.BusinessRepo,
		subscriptionRepo: p.SubscriptionRepo,
		plans:            p.Plans,
		metrics:          metrics,
		timeout:          timeout,
	}
}

func (r *Reporter) Report(ctx context.Context, req meteringdomain.ReportRequest) meteringdomain.ReportResult {
	if req.IncrementalOverage <= 0 {
		return meteringdomain.ReportResult{Outcome: meteringdomain.OutcomeNothingDue}
	}
	return r.Reconcile(ctx, req.BusinessID, req.Period)
}

// Reconcile sends whatever overage the period owes beyond what was already
// reported. The ledger only advances after the provider accepted the units. A
// submission that failed stays pending and is resent unchanged, under the same
// idempotency key, before any newer units.
func (r *Reporter) Reconcile(ctx context.Context, businessID snowflake.ID, period string) meteringdomain.ReportResult {
	if r.client == nil {
		r.log.Debug("metering disabled",
			zap.String("business_id", businessID.String()),
			zap.String("billing_period", period),
		)
		return meteringdomain.ReportResult{Outcome: meteringdomain.OutcomeDisabled}
	}

	key := fmt.Sprintf("metering:%s:%s", businessID.String(), period)
	token, ok, err := r.locker.TryLock(ctx, key, 2*r.timeout+5*time.Second)
	if err != nil {
		r.log.Warn("metering lease unavailable",
			zap.String("business_id", businessID.String()),
			zap.String("billing_period", period),
			zap.Error(err),
		)
		r.metrics.RecordMeteringFailure(ctx, providerLabel, "lease_error")
		return meteringdomain.ReportResult{Outcome: meteringdomain.OutcomeUnavailable}
	}
	if !ok {
		// The holder re-reads the period and will include this delta.
		return meteringdomain.ReportResult{Outcome: meteringdomain.OutcomeLeaseHeld}
	}
	defer func() {
		if err := r.locker.Release(context.WithoutCancel(ctx), key, token); err != nil {
			r.log.Warn("failed to release metering lease", zap.String("lease_key", key), zap.Error(err))
		}
	}()

	result, err := r.reconcile(ctx, businessID, period)
	if err != nil {
		reason := "internal"
		if errors.Is(err, meteringdomain.ErrExternalService) {
			reason = "external_service"
		}
		r.metrics.RecordMeteringFailure(ctx, providerLabel, reason)
		r.log.Warn("overage report failed; will retry on next report",
			zap.String("business_id", businessID.String()),
			zap.String("billing_period", period),
			zap.Error(err),
		)
		return meteringdomain.ReportResult{Outcome: meteringdomain.OutcomeFailed}
	}
	return result
}

func (r *Reporter) reconcile(ctx context.Context, businessID snowflake.ID, period string) (meteringdomain.ReportResult, error) {
	usage, err := r.usageRepo.Find(ctx, r.db, businessID, period)
	if err != nil {
		return meteringdomain.ReportResult{}, err
	}
	if usage == nil {
		return meteringdomain.ReportResult{Outcome: meteringdomain.OutcomeNothingDue}, nil
	}

	business, err := r.businessRepo.FindByID(ctx, r.db, businessID)
	if err != nil {
		return meteringdomain.ReportResult{}, err
	}
	if business == nil {
		return meteringdomain.ReportResult{}, businessdomain.ErrBusinessNotFound
	}

	owed := r.plans.OverageMinutes(business.PlanType, usage.BillableMinutes())
	pendingFrom, pendingTo, pendingAt, pending := usage.Pending()
	if owed <= usage.ReportedOverageUnits && !pending {
		return meteringdomain.ReportResult{Outcome: meteringdomain.OutcomeNothingDue}, nil
	}

	sub, err := r.subscriptionRepo.FindByBusinessID(ctx, r.db, businessID)
	if err != nil {
		return meteringdomain.ReportResult{}, err
	}
	if sub == nil || !sub.IsBillable() {
		r.log.Debug("skipping overage report",
			zap.String("business_id", businessID.String()),
			zap.Error(meteringdomain.ErrNoActiveSubscriptionItem),
		)
		return meteringdomain.ReportResult{Outcome: meteringdomain.OutcomeNoItem}, nil
	}

	var units int64
	reported := usage.ReportedOverageUnits
	if pending {
		// The provider may already hold this range; resend it unchanged so
		// the idempotency key deduplicates it.
		if err := r.submit(ctx, usage, *sub.MeteredItemID, pendingFrom, pendingTo, pendingAt); err != nil {
			return meteringdomain.ReportResult{}, err
		}
		units += pendingTo - pendingFrom
		reported = pendingTo
	}

	if owed > reported {
		from, to := reported, owed
		at := r.clock.Now().UTC().Truncate(time.Second)
		marked, err := r.usageRepo.MarkPending(ctx, r.db, usage.ID, from, to, at)
		if err != nil {
			return meteringdomain.ReportResult{}, fmt.Errorf("mark pending overage: %w", err)
		}
		if !marked {
			return meteringdomain.ReportResult{}, usagedomain.ErrReportedStale
		}
		if err := r.submit(ctx, usage, *sub.MeteredItemID, from, to, at); err != nil {
			return meteringdomain.ReportResult{}, err
		}
		units += to - from
	}

	if units == 0 {
		return meteringdomain.ReportResult{Outcome: meteringdomain.OutcomeNothingDue}, nil
	}
	return meteringdomain.ReportResult{Outcome: meteringdomain.OutcomeReported, Units: units}, nil
}

// submit sends the units in [from, to) and advances the ledger once the
// provider accepted them.
func (r *Reporter) submit(ctx context.Context, usage *usagedomain.UsagePeriod, itemID string, from, to int64, at time.Time) error {
	submission := meteringdomain.UsageSubmission{
		SubscriptionItemID: itemID,
		Quantity:           to - from,
		Timestamp:          at,
		IdempotencyKey:     meteringdomain.IdempotencyKey(usage.ID, from, to),
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	err := r.client.SubmitUsage(callCtx, submission)
	cancel()
	if err != nil {
		if !errors.Is(err, meteringdomain.ErrExternalService) {
			err = fmt.Errorf("%w: %v", meteringdomain.ErrExternalService, err)
		}
		return err
	}

	advanced, err := r.usageRepo.AdvanceReported(ctx, r.db, usage.ID, from, to-from)
	if err != nil {
		return fmt.Errorf("advance reported units: %w", err)
	}
	if !advanced {
		// Another writer moved the counter while we held the lease; the
		// provider already has these units under this idempotency key.
		r.log.Error("reported overage moved concurrently",
			zap.String("business_id", usage.BusinessID.String()),
			zap.String("billing_period", usage.BillingPeriod),
			zap.Int64("expected", from),
		)
		return usagedomain.ErrReportedStale
	}

	r.metrics.RecordOverageReported(ctx, providerLabel, to-from)
	r.log.Info("overage reported",
		zap.String("business_id", usage.BusinessID.String()),
		zap.String("billing_period", usage.BillingPeriod),
		zap.Int64("units", to-from),
		zap.Int64("reported_overage_units", to),
		zap.String("idempotency_key", submission.IdempotencyKey),
	)
	return nil
}

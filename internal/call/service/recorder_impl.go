package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	businessdomain "github.com/smallbiznis/answerline/internal/business/domain"
	calldomain "github.com/smallbiznis/answerline/internal/call/domain"
	"github.com/smallbiznis/answerline/internal/clock"
	"github.com/smallbiznis/answerline/internal/config"
	meteringdomain "github.com/smallbiznis/answerline/internal/metering/domain"
	obsmetrics "github.com/smallbiznis/answerline/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/answerline/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxCorrectionAttempts = 3

type Recorder struct {
	db  *gorm.DB
	log *zap.Logger

	genID        *snowflake.Node
	clock        clock.Clock
	repo         calldomain.Repository
	businessRepo businessdomain.Repository
	resolver     calldomain.BusinessResolver
	accumulator  usagedomain.Accumulator
	reporter     meteringdomain.Reporter
	metrics      *obsmetrics.Metrics

	maxDuration      time.Duration
	correctionPolicy string
}

type RecorderParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Cfg          config.Config
	Repo         calldomain.Repository
	BusinessRepo businessdomain.Repository
	Resolver     calldomain.BusinessResolver
	Accumulator  usagedomain.Accumulator
	Reporter     meteringdomain.Reporter
	Metrics      *obsmetrics.Metrics `optional:"true"`
}

func NewRecorder(p RecorderParam) calldomain.Recorder {
	metrics := p.Metrics
	if metrics == nil {
		metrics = obsmetrics.NewNop()
	}
	policy := p.Cfg.Billing.CorrectionPolicy
	if policy == "" {
		policy = config.CorrectionPolicyUpward
	}
	return &Recorder{
		db:  p.DB,
		log: p.Log.Named("call.recorder"),

		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		businessRepo: p.BusinessRepo,
		resolver:     p.Resolver,
		accumulator:  p.Accumulator,
		reporter:     p.Reporter,
		metrics:      metrics,

		maxDuration:      p.Cfg.Billing.CallMaxDuration,
		correctionPolicy: policy,
	}
}

// Record applies one telephony delivery. The external call id's unique key
// decides which delivery creates the record and bills it; every later
// delivery only fills in descriptive fields, plus an upward duration
// correction when that policy is on. Metering runs after commit and never
// fails the delivery.
func (r *Recorder) Record(ctx context.Context, event calldomain.CallEvent) (calldomain.RecordResult, error) {
	if err := event.Validate(); err != nil {
		return calldomain.RecordResult{}, err
	}

	businessID, err := r.resolver.Resolve(ctx, event.AgentID, event.ToNumber)
	if err != nil {
		if errors.Is(err, calldomain.ErrBusinessUnknown) {
			r.log.Warn("call for unmapped business",
				zap.String("external_call_id", event.ExternalCallID),
				zap.String("agent_id", event.AgentID),
				zap.String("to_number", event.ToNumber),
			)
			r.metrics.RecordIgnoredTelephonyEvent(ctx, "unmapped_business")
		}
		return calldomain.RecordResult{}, err
	}

	now := r.clock.Now().UTC()
	billed := calldomain.BillableMinutes(event.DurationSeconds, r.maxDuration)
	period := usagedomain.BillingPeriodOf(event.OccurredAt(now))

	var (
		result  calldomain.RecordResult
		usageBy snowflake.ID
	)
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		business, err := r.businessRepo.FindByID(ctx, tx, businessID)
		if err != nil {
			return err
		}
		if business == nil {
			return calldomain.ErrBusinessUnknown
		}

		record := r.newRecord(event, business, billed, period, now)
		created, err := r.repo.InsertIfAbsent(ctx, tx, record)
		if err != nil {
			return fmt.Errorf("insert call record: %w", err)
		}

		if created {
			added, err := r.accumulator.Add(ctx, tx, usagedomain.AddRequest{
				BusinessID: business.ID,
				Period:     period,
				Minutes:    billed,
				Plan:       business.PlanType,
				Trial:      record.Trial,
			})
			if err != nil {
				return err
			}
			usageBy = business.ID
			result = calldomain.RecordResult{
				Call:               record,
				Created:            true,
				BilledDelta:        billed,
				IncrementalOverage: added.IncrementalOverage,
			}
			return nil
		}

		existing, err := r.repo.FindByExternalID(ctx, tx, event.ExternalCallID)
		if err != nil {
			return err
		}
		if existing == nil {
			return fmt.Errorf("call record %s vanished after conflict", event.ExternalCallID)
		}
		if err := r.repo.UpdateDescriptive(ctx, tx, existing, calldomain.NewDescriptiveUpdate(event, now)); err != nil {
			return fmt.Errorf("update call record: %w", err)
		}

		delta, overage, err := r.correct(ctx, tx, existing, event.DurationSeconds)
		if err != nil {
			return err
		}
		usageBy = existing.BusinessID
		result = calldomain.RecordResult{
			Call:               existing,
			Duplicate:          true,
			BilledDelta:        delta,
			IncrementalOverage: overage,
		}
		return nil
	})
	if err != nil {
		return calldomain.RecordResult{}, err
	}

	if result.Created {
		r.metrics.RecordCall(ctx, string(event.EventType), result.BilledDelta)
	} else {
		r.metrics.RecordDuplicateCall(ctx, string(event.EventType), result.BilledDelta)
	}

	if result.IncrementalOverage > 0 {
		result.Report = r.reporter.Report(context.WithoutCancel(ctx), meteringdomain.ReportRequest{
			BusinessID:         usageBy,
			Period:             result.Call.BillingPeriod,
			IncrementalOverage: result.IncrementalOverage,
		})
	} else {
		result.Report = meteringdomain.ReportResult{Outcome: meteringdomain.OutcomeNothingDue}
	}

	r.log.Info("call recorded",
		zap.String("business_id", usageBy.String()),
		zap.String("external_call_id", event.ExternalCallID),
		zap.String("event_type", string(event.EventType)),
		zap.Bool("created", result.Created),
		zap.Int64("billed_delta", result.BilledDelta),
		zap.Int64("incremental_overage", result.IncrementalOverage),
		zap.String("metering_outcome", string(result.Report.Outcome)),
	)
	return result, nil
}

// correct applies a larger redelivered duration under the upward policy. The
// record is swapped with compare-and-set so concurrent corrections each add
// only their own delta. Smaller durations are ignored.
func (r *Recorder) correct(ctx context.Context, tx *gorm.DB, record *calldomain.CallRecord, durationSeconds int64) (int64, int64, error) {
	if r.correctionPolicy != config.CorrectionPolicyUpward || durationSeconds <= 0 {
		return 0, 0, nil
	}
	newBilled := calldomain.BillableMinutes(durationSeconds, r.maxDuration)

	for attempt := 0; attempt < maxCorrectionAttempts; attempt++ {
		if newBilled <= record.BilledMinutes {
			return 0, 0, nil
		}
		swapped, err := r.repo.CorrectBilled(ctx, tx, record.ID, record.BilledMinutes, durationSeconds, newBilled)
		if err != nil {
			return 0, 0, fmt.Errorf("correct billed minutes: %w", err)
		}
		if swapped {
			delta := newBilled - record.BilledMinutes
			business, err := r.businessRepo.FindByID(ctx, tx, record.BusinessID)
			if err != nil {
				return 0, 0, err
			}
			if business == nil {
				return 0, 0, calldomain.ErrBusinessUnknown
			}
			added, err := r.accumulator.Add(ctx, tx, usagedomain.AddRequest{
				BusinessID: record.BusinessID,
				Period:     record.BillingPeriod,
				Minutes:    delta,
				Plan:       business.PlanType,
				Trial:      record.Trial,
			})
			if err != nil {
				return 0, 0, err
			}
			r.log.Info("call duration corrected",
				zap.String("external_call_id", record.ExternalCallID),
				zap.Int64("previous_billed_minutes", record.BilledMinutes),
				zap.Int64("billed_minutes", newBilled),
			)
			record.DurationSeconds = durationSeconds
			record.BilledMinutes = newBilled
			return delta, added.IncrementalOverage, nil
		}

		fresh, err := r.repo.FindByExternalID(ctx, tx, record.ExternalCallID)
		if err != nil {
			return 0, 0, err
		}
		if fresh == nil {
			return 0, 0, calldomain.ErrCallNotFound
		}
		*record = *fresh
	}
	return 0, 0, fmt.Errorf("correct billed minutes for %s: too much contention", record.ExternalCallID)
}

func (r *Recorder) newRecord(event calldomain.CallEvent, business *businessdomain.Business, billed int64, period string, now time.Time) *calldomain.CallRecord {
	record := &calldomain.CallRecord{
		ID:               r.genID.Generate(),
		ExternalCallID:   event.ExternalCallID,
		BusinessID:       business.ID,
		EventType:        event.EventType,
		AgentID:          event.AgentID,
		FromNumber:       event.FromNumber,
		ToNumber:         event.ToNumber,
		StartedAt:        event.StartedAt,
		EndedAt:          event.EndedAt,
		DurationSeconds:  event.DurationSeconds,
		BilledMinutes:    billed,
		BillingPeriod:    period,
		Trial:            business.IsOnTrial(),
		Transcript:       event.Transcript,
		CallerName:       event.Intake.CallerName,
		CallerPhone:      event.Intake.CallerPhone,
		ServiceAddress:   event.Intake.ServiceAddress,
		IssueDescription: event.Intake.IssueDescription,
		Summary:          event.Intake.Summary,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if event.Intake.IsEmergency != nil {
		record.IsEmergency = *event.Intake.IsEmergency
	}
	if len(event.Extras) > 0 {
		record.Extras = datatypes.JSONMap(event.Extras)
	}
	if event.EventType == calldomain.EventTypeCallAnalyzed {
		analyzedAt := now
		record.AnalyzedAt = &analyzedAt
	}
	return record
}

package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	businessdomain "github.com/smallbiznis/answerline/internal/business/domain"
	"github.com/smallbiznis/answerline/internal/clock"
	"github.com/smallbiznis/answerline/internal/plan"
	usagedomain "github.com/smallbiznis/answerline/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID        *snowflake.Node
	clock        clock.Clock
	repo         usagedomain.Repository
	businessRepo businessdomain.Repository
	plans        *plan.Resolver
}

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Repo         usagedomain.Repository
	BusinessRepo businessdomain.Repository
	Plans        *plan.Resolver
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		businessRepo: p.BusinessRepo,
		plans:        p.Plans,
	}
}

// Add applies minutes to the period with a storage-side increment and reads the
// row back inside tx, so the before/after totals belong to this increment only.
func (s *Service) Add(ctx context.Context, tx *gorm.DB, req usagedomain.AddRequest) (usagedomain.AddResult, error) {
	if req.BusinessID == 0 {
		return usagedomain.AddResult{}, usagedomain.ErrInvalidBusiness
	}
	if _, err := usagedomain.ParseBillingPeriod(req.Period); err != nil {
		return usagedomain.AddResult{}, err
	}
	if req.Minutes <= 0 {
		return usagedomain.AddResult{}, usagedomain.ErrInvalidMinutes
	}

	if err := s.repo.EnsurePeriod(ctx, tx, s.genID.Generate(), req.BusinessID, req.Period); err != nil {
		return usagedomain.AddResult{}, fmt.Errorf("ensure usage period: %w", err)
	}

	var trialMinutes int64
	if req.Trial {
		trialMinutes = req.Minutes
	}
	if err := s.repo.Increment(ctx, tx, req.BusinessID, req.Period, req.Minutes, trialMinutes); err != nil {
		return usagedomain.AddResult{}, fmt.Errorf("increment usage period: %w", err)
	}
	if req.Trial {
		if err := s.businessRepo.IncrementTrialMinutes(ctx, tx, req.BusinessID, req.Minutes); err != nil {
			return usagedomain.AddResult{}, fmt.Errorf("increment trial minutes: %w", err)
		}
	}

	period, err := s.repo.Find(ctx, tx, req.BusinessID, req.Period)
	if err != nil {
		return usagedomain.AddResult{}, err
	}
	if period == nil {
		return usagedomain.AddResult{}, usagedomain.ErrUsagePeriodNotFound
	}

	billableAfter := period.BillableMinutes()
	billableBefore := billableAfter
	if !req.Trial {
		billableBefore = billableAfter - req.Minutes
	}

	overageBefore := s.plans.OverageMinutes(req.Plan, billableBefore)
	overageAfter := s.plans.OverageMinutes(req.Plan, billableAfter)

	result := usagedomain.AddResult{
		Period:             *period,
		PreviousTotal:      period.MinutesUsedTotal - req.Minutes,
		NewTotal:           period.MinutesUsedTotal,
		OverageBefore:      overageBefore,
		OverageAfter:       overageAfter,
		IncrementalOverage: overageAfter - overageBefore,
	}

	s.log.Debug("usage accumulated",
		zap.String("business_id", req.BusinessID.String()),
		zap.String("billing_period", req.Period),
		zap.Int64("minutes", req.Minutes),
		zap.Bool("trial", req.Trial),
		zap.Int64("minutes_used_total", result.NewTotal),
		zap.Int64("incremental_overage", result.IncrementalOverage),
	)

	return result, nil
}

func (s *Service) Summary(ctx context.Context, businessID string, period string) (usagedomain.Summary, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(businessID))
	if err != nil || id == 0 {
		return usagedomain.Summary{}, businessdomain.ErrInvalidBusinessID
	}

	period = strings.TrimSpace(period)
	if period == "" {
		period = usagedomain.BillingPeriodOf(s.clock.Now())
	}
	if _, err := usagedomain.ParseBillingPeriod(period); err != nil {
		return usagedomain.Summary{}, err
	}

	business, err := s.businessRepo.FindByID(ctx, s.db, id)
	if err != nil {
		return usagedomain.Summary{}, err
	}
	if business == nil {
		return usagedomain.Summary{}, businessdomain.ErrBusinessNotFound
	}

	row, err := s.repo.Find(ctx, s.db, id, period)
	if err != nil {
		return usagedomain.Summary{}, err
	}
	if row == nil {
		row = &usagedomain.UsagePeriod{BusinessID: id, BillingPeriod: period}
	}

	entitlement := s.plans.Resolve(business.PlanType)
	overage := plan.Overage(entitlement.IncludedMinutes, row.BillableMinutes())
	unreported := overage - row.ReportedOverageUnits
	if unreported < 0 {
		unreported = 0
	}

	return usagedomain.Summary{
		BusinessID:             id,
		BillingPeriod:          period,
		Plan:                   entitlement.Plan,
		IncludedMinutes:        entitlement.IncludedMinutes,
		MinutesUsedTotal:       row.MinutesUsedTotal,
		TrialMinutesTotal:      row.TrialMinutesTotal,
		BillableMinutes:        row.BillableMinutes(),
		OverageMinutes:         overage,
		ReportedOverageUnits:   row.ReportedOverageUnits,
		UnreportedOverageUnits: unreported,
	}, nil
}

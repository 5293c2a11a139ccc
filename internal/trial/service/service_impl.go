package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	businessdomain "github.com/smallbiznis/answerline/internal/business/domain"
	"github.com/smallbiznis/answerline/internal/clock"
	"github.com/smallbiznis/answerline/internal/config"
	"github.com/smallbiznis/answerline/internal/plan"
	trialdomain "github.com/smallbiznis/answerline/internal/trial/domain"
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
	businessRepo businessdomain.Repository
	usageRepo    usagedomain.Repository
	validate     *validator.Validate

	trialDays    int
	trialMinutes int64
}

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Cfg          config.Config
	BusinessRepo businessdomain.Repository
	UsageRepo    usagedomain.Repository
}

func NewService(p ServiceParam) trialdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("trial.service"),

		genID:        p.GenID,
		clock:        p.Clock,
		businessRepo: p.BusinessRepo,
		usageRepo:    p.UsageRepo,
		validate:     validator.New(),

		trialDays:    p.Cfg.Billing.TrialDays,
		trialMinutes: p.Cfg.Billing.TrialMinutes,
	}
}

func (s *Service) Status(ctx context.Context, businessID string) (trialdomain.TrialStatus, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(businessID))
	if err != nil || id == 0 {
		return trialdomain.TrialStatus{}, businessdomain.ErrInvalidBusinessID
	}

	business, err := s.businessRepo.FindByID(ctx, s.db, id)
	if err != nil {
		return trialdomain.TrialStatus{}, err
	}
	if business == nil {
		return trialdomain.TrialStatus{}, businessdomain.ErrBusinessNotFound
	}

	now := s.clock.Now()
	var currentUsage int64
	if !business.IsOnTrial() {
		period, err := s.usageRepo.Find(ctx, s.db, id, usagedomain.BillingPeriodOf(now))
		if err != nil {
			return trialdomain.TrialStatus{}, err
		}
		if period != nil {
			currentUsage = period.BillableMinutes()
		}
	}

	return trialdomain.Derive(now, *business, currentUsage, s.trialMinutes), nil
}

// StartTrial creates the business and claims its phone number in one
// transaction. A number can start at most one trial, ever.
func (s *Service) StartTrial(ctx context.Context, req trialdomain.StartTrialRequest) (*businessdomain.Business, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.VoiceAgentID = strings.TrimSpace(req.VoiceAgentID)
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "PhoneNumber" {
			return nil, businessdomain.ErrInvalidPhoneNumber
		}
		return nil, trialdomain.ErrInvalidName
	}

	phone, err := businessdomain.NormalizePhoneNumber(req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	endsAt := now.Add(time.Duration(s.trialDays) * 24 * time.Hour)
	business := &businessdomain.Business{
		ID:                 s.genID.Generate(),
		Name:               req.Name,
		PhoneNumber:        phone,
		PlanType:           plan.PlanNone,
		SubscriptionStatus: businessdomain.SubscriptionStatusNone,
		TrialStartedAt:     &now,
		TrialEndsAt:        &endsAt,
		Active:             true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if req.VoiceAgentID != "" {
		agentID := req.VoiceAgentID
		business.VoiceAgentID = &agentID
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.businessRepo.FindTrialClaim(ctx, tx, phone)
		if err != nil {
			return err
		}
		if existing != nil {
			return businessdomain.ErrTrialAlreadyClaimed
		}
		if err := s.businessRepo.Insert(ctx, tx, business); err != nil {
			return err
		}
		return s.businessRepo.InsertTrialClaim(ctx, tx, &businessdomain.TrialClaim{
			ID:          s.genID.Generate(),
			PhoneNumber: phone,
			BusinessID:  business.ID,
			CreatedAt:   now,
		})
	})
	if err != nil {
		if errors.Is(err, businessdomain.ErrTrialAlreadyClaimed) {
			s.log.Info("trial already claimed for phone number",
				zap.String("business_name", req.Name),
				zap.String("claimed_phone", phone),
			)
			return nil, err
		}
		if errors.Is(err, businessdomain.ErrVoiceAgentTaken) {
			return nil, err
		}
		return nil, fmt.Errorf("start trial: %w", err)
	}

	s.log.Info("trial started",
		zap.String("business_id", business.ID.String()),
		zap.Time("trial_ends_at", endsAt),
	)
	return business, nil
}

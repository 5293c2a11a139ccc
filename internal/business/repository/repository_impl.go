package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	businessdomain "github.com/smallbiznis/answerline/internal/business/domain"
	"github.com/smallbiznis/answerline/pkg/db/option"
	"github.com/smallbiznis/answerline/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() businessdomain.Repository {
	return &repo{}
}

// Insert fails with ErrVoiceAgentTaken when the agent id is already bound.
func (r *repo) Insert(ctx context.Context, conn *gorm.DB, business *businessdomain.Business) error {
	err := repository.ProvideStore[businessdomain.Business](conn).Insert(ctx, business)
	if errors.Is(err, repository.ErrDuplicate) {
		return businessdomain.ErrVoiceAgentTaken
	}
	return err
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*businessdomain.Business, error) {
	return repository.ProvideStore[businessdomain.Business](conn).FindOne(ctx, &businessdomain.Business{ID: id})
}

func (r *repo) FindByVoiceAgentID(ctx context.Context, conn *gorm.DB, agentID string) (*businessdomain.Business, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, nil
	}
	return repository.ProvideStore[businessdomain.Business](conn).FindOne(ctx, &businessdomain.Business{VoiceAgentID: &agentID})
}

// FindByPhoneNumber returns the oldest business on the number.
func (r *repo) FindByPhoneNumber(ctx context.Context, conn *gorm.DB, phoneNumber string) (*businessdomain.Business, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if phoneNumber == "" {
		return nil, nil
	}
	return repository.ProvideStore[businessdomain.Business](conn).FindOne(ctx,
		&businessdomain.Business{PhoneNumber: phoneNumber},
		option.WithOrder("id ASC"),
	)
}

// IncrementTrialMinutes only touches businesses still on trial; a converted
// business keeps its cleared counter.
func (r *repo) IncrementTrialMinutes(ctx context.Context, conn *gorm.DB, id snowflake.ID, minutes int64) error {
	if minutes <= 0 {
		return nil
	}
	return conn.WithContext(ctx).
		Model(&businessdomain.Business{}).
		Where("id = ?", id).
		Where("subscription_status NOT IN ?", []businessdomain.SubscriptionStatus{
			businessdomain.SubscriptionStatusActive,
			businessdomain.SubscriptionStatusPastDue,
		}).
		Updates(map[string]any{
			"trial_minutes_used": gorm.Expr("trial_minutes_used + ?", minutes),
			"updated_at":         time.Now().UTC(),
		}).Error
}

func (r *repo) ConvertFromTrial(ctx context.Context, conn *gorm.DB, id snowflake.ID, params businessdomain.ConvertParams) error {
	updates := map[string]any{
		"subscription_status": businessdomain.SubscriptionStatusActive,
		"trial_started_at":    nil,
		"trial_ends_at":       nil,
		"trial_minutes_used":  0,
		"active":              true,
		"updated_at":          time.Now().UTC(),
	}
	if params.Plan.IsPaid() {
		updates["plan_type"] = params.Plan
	}
	if customerID := strings.TrimSpace(params.CustomerID); customerID != "" {
		updates["billing_customer_id"] = customerID
	}

	result := conn.WithContext(ctx).
		Model(&businessdomain.Business{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return businessdomain.ErrBusinessNotFound
	}
	return nil
}

func (r *repo) UpdateSubscriptionState(ctx context.Context, conn *gorm.DB, id snowflake.ID, state businessdomain.SubscriptionState) error {
	updates := map[string]any{
		"updated_at": time.Now().UTC(),
	}
	if state.Status != nil {
		updates["subscription_status"] = *state.Status
	}
	if state.Plan != nil {
		updates["plan_type"] = *state.Plan
	}
	if state.Active != nil {
		updates["active"] = *state.Active
	}

	result := conn.WithContext(ctx).
		Model(&businessdomain.Business{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return businessdomain.ErrBusinessNotFound
	}
	return nil
}

func (r *repo) InsertTrialClaim(ctx context.Context, conn *gorm.DB, claim *businessdomain.TrialClaim) error {
	err := repository.ProvideStore[businessdomain.TrialClaim](conn).Insert(ctx, claim)
	if errors.Is(err, repository.ErrDuplicate) {
		return businessdomain.ErrTrialAlreadyClaimed
	}
	return err
}

func (r *repo) FindTrialClaim(ctx context.Context, conn *gorm.DB, phoneNumber string) (*businessdomain.TrialClaim, error) {
	return repository.ProvideStore[businessdomain.TrialClaim](conn).FindOne(ctx,
		&businessdomain.TrialClaim{PhoneNumber: strings.TrimSpace(phoneNumber)},
	)
}

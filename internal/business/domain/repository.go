package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/answerline/internal/plan"
	"gorm.io/gorm"
)

// ConvertParams describes a trial-to-paid conversion.
type ConvertParams struct {
	Plan       plan.PlanType
	CustomerID string
}

// SubscriptionState is mirrored onto the business by subscription sync.
// Nil fields are left unchanged.
type SubscriptionState struct {
	Status *SubscriptionStatus
	Plan   *plan.PlanType
	Active *bool
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, business *Business) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Business, error)
	FindByVoiceAgentID(ctx context.Context, db *gorm.DB, agentID string) (*Business, error)
	FindByPhoneNumber(ctx context.Context, db *gorm.DB, phoneNumber string) (*Business, error)
	IncrementTrialMinutes(ctx context.Context, db *gorm.DB, id snowflake.ID, minutes int64) error
	ConvertFromTrial(ctx context.Context, db *gorm.DB, id snowflake.ID, params ConvertParams) error
	UpdateSubscriptionState(ctx context.Context, db *gorm.DB, id snowflake.ID, state SubscriptionState) error

	InsertTrialClaim(ctx context.Context, db *gorm.DB, claim *TrialClaim) error
	FindTrialClaim(ctx context.Context, db *gorm.DB, phoneNumber string) (*TrialClaim, error)
}

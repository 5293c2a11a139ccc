// Package domain contains persistence models for businesses and trial claims.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/answerline/internal/plan"
)

// SubscriptionStatus is the business-level mirror of the billing relationship.
type SubscriptionStatus string

const (
	SubscriptionStatusNone     SubscriptionStatus = "NONE"
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
)

// IsConverted reports whether the business has left the trial.
// PAST_DUE stays converted; suspension is carried by Business.Active.
func (s SubscriptionStatus) IsConverted() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusPastDue
}

// Business is a tenant of the call-answering service.
type Business struct {
	ID                 snowflake.ID       `gorm:"primaryKey" json:"id"`
	Name               string             `gorm:"type:text;not null" json:"name"`
	PhoneNumber        string             `gorm:"type:varchar(32);not null;index" json:"phone_number"`
	VoiceAgentID       *string            `gorm:"type:varchar(191);uniqueIndex" json:"voice_agent_id,omitempty"`
	PlanType           plan.PlanType      `gorm:"type:varchar(32);not null;default:NONE" json:"plan_type"`
	SubscriptionStatus SubscriptionStatus `gorm:"type:varchar(32);not null;default:NONE" json:"subscription_status"`
	TrialStartedAt     *time.Time         `json:"trial_started_at,omitempty"`
	TrialEndsAt        *time.Time         `json:"trial_ends_at,omitempty"`
	TrialMinutesUsed   int64              `gorm:"not null;default:0" json:"trial_minutes_used"`
	BillingCustomerID  *string            `gorm:"type:text" json:"billing_customer_id,omitempty"`
	Active             bool               `gorm:"not null" json:"active"`
	CreatedAt          time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt          time.Time          `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Business) TableName() string { return "businesses" }

// IsOnTrial follows the subscription status only; stale trial fields are ignored.
func (b Business) IsOnTrial() bool {
	return !b.SubscriptionStatus.IsConverted()
}

// TrialClaim pins a normalized phone number to the first trial it started.
// Rows are never updated or deleted.
type TrialClaim struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	PhoneNumber string       `gorm:"type:varchar(32);not null;uniqueIndex" json:"phone_number"`
	BusinessID  snowflake.ID `gorm:"not null;index" json:"business_id"`
	CreatedAt   time.Time    `gorm:"not null" json:"created_at"`
}

// TableName sets the database table name.
func (TrialClaim) TableName() string { return "trial_claims" }

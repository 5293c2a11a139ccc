// Package domain contains the subscription mirror and billing-provider lifecycle events.
package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/answerline/internal/plan"
)

// SubscriptionStatus is the normalized provider status.
type SubscriptionStatus string

const (
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
)

// MapProviderStatus folds provider subscription states onto ours.
func MapProviderStatus(raw string) (SubscriptionStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "trialing":
		return SubscriptionStatusActive, true
	case "past_due", "unpaid", "incomplete":
		return SubscriptionStatusPastDue, true
	case "canceled", "incomplete_expired":
		return SubscriptionStatusCanceled, true
	default:
		return "", false
	}
}

// Subscription mirrors the provider subscription of a business. There is at
// most one row per business; a resubscription replaces the external id.
type Subscription struct {
	ID                     snowflake.ID       `gorm:"primaryKey" json:"id"`
	BusinessID             snowflake.ID       `gorm:"not null;uniqueIndex" json:"business_id"`
	ExternalSubscriptionID string             `gorm:"type:varchar(191);not null;uniqueIndex" json:"external_subscription_id"`
	PlanType               plan.PlanType      `gorm:"type:text;not null" json:"plan_type"`
	Status                 SubscriptionStatus `gorm:"type:text;not null" json:"status"`
	CurrentPeriodStart     *time.Time         `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time         `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool               `gorm:"not null" json:"cancel_at_period_end"`
	MeteredItemID          *string            `gorm:"type:text" json:"metered_item_id,omitempty"`
	LastEventAt            *time.Time         `json:"last_event_at,omitempty"`
	CreatedAt              time.Time          `gorm:"not null" json:"created_at"`
	UpdatedAt              time.Time          `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// IsBillable reports whether overage may be metered against the subscription.
func (s Subscription) IsBillable() bool {
	if s.MeteredItemID == nil || strings.TrimSpace(*s.MeteredItemID) == "" {
		return false
	}
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusPastDue
}

// IsStale reports whether an event created at t predates the last applied one.
func (s Subscription) IsStale(t time.Time) bool {
	if s.LastEventAt == nil || t.IsZero() {
		return false
	}
	return t.Before(*s.LastEventAt)
}

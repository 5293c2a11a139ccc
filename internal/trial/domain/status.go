// Package domain derives trial status from persisted business facts.
package domain

import (
	"math"
	"time"

	"github.com/bwmarrin/snowflake"
	businessdomain "github.com/smallbiznis/answerline/internal/business/domain"
)

// TrialStatus is recomputed on every read; nothing here is stored.
// IsExhausted and IsExpired are independent. IsOnTrial=false overrides both.
type TrialStatus struct {
	BusinessID         snowflake.ID                      `json:"business_id"`
	SubscriptionStatus businessdomain.SubscriptionStatus `json:"subscription_status"`
	IsOnTrial          bool                              `json:"is_on_trial"`
	MinutesUsed        int64                             `json:"minutes_used"`
	MinutesCap         int64                             `json:"minutes_cap"`
	MinutesRemaining   int64                             `json:"minutes_remaining"`
	IsExhausted        bool                              `json:"is_exhausted"`
	IsExpired          bool                              `json:"is_expired"`
	TrialEndsAt        *time.Time                        `json:"trial_ends_at,omitempty"`
	DaysRemaining      int                               `json:"days_remaining"`
}

// Derive computes trial status. Minutes come from the trial counter while on
// trial and from the current billing period once converted.
func Derive(now time.Time, business businessdomain.Business, currentPeriodUsage int64, cap int64) TrialStatus {
	onTrial := business.IsOnTrial()

	used := currentPeriodUsage
	if onTrial {
		used = business.TrialMinutesUsed
	}
	remaining := cap - used
	if remaining < 0 {
		remaining = 0
	}

	status := TrialStatus{
		BusinessID:         business.ID,
		SubscriptionStatus: business.SubscriptionStatus,
		IsOnTrial:          onTrial,
		MinutesUsed:        used,
		MinutesCap:         cap,
		MinutesRemaining:   remaining,
		IsExhausted:        onTrial && remaining <= 0,
	}
	if !onTrial || business.TrialEndsAt == nil {
		return status
	}

	endsAt := business.TrialEndsAt.UTC()
	status.TrialEndsAt = &endsAt
	status.IsExpired = now.After(endsAt)
	if now.Before(endsAt) {
		status.DaysRemaining = int(math.Ceil(endsAt.Sub(now).Hours() / 24))
	}
	return status
}

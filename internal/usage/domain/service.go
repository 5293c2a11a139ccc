package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/answerline/internal/plan"
	"gorm.io/gorm"
)

type AddRequest struct {
	BusinessID snowflake.ID
	Period     string
	Minutes    int64
	Plan       plan.PlanType
	// Trial marks minutes accrued on trial. They increment the business trial
	// counter and never count toward overage.
	Trial bool
}

type AddResult struct {
	Period             UsagePeriod
	PreviousTotal      int64
	NewTotal           int64
	OverageBefore      int64
	OverageAfter       int64
	IncrementalOverage int64
}

// Summary is the read model served to API clients.
type Summary struct {
	BusinessID             snowflake.ID  `json:"business_id"`
	BillingPeriod          string        `json:"billing_period"`
	Plan                   plan.PlanType `json:"plan"`
	IncludedMinutes        int64         `json:"included_minutes"`
	MinutesUsedTotal       int64         `json:"minutes_used_total"`
	TrialMinutesTotal      int64         `json:"trial_minutes_total"`
	BillableMinutes        int64         `json:"billable_minutes"`
	OverageMinutes         int64         `json:"overage_minutes"`
	ReportedOverageUnits   int64         `json:"reported_overage_units"`
	UnreportedOverageUnits int64         `json:"unreported_overage_units"`
}

// Accumulator applies billed minutes inside the caller's transaction.
type Accumulator interface {
	Add(ctx context.Context, tx *gorm.DB, req AddRequest) (AddResult, error)
}

type Service interface {
	Accumulator
	Summary(ctx context.Context, businessID string, period string) (Summary, error)
}

var (
	ErrInvalidBusiness      = errors.New("invalid_business")
	ErrInvalidBillingPeriod = errors.New("invalid_billing_period")
	ErrInvalidMinutes       = errors.New("invalid_minutes")
	ErrUsagePeriodNotFound  = errors.New("usage_period_not_found")
	ErrReportedStale        = errors.New("reported_overage_stale")
)

// Package domain contains the per-period usage ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const billingPeriodLayout = "2006-01"

// UsagePeriod accumulates billed minutes for one business in one calendar month.
// Rows are append-only.
type UsagePeriod struct {
	ID                   snowflake.ID `gorm:"primaryKey" json:"id"`
	BusinessID           snowflake.ID `gorm:"not null;uniqueIndex:ux_usage_periods_business_period" json:"business_id"`
	BillingPeriod        string       `gorm:"type:varchar(7);not null;uniqueIndex:ux_usage_periods_business_period" json:"billing_period"`
	MinutesUsedTotal     int64        `gorm:"not null;default:0" json:"minutes_used_total"`
	TrialMinutesTotal    int64        `gorm:"not null;default:0" json:"trial_minutes_total"`
	ReportedOverageUnits int64        `gorm:"not null;default:0" json:"reported_overage_units"`
	// PendingOverageTo and PendingReportedAt pin a submission that may have
	// reached the provider. A retry resends that exact range and timestamp.
	PendingOverageTo  *int64     `json:"pending_overage_to,omitempty"`
	PendingReportedAt *time.Time `json:"pending_reported_at,omitempty"`
	CreatedAt         time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (UsagePeriod) TableName() string { return "usage_periods" }

// BillableMinutes excludes minutes accrued while the business was on trial.
func (u UsagePeriod) BillableMinutes() int64 {
	billable := u.MinutesUsedTotal - u.TrialMinutesTotal
	if billable < 0 {
		return 0
	}
	return billable
}

// Pending returns the submitted but unconfirmed range, if any.
func (u UsagePeriod) Pending() (from, to int64, at time.Time, ok bool) {
	if u.PendingOverageTo == nil || u.PendingReportedAt == nil || *u.PendingOverageTo <= u.ReportedOverageUnits {
		return 0, 0, time.Time{}, false
	}
	return u.ReportedOverageUnits, *u.PendingOverageTo, *u.PendingReportedAt, true
}

// BillingPeriodOf returns the UTC calendar month of t as YYYY-MM.
func BillingPeriodOf(t time.Time) string {
	return t.UTC().Format(billingPeriodLayout)
}

// PreviousBillingPeriod returns the month before period.
func PreviousBillingPeriod(period string) (string, error) {
	start, err := ParseBillingPeriod(period)
	if err != nil {
		return "", err
	}
	return start.AddDate(0, -1, 0).Format(billingPeriodLayout), nil
}

// ParseBillingPeriod returns the first instant of a YYYY-MM period.
func ParseBillingPeriod(period string) (time.Time, error) {
	t, err := time.ParseInLocation(billingPeriodLayout, period, time.UTC)
	if err != nil {
		return time.Time{}, ErrInvalidBillingPeriod
	}
	return t, nil
}

// Package domain describes reporting incremental overage to a metered-billing provider.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageSubmission is one increment sent to the provider.
type UsageSubmission struct {
	SubscriptionItemID string
	Quantity           int64
	Timestamp          time.Time
	IdempotencyKey     string
}

// Client is the outbound metering capability. It is optional; a nil Client
// disables reporting.
type Client interface {
	SubmitUsage(ctx context.Context, submission UsageSubmission) error
}

type ReportRequest struct {
	BusinessID         snowflake.ID
	Period             string
	IncrementalOverage int64
}

type Outcome string

const (
	OutcomeDisabled    Outcome = "disabled"
	OutcomeNothingDue  Outcome = "nothing_due"
	OutcomeNoItem      Outcome = "no_subscription_item"
	OutcomeLeaseHeld   Outcome = "lease_held"
	OutcomeReported    Outcome = "reported"
	OutcomeFailed      Outcome = "failed"
	OutcomeUnavailable Outcome = "unavailable"
)

type ReportResult struct {
	Outcome Outcome `json:"outcome"`
	Units   int64   `json:"units,omitempty"`
}

// Reporter never returns errors; failures are logged and picked up by the
// next report for the same period.
type Reporter interface {
	Report(ctx context.Context, req ReportRequest) ReportResult
	Reconcile(ctx context.Context, businessID snowflake.ID, period string) ReportResult
}

var (
	ErrExternalService          = errors.New("metering_external_service")
	ErrNoActiveSubscriptionItem = errors.New("no_active_subscription_item")
)

// IdempotencyKey names the range of reported units a submission covers, so a
// retried submission of the same range is deduplicated by the provider.
func IdempotencyKey(periodID snowflake.ID, from, to int64) string {
	return fmt.Sprintf("overage-%s-%d-%d", periodID.String(), from, to)
}

package domain

import (
	"time"

	"github.com/smallbiznis/answerline/internal/plan"
)

type EventType string

const (
	EventCheckoutCompleted    EventType = "checkout_completed"
	EventSubscriptionUpdated  EventType = "subscription_updated"
	EventSubscriptionDeleted  EventType = "subscription_deleted"
	EventInvoicePaymentFailed EventType = "invoice_payment_failed"
	EventInvoicePaid          EventType = "invoice_paid"
)

// Event is a verified billing-provider webhook reduced to lifecycle facts.
type Event struct {
	ID         string
	Type       EventType
	OccurredAt time.Time

	// BusinessID comes from checkout or subscription metadata when present.
	BusinessID             string
	ExternalSubscriptionID string
	CustomerID             string
	Plan                   plan.PlanType
	// Status is the raw provider status.
	Status            string
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
	CancelAtPeriodEnd bool
}

type Outcome string

const (
	OutcomeApplied      Outcome = "applied"
	OutcomeIgnoredStale Outcome = "ignored_stale"
	OutcomeIgnored      Outcome = "ignored"
)

type ApplyResult struct {
	Outcome      Outcome
	Subscription *Subscription
}

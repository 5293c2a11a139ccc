package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/answerline/internal/plan"
	subscriptiondomain "github.com/smallbiznis/answerline/internal/subscription/domain"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

const (
	metadataBusinessID = "business_id"
	metadataPlan       = "plan"
)

var (
	ErrInvalidSignature = errors.New("invalid_billing_signature")
	ErrInvalidPayload   = errors.New("invalid_billing_payload")
	ErrEventIgnored     = errors.New("billing_event_ignored")
)

// WebhookParser verifies Stripe webhooks and maps them to lifecycle events.
type WebhookParser struct {
	secret string
}

func NewWebhookParser(secret string) *WebhookParser {
	return &WebhookParser{secret: strings.TrimSpace(secret)}
}

// Parse returns ErrInvalidSignature before looking at the payload, and
// ErrEventIgnored for event types that do not affect subscriptions.
func (p *WebhookParser) Parse(payload []byte, signatureHeader string) (subscriptiondomain.Event, string, error) {
	if p.secret == "" {
		return subscriptiondomain.Event{}, "", fmt.Errorf("%w: webhook secret not configured", ErrInvalidSignature)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, p.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return subscriptiondomain.Event{}, "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	eventType := string(event.Type)
	if event.Data == nil {
		return subscriptiondomain.Event{}, eventType, ErrInvalidPayload
	}

	out := subscriptiondomain.Event{
		ID:         event.ID,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	switch event.Type {
	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return subscriptiondomain.Event{}, eventType, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if session.Mode != "" && session.Mode != stripe.CheckoutSessionModeSubscription {
			return subscriptiondomain.Event{}, eventType, ErrEventIgnored
		}
		out.Type = subscriptiondomain.EventCheckoutCompleted
		out.BusinessID = firstNonEmpty(session.Metadata[metadataBusinessID], session.ClientReferenceID)
		out.Plan = plan.ParsePlanType(session.Metadata[metadataPlan])
		if session.Subscription != nil {
			out.ExternalSubscriptionID = session.Subscription.ID
		}
		if session.Customer != nil {
			out.CustomerID = session.Customer.ID
		}

	case "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return subscriptiondomain.Event{}, eventType, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		out.Type = subscriptiondomain.EventSubscriptionUpdated
		if event.Type == "customer.subscription.deleted" {
			out.Type = subscriptiondomain.EventSubscriptionDeleted
		}
		out.ExternalSubscriptionID = sub.ID
		out.BusinessID = sub.Metadata[metadataBusinessID]
		out.Plan = plan.ParsePlanType(sub.Metadata[metadataPlan])
		out.Status = string(sub.Status)
		out.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
		out.PeriodStart = unixPtr(sub.CurrentPeriodStart)
		out.PeriodEnd = unixPtr(sub.CurrentPeriodEnd)
		if sub.Customer != nil {
			out.CustomerID = sub.Customer.ID
		}

	case "invoice.payment_failed", "invoice.paid":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return subscriptiondomain.Event{}, eventType, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		out.Type = subscriptiondomain.EventInvoicePaymentFailed
		if event.Type == "invoice.paid" {
			out.Type = subscriptiondomain.EventInvoicePaid
		}
		if invoice.Subscription != nil {
			out.ExternalSubscriptionID = invoice.Subscription.ID
		}
		if invoice.Customer != nil {
			out.CustomerID = invoice.Customer.ID
		}

	default:
		return subscriptiondomain.Event{}, eventType, ErrEventIgnored
	}

	return out, eventType, nil
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

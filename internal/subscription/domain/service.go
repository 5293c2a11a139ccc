package domain

import (
	"context"
	"errors"
)

type Service interface {
	Apply(ctx context.Context, event Event) (ApplyResult, error)
}

// ItemProvisioner ensures the metered overage line item exists on a provider
// subscription and returns its id. Existing items are reused.
type ItemProvisioner interface {
	EnsureMeteredItem(ctx context.Context, externalSubscriptionID string) (string, error)
}

var (
	ErrInvalidEvent         = errors.New("invalid_subscription_event")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrUnknownStatus        = errors.New("unknown_subscription_status")
)

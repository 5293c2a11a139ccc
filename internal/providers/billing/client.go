// Package billing adapts Stripe to the metering and subscription domains.
package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	meteringdomain "github.com/smallbiznis/answerline/internal/metering/domain"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
	"go.uber.org/zap"
)

// Client reports usage and manages the metered overage line item.
type Client struct {
	api     *client.API
	priceID string
	log     *zap.Logger
}

// NewClient builds a Stripe API client. A nil backends uses Stripe's defaults.
func NewClient(secretKey, overagePriceID string, backends *stripe.Backends, log *zap.Logger) *Client {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &Client{
		api:     api,
		priceID: strings.TrimSpace(overagePriceID),
		log:     log.Named("providers.billing"),
	}
}

// SubmitUsage increments the item's usage. The idempotency key lets Stripe
// drop a retried submission of the same range.
func (c *Client) SubmitUsage(ctx context.Context, submission meteringdomain.UsageSubmission) error {
	if submission.SubscriptionItemID == "" {
		return errors.New("stripe: subscription item id is required")
	}
	if submission.Quantity <= 0 {
		return errors.New("stripe: quantity must be positive")
	}

	params := &stripe.UsageRecordParams{
		SubscriptionItem: stripe.String(submission.SubscriptionItemID),
		Quantity:         stripe.Int64(submission.Quantity),
		Action:           stripe.String("increment"),
	}
	if !submission.Timestamp.IsZero() {
		params.Timestamp = stripe.Int64(submission.Timestamp.Unix())
	}
	if submission.IdempotencyKey != "" {
		params.SetIdempotencyKey(submission.IdempotencyKey)
	}
	params.Context = ctx

	record, err := c.api.UsageRecords.New(params)
	if err != nil {
		return fmt.Errorf("%w: stripe usage record: %v", meteringdomain.ErrExternalService, err)
	}

	c.log.Debug("usage record created",
		zap.String("usage_record_id", record.ID),
		zap.String("subscription_item_id", submission.SubscriptionItemID),
		zap.Int64("quantity", record.Quantity),
	)
	return nil
}

// EnsureMeteredItem returns the subscription's item for the overage price,
// creating it when missing.
func (c *Client) EnsureMeteredItem(ctx context.Context, externalSubscriptionID string) (string, error) {
	if c.priceID == "" {
		return "", errors.New("stripe: overage price id is not configured")
	}

	listParams := &stripe.SubscriptionItemListParams{
		Subscription: stripe.String(externalSubscriptionID),
	}
	listParams.Context = ctx
	iter := c.api.SubscriptionItems.List(listParams)
	for iter.Next() {
		item := iter.SubscriptionItem()
		if item.Price != nil && item.Price.ID == c.priceID {
			return item.ID, nil
		}
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("stripe: list subscription items: %w", err)
	}

	params := &stripe.SubscriptionItemParams{
		Subscription: stripe.String(externalSubscriptionID),
		Price:        stripe.String(c.priceID),
	}
	params.SetIdempotencyKey("metered-item-" + externalSubscriptionID)
	params.Context = ctx

	item, err := c.api.SubscriptionItems.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create subscription item: %w", err)
	}

	c.log.Info("metered item created",
		zap.String("external_subscription_id", externalSubscriptionID),
		zap.String("subscription_item_id", item.ID),
	)
	return item.ID, nil
}

package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/answerline/internal/subscription/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	return db.WithContext(ctx).Create(subscription).Error
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("external_subscription_id = ?", externalID).
		First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) FindByBusinessID(ctx context.Context, db *gorm.DB, businessID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := db.WithContext(ctx).
		Where("business_id = ?", businessID).
		First(&subscription).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	subscription.UpdatedAt = time.Now().UTC()
	return db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", subscription.ID).
		Updates(map[string]any{
			"external_subscription_id": subscription.ExternalSubscriptionID,
			"plan_type":                subscription.PlanType,
			"status":                   subscription.Status,
			"current_period_start":     subscription.CurrentPeriodStart,
			"current_period_end":       subscription.CurrentPeriodEnd,
			"cancel_at_period_end":     subscription.CancelAtPeriodEnd,
			"metered_item_id":          subscription.MeteredItemID,
			"last_event_at":            subscription.LastEventAt,
			"updated_at":               subscription.UpdatedAt,
		}).Error
}

func (r *repo) SetMeteredItem(ctx context.Context, db *gorm.DB, id snowflake.ID, itemID string) error {
	return db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"metered_item_id": itemID,
			"updated_at":      time.Now().UTC(),
		}).Error
}

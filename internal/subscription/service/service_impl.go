package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	businessdomain "github.com/smallbiznis/answerline/internal/business/domain"
	"github.com/smallbiznis/answerline/internal/clock"
	"github.com/smallbiznis/answerline/internal/config"
	"github.com/smallbiznis/answerline/internal/plan"
	subscriptiondomain "github.com/smallbiznis/answerline/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID        *snowflake.Node
	clock        clock.Clock
	repo         subscriptiondomain.Repository
	businessRepo businessdomain.Repository
	provisioner  subscriptiondomain.ItemProvisioner
	timeout      time.Duration
}

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Cfg          config.Config
	Repo         subscriptiondomain.Repository
	BusinessRepo businessdomain.Repository
	Provisioner  subscriptiondomain.ItemProvisioner `optional:"true"`
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:        p.GenID,
		clock:        p.Clock,
		repo:         p.Repo,
		businessRepo: p.BusinessRepo,
		provisioner:  p.Provisioner,
		timeout:      p.Cfg.Billing.MeteringTimeout,
	}
}

// Apply folds one provider event into subscription and business state.
// Every path is an upsert keyed by external subscription id, so replays are
// harmless, and events older than the last applied one are ignored.
func (s *Service) Apply(ctx context.Context, event subscriptiondomain.Event) (subscriptiondomain.ApplyResult, error) {
	event.ExternalSubscriptionID = strings.TrimSpace(event.ExternalSubscriptionID)
	event.BusinessID = strings.TrimSpace(event.BusinessID)
	event.CustomerID = strings.TrimSpace(event.CustomerID)
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.clock.Now()
	}
	event.OccurredAt = event.OccurredAt.UTC()

	switch event.Type {
	case subscriptiondomain.EventCheckoutCompleted:
		return s.applyCheckout(ctx, event)
	case subscriptiondomain.EventSubscriptionUpdated:
		status, ok := subscriptiondomain.MapProviderStatus(event.Status)
		if !ok {
			s.log.Info("ignoring unmapped subscription status",
				zap.String("status", event.Status),
				zap.String("external_subscription_id", event.ExternalSubscriptionID),
			)
			return subscriptiondomain.ApplyResult{Outcome: subscriptiondomain.OutcomeIgnored}, nil
		}
		return s.applyStatus(ctx, event, status)
	case subscriptiondomain.EventSubscriptionDeleted:
		return s.applyStatus(ctx, event, subscriptiondomain.SubscriptionStatusCanceled)
	case subscriptiondomain.EventInvoicePaymentFailed:
		return s.applyPaymentFailed(ctx, event)
	case subscriptiondomain.EventInvoicePaid:
		return s.applyInvoicePaid(ctx, event)
	default:
		return subscriptiondomain.ApplyResult{Outcome: subscriptiondomain.OutcomeIgnored}, nil
	}
}

func (s *Service) applyCheckout(ctx context.Context, event subscriptiondomain.Event) (subscriptiondomain.ApplyResult, error) {
	if event.ExternalSubscriptionID == "" {
		return subscriptiondomain.ApplyResult{}, fmt.Errorf("%w: missing subscription id", subscriptiondomain.ErrInvalidEvent)
	}
	businessID, err := snowflake.ParseString(event.BusinessID)
	if err != nil || businessID == 0 {
		return subscriptiondomain.ApplyResult{}, fmt.Errorf("%w: missing business reference", subscriptiondomain.ErrInvalidEvent)
	}

	var result subscriptiondomain.ApplyResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		business, err := s.businessRepo.FindByID(ctx, tx, businessID)
		if err != nil {
			return err
		}
		if business == nil {
			return businessdomain.ErrBusinessNotFound
		}

		sub, err := s.findForEvent(ctx, tx, event.ExternalSubscriptionID, business.ID)
		if err != nil {
			return err
		}
		if sub != nil && sub.ExternalSubscriptionID == event.ExternalSubscriptionID && sub.IsStale(event.OccurredAt) {
			result = subscriptiondomain.ApplyResult{Outcome: subscriptiondomain.OutcomeIgnoredStale, Subscription: sub}
			return nil
		}

		planType := resolvePlan(event.Plan, sub, business)
		sub, err = s.upsert(ctx, tx, sub, business.ID, event, subscriptiondomain.SubscriptionStatusActive, planType)
		if err != nil {
			return err
		}

		if err := s.businessRepo.ConvertFromTrial(ctx, tx, business.ID, businessdomain.ConvertParams{
			Plan:       planType,
			CustomerID: event.CustomerID,
		}); err != nil {
			return err
		}
		result = subscriptiondomain.ApplyResult{Outcome: subscriptiondomain.OutcomeApplied, Subscription: sub}
		return nil
	})
	if err != nil {
		return subscriptiondomain.ApplyResult{}, err
	}

	if result.Outcome == subscriptiondomain.OutcomeApplied {
		s.log.Info("trial converted",
			zap.String("business_id", businessID.String()),
			zap.String("plan", string(result.Subscription.PlanType)),
		)
		s.ensureMeteredItem(ctx, result.Subscription)
	}
	return result, nil
}

func (s *Service) applyStatus(ctx context.Context, event subscriptiondomain.Event, status subscriptiondomain.SubscriptionStatus) (subscriptiondomain.ApplyResult, error) {
	if event.ExternalSubscriptionID == "" {
		return subscriptiondomain.ApplyResult{}, fmt.Errorf("%w: missing subscription id", subscriptiondomain.ErrInvalidEvent)
	}

	var result subscriptiondomain.ApplyResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByExternalID(ctx, tx, event.ExternalSubscriptionID)
		if err != nil {
			return err
		}

		var business *businessdomain.Business
		if sub == nil {
			// Unknown subscription: only adoptable when the event names its business.
			businessID, err := snowflake.ParseString(event.BusinessID)
			if err != nil || businessID == 0 {
				return subscriptiondomain.ErrSubscriptionNotFound
			}
			business, err = s.businessRepo.FindByID(ctx, tx, businessID)
			if err != nil {
				return err
			}
			if business == nil {
				return businessdomain.ErrBusinessNotFound
			}
			if sub, err = s.repo.FindByBusinessID(ctx, tx, business.ID); err != nil {
				return err
			}
		} else {
			business, err = s.businessRepo.FindByID(ctx, tx, sub.BusinessID)
			if err != nil {
				return err
			}
			if business == nil {
				return businessdomain.ErrBusinessNotFound
			}
		}

		if sub != nil && sub.ExternalSubscriptionID == event.ExternalSubscriptionID && sub.IsStale(event.OccurredAt) {
			result = subscriptiondomain.ApplyResult{Outcome: subscriptiondomain.OutcomeIgnoredStale, Subscription: sub}
			return nil
		}

		planType := resolvePlan(event.Plan, sub, business)
		sub, err = s.upsert(ctx, tx, sub, business.ID, event, status, planType)
		if err != nil {
			return err
		}
		if err := s.mirror(ctx, tx, business.ID, status, planType, event.CustomerID); err != nil {
			return err
		}
		result = subscriptiondomain.ApplyResult{Outcome: subscriptiondomain.OutcomeApplied, Subscription: sub}
		return nil
	})
	if err != nil {
		return subscriptiondomain.ApplyResult{}, err
	}

	if result.Outcome == subscriptiondomain.OutcomeApplied {
		s.log.Info("subscription status applied",
			zap.String("business_id", result.Subscription.BusinessID.String()),
			zap.String("status", string(status)),
			zap.String("event_type", string(event.Type)),
		)
		if status == subscriptiondomain.SubscriptionStatusActive {
			s.ensureMeteredItem(ctx, result.Subscription)
		}
	}
	return result, nil
}

// applyPaymentFailed suspends call answering without touching the business
// subscription status or trial fields.
func (s *Service) applyPaymentFailed(ctx context.Context, event subscriptiondomain.Event) (subscriptiondomain.ApplyResult, error) {
	return s.applyInvoice(ctx, event, func(tx *gorm.DB, sub *subscriptiondomain.Subscription) (bool, error) {
		sub.Status = subscriptiondomain.SubscriptionStatusPastDue
		inactive := false
		return true, s.businessRepo.UpdateSubscriptionState(ctx, tx, sub.BusinessID, businessdomain.SubscriptionState{
			Active: &inactive,
		})
	})
}

// applyInvoicePaid lifts a payment-failure suspension. Canceled subscriptions
// stay canceled.
func (s *Service) applyInvoicePaid(ctx context.Context, event subscriptiondomain.Event) (subscriptiondomain.ApplyResult, error) {
	return s.applyInvoice(ctx, event, func(tx *gorm.DB, sub *subscriptiondomain.Subscription) (bool, error) {
		if sub.Status == subscriptiondomain.SubscriptionStatusCanceled {
			return false, nil
		}
		sub.Status = subscriptiondomain.SubscriptionStatusActive
		return true, s.mirror(ctx, tx, sub.BusinessID, sub.Status, sub.PlanType, event.CustomerID)
	})
}

func (s *Service) applyInvoice(
	ctx context.Context,
	event subscriptiondomain.Event,
	apply func(tx *gorm.DB, sub *subscriptiondomain.Subscription) (bool, error),
) (subscriptiondomain.ApplyResult, error) {
	if event.ExternalSubscriptionID == "" {
		// Invoices without a subscription are one-off charges.
		return subscriptiondomain.ApplyResult{Outcome: subscriptiondomain.OutcomeIgnored}, nil
	}

	var result subscriptiondomain.ApplyResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.repo.FindByExternalID(ctx, tx, event.ExternalSubscriptionID)
		if err != nil {
			return err
		}
		if sub == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if sub.IsStale(event.OccurredAt) {
			result = subscriptiondomain.ApplyResult{Outcome: subscriptiondomain.OutcomeIgnoredStale, Subscription: sub}
			return nil
		}

		applied, err := apply(tx, sub)
		if err != nil {
			return err
		}
		if !applied {
			result = subscriptiondomain.ApplyResult{Outcome: subscriptiondomain.OutcomeIgnored, Subscription: sub}
			return nil
		}
		sub.LastEventAt = &event.OccurredAt
		if err := s.repo.Update(ctx, tx, sub); err != nil {
			return err
		}
		result = subscriptiondomain.ApplyResult{Outcome: subscriptiondomain.OutcomeApplied, Subscription: sub}
		return nil
	})
	if err != nil {
		return subscriptiondomain.ApplyResult{}, err
	}

	if result.Outcome == subscriptiondomain.OutcomeApplied {
		s.log.Info("invoice event applied",
			zap.String("business_id", result.Subscription.BusinessID.String()),
			zap.String("event_type", string(event.Type)),
			zap.String("status", string(result.Subscription.Status)),
		)
	}
	return result, nil
}

// findForEvent returns the row for the external id, or the business's
// existing row when a resubscription brings a new external id.
func (s *Service) findForEvent(ctx context.Context, tx *gorm.DB, externalID string, businessID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	sub, err := s.repo.FindByExternalID(ctx, tx, externalID)
	if err != nil || sub != nil {
		return sub, err
	}
	return s.repo.FindByBusinessID(ctx, tx, businessID)
}

func (s *Service) upsert(
	ctx context.Context,
	tx *gorm.DB,
	sub *subscriptiondomain.Subscription,
	businessID snowflake.ID,
	event subscriptiondomain.Event,
	status subscriptiondomain.SubscriptionStatus,
	planType plan.PlanType,
) (*subscriptiondomain.Subscription, error) {
	occurredAt := event.OccurredAt
	if sub == nil {
		now := s.clock.Now().UTC()
		sub = &subscriptiondomain.Subscription{
			ID:                     s.genID.Generate(),
			BusinessID:             businessID,
			ExternalSubscriptionID: event.ExternalSubscriptionID,
			PlanType:               planType,
			Status:                 status,
			CurrentPeriodStart:     event.PeriodStart,
			CurrentPeriodEnd:       event.PeriodEnd,
			CancelAtPeriodEnd:      event.CancelAtPeriodEnd,
			LastEventAt:            &occurredAt,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if err := s.repo.Insert(ctx, tx, sub); err != nil {
			return nil, fmt.Errorf("insert subscription: %w", err)
		}
		return sub, nil
	}

	if sub.ExternalSubscriptionID != event.ExternalSubscriptionID {
		s.log.Info("replacing subscription for business",
			zap.String("business_id", businessID.String()),
			zap.String("previous_external_subscription_id", sub.ExternalSubscriptionID),
			zap.String("external_subscription_id", event.ExternalSubscriptionID),
		)
		sub.ExternalSubscriptionID = event.ExternalSubscriptionID
		sub.MeteredItemID = nil
		sub.CurrentPeriodStart = nil
		sub.CurrentPeriodEnd = nil
		sub.CancelAtPeriodEnd = false
	}

	sub.Status = status
	sub.PlanType = planType
	if event.PeriodStart != nil {
		sub.CurrentPeriodStart = event.PeriodStart
	}
	if event.PeriodEnd != nil {
		sub.CurrentPeriodEnd = event.PeriodEnd
	}
	if event.Type == subscriptiondomain.EventSubscriptionUpdated || event.Type == subscriptiondomain.EventSubscriptionDeleted {
		sub.CancelAtPeriodEnd = event.CancelAtPeriodEnd
	}
	sub.LastEventAt = &occurredAt

	if err := s.repo.Update(ctx, tx, sub); err != nil {
		return nil, fmt.Errorf("update subscription: %w", err)
	}
	return sub, nil
}

// mirror copies a subscription status onto the business. Becoming ACTIVE is
// a trial conversion; any other status suspends call answering.
func (s *Service) mirror(ctx context.Context, tx *gorm.DB, businessID snowflake.ID, status subscriptiondomain.SubscriptionStatus, planType plan.PlanType, customerID string) error {
	if status == subscriptiondomain.SubscriptionStatusActive {
		return s.businessRepo.ConvertFromTrial(ctx, tx, businessID, businessdomain.ConvertParams{
			Plan:       planType,
			CustomerID: customerID,
		})
	}

	businessStatus := businessdomain.SubscriptionStatusCanceled
	if status == subscriptiondomain.SubscriptionStatusPastDue {
		businessStatus = businessdomain.SubscriptionStatusPastDue
	}
	inactive := false
	return s.businessRepo.UpdateSubscriptionState(ctx, tx, businessID, businessdomain.SubscriptionState{
		Status: &businessStatus,
		Active: &inactive,
	})
}

// ensureMeteredItem runs after commit. A failure leaves the item unset and is
// retried by the next ACTIVE event for the subscription.
func (s *Service) ensureMeteredItem(ctx context.Context, sub *subscriptiondomain.Subscription) {
	if sub == nil || (sub.MeteredItemID != nil && *sub.MeteredItemID != "") {
		return
	}
	if s.provisioner == nil {
		s.log.Debug("metered item provisioning disabled",
			zap.String("business_id", sub.BusinessID.String()),
		)
		return
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	itemID, err := s.provisioner.EnsureMeteredItem(callCtx, sub.ExternalSubscriptionID)
	if err != nil {
		s.log.Warn("failed to provision metered item",
			zap.String("business_id", sub.BusinessID.String()),
			zap.String("external_subscription_id", sub.ExternalSubscriptionID),
			zap.Error(err),
		)
		return
	}
	if err := s.repo.SetMeteredItem(ctx, s.db, sub.ID, itemID); err != nil {
		s.log.Error("failed to store metered item",
			zap.String("business_id", sub.BusinessID.String()),
			zap.Error(err),
		)
		return
	}
	sub.MeteredItemID = &itemID
}

func resolvePlan(eventPlan plan.PlanType, sub *subscriptiondomain.Subscription, business *businessdomain.Business) plan.PlanType {
	if eventPlan.IsPaid() {
		return eventPlan
	}
	if sub != nil && sub.PlanType.IsPaid() {
		return sub.PlanType
	}
	return business.PlanType
}

// IsAcknowledged reports errors the webhook layer answers with 200: retrying
// will not make an unknown subscription or business appear.
func IsAcknowledged(err error) bool {
	return errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) ||
		errors.Is(err, businessdomain.ErrBusinessNotFound)
}

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	businessdomain "github.com/smallbiznis/answerline/internal/business/domain"
	businessrepo "github.com/smallbiznis/answerline/internal/business/repository"
	"github.com/smallbiznis/answerline/internal/clock"
	"github.com/smallbiznis/answerline/internal/config"
	"github.com/smallbiznis/answerline/internal/plan"
	subscriptiondomain "github.com/smallbiznis/answerline/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/answerline/internal/subscription/repository"
	"github.com/smallbiznis/answerline/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeProvisioner struct {
	calls int
	err   error
}

func (p *fakeProvisioner) EnsureMeteredItem(ctx context.Context, externalSubscriptionID string) (string, error) {
	p.calls++
	if p.err != nil {
		return "", p.err
	}
	return "si_" + externalSubscriptionID, nil
}

type fixture struct {
	svc         subscriptiondomain.Service
	db          *gorm.DB
	node        *snowflake.Node
	clock       *clock.FakeClock
	provisioner *fakeProvisioner
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t, &businessdomain.Business{}, &subscriptiondomain.Subscription{})
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 5, 8, 0, 0, 0, time.UTC))
	provisioner := &fakeProvisioner{}

	var cfg config.Config
	cfg.Billing.MeteringTimeout = time.Second

	svc := NewService(ServiceParam{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clk,
		Cfg:          cfg,
		Repo:         subscriptionrepo.Provide(),
		BusinessRepo: businessrepo.Provide(),
		Provisioner:  provisioner,
	})
	return &fixture{svc: svc, db: db, node: node, clock: clk, provisioner: provisioner}
}

func (f *fixture) seedTrialBusiness(t *testing.T, trialMinutes int64) businessdomain.Business {
	t.Helper()
	now := f.clock.Now()
	ends := now.Add(14 * 24 * time.Hour)
	business := businessdomain.Business{
		ID:                 f.node.Generate(),
		Name:               "Acme Plumbing",
		PhoneNumber:        "+15551230000",
		PlanType:           plan.PlanNone,
		SubscriptionStatus: businessdomain.SubscriptionStatusNone,
		TrialStartedAt:     &now,
		TrialEndsAt:        &ends,
		TrialMinutesUsed:   trialMinutes,
		Active:             true,
	}
	require.NoError(t, f.db.Create(&business).Error)
	return business
}

func (f *fixture) business(t *testing.T, id snowflake.ID) businessdomain.Business {
	t.Helper()
	var business businessdomain.Business
	require.NoError(t, f.db.First(&business, "id = ?", id).Error)
	return business
}

func (f *fixture) checkout(t *testing.T, business businessdomain.Business, externalID string, at time.Time) subscriptiondomain.ApplyResult {
	t.Helper()
	result, err := f.svc.Apply(context.Background(), subscriptiondomain.Event{
		Type:                   subscriptiondomain.EventCheckoutCompleted,
		OccurredAt:             at,
		BusinessID:             business.ID.String(),
		ExternalSubscriptionID: externalID,
		CustomerID:             "cus_1",
		Plan:                   plan.PlanTier1,
	})
	require.NoError(t, err)
	return result
}

func TestCheckoutConvertsTrial(t *testing.T) {
	f := setup(t)
	business := f.seedTrialBusiness(t, 40)

	result := f.checkout(t, business, "sub_1", f.clock.Now())
	assert.Equal(t, subscriptiondomain.OutcomeApplied, result.Outcome)

	got := f.business(t, business.ID)
	assert.Equal(t, businessdomain.SubscriptionStatusActive, got.SubscriptionStatus)
	assert.Equal(t, plan.PlanTier1, got.PlanType)
	assert.Nil(t, got.TrialStartedAt)
	assert.Nil(t, got.TrialEndsAt)
	assert.Zero(t, got.TrialMinutesUsed)
	assert.True(t, got.Active)
	require.NotNil(t, got.BillingCustomerID)
	assert.Equal(t, "cus_1", *got.BillingCustomerID)
	assert.False(t, got.IsOnTrial())

	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&sub, "business_id = ?", business.ID).Error)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.MeteredItemID)
	assert.Equal(t, "si_sub_1", *sub.MeteredItemID)
	assert.Equal(t, 1, f.provisioner.calls)

	// Replaying checkout creates nothing new and reuses the stored item.
	f.checkout(t, business, "sub_1", f.clock.Now())
	var count int64
	require.NoError(t, f.db.Model(&subscriptiondomain.Subscription{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 1, f.provisioner.calls)
}

func TestCheckoutProvisioningFailureIsRetried(t *testing.T) {
	f := setup(t)
	business := f.seedTrialBusiness(t, 0)

	f.provisioner.err = errors.New("stripe unavailable")
	f.checkout(t, business, "sub_1", f.clock.Now())

	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&sub, "business_id = ?", business.ID).Error)
	assert.Nil(t, sub.MeteredItemID)

	f.provisioner.err = nil
	f.clock.Advance(time.Minute)
	_, err := f.svc.Apply(context.Background(), subscriptiondomain.Event{
		Type:                   subscriptiondomain.EventSubscriptionUpdated,
		OccurredAt:             f.clock.Now(),
		ExternalSubscriptionID: "sub_1",
		Status:                 "active",
	})
	require.NoError(t, err)

	require.NoError(t, f.db.First(&sub, "business_id = ?", business.ID).Error)
	require.NotNil(t, sub.MeteredItemID)
}

func TestPaymentFailedSuspendsWithoutTouchingStatus(t *testing.T) {
	f := setup(t)
	business := f.seedTrialBusiness(t, 0)
	f.checkout(t, business, "sub_1", f.clock.Now())

	f.clock.Advance(time.Hour)
	result, err := f.svc.Apply(context.Background(), subscriptiondomain.Event{
		Type:                   subscriptiondomain.EventInvoicePaymentFailed,
		OccurredAt:             f.clock.Now(),
		ExternalSubscriptionID: "sub_1",
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.OutcomeApplied, result.Outcome)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, result.Subscription.Status)

	got := f.business(t, business.ID)
	assert.False(t, got.Active)
	assert.Equal(t, businessdomain.SubscriptionStatusActive, got.SubscriptionStatus)
	assert.Nil(t, got.TrialEndsAt)

	f.clock.Advance(time.Hour)
	_, err = f.svc.Apply(context.Background(), subscriptiondomain.Event{
		Type:                   subscriptiondomain.EventInvoicePaid,
		OccurredAt:             f.clock.Now(),
		ExternalSubscriptionID: "sub_1",
	})
	require.NoError(t, err)
	assert.True(t, f.business(t, business.ID).Active)
}

func TestStatusMappingAndCancellation(t *testing.T) {
	f := setup(t)
	business := f.seedTrialBusiness(t, 0)
	f.checkout(t, business, "sub_1", f.clock.Now())

	start := f.clock.Now()
	end := start.AddDate(0, 1, 0)
	f.clock.Advance(time.Hour)
	_, err := f.svc.Apply(context.Background(), subscriptiondomain.Event{
		Type:                   subscriptiondomain.EventSubscriptionUpdated,
		OccurredAt:             f.clock.Now(),
		ExternalSubscriptionID: "sub_1",
		Status:                 "unpaid",
		PeriodStart:            &start,
		PeriodEnd:              &end,
		CancelAtPeriodEnd:      true,
	})
	require.NoError(t, err)

	var sub subscriptiondomain.Subscription
	require.NoError(t, f.db.First(&sub, "external_subscription_id = ?", "sub_1").Error)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, businessdomain.SubscriptionStatusPastDue, f.business(t, business.ID).SubscriptionStatus)

	f.clock.Advance(time.Hour)
	_, err = f.svc.Apply(context.Background(), subscriptiondomain.Event{
		Type:                   subscriptiondomain.EventSubscriptionDeleted,
		OccurredAt:             f.clock.Now(),
		ExternalSubscriptionID: "sub_1",
	})
	require.NoError(t, err)

	got := f.business(t, business.ID)
	assert.Equal(t, businessdomain.SubscriptionStatusCanceled, got.SubscriptionStatus)
	assert.False(t, got.Active)

	// A late invoice.paid does not revive a canceled subscription.
	f.clock.Advance(time.Hour)
	result, err := f.svc.Apply(context.Background(), subscriptiondomain.Event{
		Type:                   subscriptiondomain.EventInvoicePaid,
		OccurredAt:             f.clock.Now(),
		ExternalSubscriptionID: "sub_1",
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.OutcomeIgnored, result.Outcome)
	assert.False(t, f.business(t, business.ID).Active)
}

func TestOutOfOrderEventIsIgnored(t *testing.T) {
	f := setup(t)
	business := f.seedTrialBusiness(t, 0)
	checkoutAt := f.clock.Now()
	f.checkout(t, business, "sub_1", checkoutAt)

	_, err := f.svc.Apply(context.Background(), subscriptiondomain.Event{
		Type:                   subscriptiondomain.EventSubscriptionUpdated,
		OccurredAt:             checkoutAt.Add(2 * time.Hour),
		ExternalSubscriptionID: "sub_1",
		Status:                 "canceled",
	})
	require.NoError(t, err)

	result, err := f.svc.Apply(context.Background(), subscriptiondomain.Event{
		Type:                   subscriptiondomain.EventSubscriptionUpdated,
		OccurredAt:             checkoutAt.Add(time.Hour),
		ExternalSubscriptionID: "sub_1",
		Status:                 "active",
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.OutcomeIgnoredStale, result.Outcome)
	assert.Equal(t, businessdomain.SubscriptionStatusCanceled, f.business(t, business.ID).SubscriptionStatus)
}

func TestResubscribeReplacesExternalID(t *testing.T) {
	f := setup(t)
	business := f.seedTrialBusiness(t, 0)
	f.checkout(t, business, "sub_old", f.clock.Now())

	f.clock.Advance(time.Hour)
	_, err := f.svc.Apply(context.Background(), subscriptiondomain.Event{
		Type:                   subscriptiondomain.EventSubscriptionDeleted,
		OccurredAt:             f.clock.Now(),
		ExternalSubscriptionID: "sub_old",
	})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	f.checkout(t, business, "sub_new", f.clock.Now())

	var subs []subscriptiondomain.Subscription
	require.NoError(t, f.db.Find(&subs).Error)
	require.Len(t, subs, 1)
	assert.Equal(t, "sub_new", subs[0].ExternalSubscriptionID)
	require.NotNil(t, subs[0].MeteredItemID)
	assert.Equal(t, "si_sub_new", *subs[0].MeteredItemID)
	assert.Equal(t, businessdomain.SubscriptionStatusActive, f.business(t, business.ID).SubscriptionStatus)
}

func TestUnknownReferences(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Apply(ctx, subscriptiondomain.Event{
		Type:                   subscriptiondomain.EventInvoicePaymentFailed,
		ExternalSubscriptionID: "sub_missing",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
	assert.True(t, IsAcknowledged(err))

	_, err = f.svc.Apply(ctx, subscriptiondomain.Event{
		Type:                   subscriptiondomain.EventCheckoutCompleted,
		ExternalSubscriptionID: "sub_1",
		BusinessID:             "42",
	})
	assert.ErrorIs(t, err, businessdomain.ErrBusinessNotFound)

	_, err = f.svc.Apply(ctx, subscriptiondomain.Event{
		Type:                   subscriptiondomain.EventCheckoutCompleted,
		ExternalSubscriptionID: "sub_1",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidEvent)

	result, err := f.svc.Apply(ctx, subscriptiondomain.Event{Type: "customer.created"})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.OutcomeIgnored, result.Outcome)
}

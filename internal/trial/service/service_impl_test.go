package service

import (
	"context"
	"testing"
	"time"

	businessdomain "github.com/smallbiznis/answerline/internal/business/domain"
	businessrepo "github.com/smallbiznis/answerline/internal/business/repository"
	"github.com/smallbiznis/answerline/internal/clock"
	"github.com/smallbiznis/answerline/internal/config"
	"github.com/smallbiznis/answerline/internal/plan"
	"github.com/smallbiznis/answerline/internal/testutil"
	trialdomain "github.com/smallbiznis/answerline/internal/trial/domain"
	usagedomain "github.com/smallbiznis/answerline/internal/usage/domain"
	usagerepo "github.com/smallbiznis/answerline/internal/usage/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTrialService(t *testing.T) (trialdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	db := testutil.NewDB(t,
		&businessdomain.Business{},
		&businessdomain.TrialClaim{},
		&usagedomain.UsagePeriod{},
	)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	var cfg config.Config
	cfg.Billing.TrialDays = 14
	cfg.Billing.TrialMinutes = 50

	svc := NewService(ServiceParam{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        testutil.NewNode(t),
		Clock:        clk,
		Cfg:          cfg,
		BusinessRepo: businessrepo.Provide(),
		UsageRepo:    usagerepo.Provide(),
	})
	return svc, db, clk
}

func TestStartTrial(t *testing.T) {
	svc, db, clk := setupTrialService(t)
	ctx := context.Background()

	business, err := svc.StartTrial(ctx, trialdomain.StartTrialRequest{
		Name:         "Acme Plumbing",
		PhoneNumber:  "(555) 123-4567",
		VoiceAgentID: "agent_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "+15551234567", business.PhoneNumber)
	assert.Equal(t, businessdomain.SubscriptionStatusNone, business.SubscriptionStatus)
	assert.Equal(t, plan.PlanNone, business.PlanType)
	assert.True(t, business.Active)
	require.NotNil(t, business.TrialEndsAt)
	assert.Equal(t, clk.Now().Add(14*24*time.Hour), business.TrialEndsAt.UTC())

	var claims int64
	require.NoError(t, db.Model(&businessdomain.TrialClaim{}).Count(&claims).Error)
	assert.Equal(t, int64(1), claims)

	status, err := svc.Status(ctx, business.ID.String())
	require.NoError(t, err)
	assert.True(t, status.IsOnTrial)
	assert.Equal(t, int64(50), status.MinutesRemaining)
	assert.Equal(t, 14, status.DaysRemaining)
}

func TestStartTrialRejectsReclaimedNumber(t *testing.T) {
	svc, db, _ := setupTrialService(t)
	ctx := context.Background()

	first, err := svc.StartTrial(ctx, trialdomain.StartTrialRequest{Name: "First", PhoneNumber: "+1 555 222 3333"})
	require.NoError(t, err)

	// Deleting the business must not free the number for another trial.
	require.NoError(t, db.Delete(&businessdomain.Business{}, "id = ?", first.ID).Error)

	_, err = svc.StartTrial(ctx, trialdomain.StartTrialRequest{Name: "Second", PhoneNumber: "555-222-3333"})
	assert.ErrorIs(t, err, businessdomain.ErrTrialAlreadyClaimed)

	var businesses int64
	require.NoError(t, db.Model(&businessdomain.Business{}).Count(&businesses).Error)
	assert.Zero(t, businesses, "rejected trial leaves no business behind")
}

func TestStartTrialValidation(t *testing.T) {
	svc, _, _ := setupTrialService(t)
	ctx := context.Background()

	_, err := svc.StartTrial(ctx, trialdomain.StartTrialRequest{Name: " ", PhoneNumber: "5551234567"})
	assert.ErrorIs(t, err, trialdomain.ErrInvalidName)

	_, err = svc.StartTrial(ctx, trialdomain.StartTrialRequest{Name: "Acme", PhoneNumber: "12"})
	assert.ErrorIs(t, err, businessdomain.ErrInvalidPhoneNumber)
}

func TestStatusAfterConversionUsesPeriodUsage(t *testing.T) {
	svc, db, clk := setupTrialService(t)
	ctx := context.Background()

	business, err := svc.StartTrial(ctx, trialdomain.StartTrialRequest{Name: "Acme", PhoneNumber: "5559876543"})
	require.NoError(t, err)

	repo := businessrepo.Provide()
	require.NoError(t, repo.IncrementTrialMinutes(ctx, db, business.ID, 45))
	require.NoError(t, repo.ConvertFromTrial(ctx, db, business.ID, businessdomain.ConvertParams{Plan: plan.PlanTier1}))

	require.NoError(t, db.Create(&usagedomain.UsagePeriod{
		ID:               testutil.NewNode(t).Generate(),
		BusinessID:       business.ID,
		BillingPeriod:    usagedomain.BillingPeriodOf(clk.Now()),
		MinutesUsedTotal: 120,
	}).Error)

	status, err := svc.Status(ctx, business.ID.String())
	require.NoError(t, err)
	assert.False(t, status.IsOnTrial)
	assert.False(t, status.IsExhausted)
	assert.False(t, status.IsExpired)
	assert.Equal(t, int64(120), status.MinutesUsed)
	assert.Nil(t, status.TrialEndsAt)
}

func TestStatusUnknownBusiness(t *testing.T) {
	svc, _, _ := setupTrialService(t)

	_, err := svc.Status(context.Background(), "not-a-number")
	assert.ErrorIs(t, err, businessdomain.ErrInvalidBusinessID)

	_, err = svc.Status(context.Background(), "12345")
	assert.ErrorIs(t, err, businessdomain.ErrBusinessNotFound)
}

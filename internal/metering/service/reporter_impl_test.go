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
	"github.com/smallbiznis/answerline/internal/lock"
	meteringdomain "github.com/smallbiznis/answerline/internal/metering/domain"
	"github.com/smallbiznis/answerline/internal/plan"
	subscriptiondomain "github.com/smallbiznis/answerline/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/answerline/internal/subscription/repository"
	"github.com/smallbiznis/answerline/internal/testutil"
	usagedomain "github.com/smallbiznis/answerline/internal/usage/domain"
	usagerepo "github.com/smallbiznis/answerline/internal/usage/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) SubmitUsage(ctx context.Context, submission meteringdomain.UsageSubmission) error {
	args := m.Called(ctx, submission)
	return args.Error(0)
}

const period = "2026-03"

type fixture struct {
	db         *gorm.DB
	node       *snowflake.Node
	clock      *clock.FakeClock
	locker     lock.Locker
	businessID snowflake.ID
	usage      usagedomain.UsagePeriod
}

func setup(t *testing.T, withItem bool) *fixture {
	t.Helper()

	db := testutil.NewDB(t,
		&businessdomain.Business{},
		&subscriptiondomain.Subscription{},
		&usagedomain.UsagePeriod{},
		&lock.Lease{},
	)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 3, 20, 15, 0, 0, 0, time.UTC))

	business := businessdomain.Business{
		ID:                 node.Generate(),
		Name:               "Acme Plumbing",
		PhoneNumber:        "+15550001111",
		PlanType:           plan.PlanTier1,
		SubscriptionStatus: businessdomain.SubscriptionStatusActive,
		Active:             true,
	}
	require.NoError(t, db.Create(&business).Error)

	sub := subscriptiondomain.Subscription{
		ID:                     node.Generate(),
		BusinessID:             business.ID,
		ExternalSubscriptionID: "sub_1",
		PlanType:               plan.PlanTier1,
		Status:                 subscriptiondomain.SubscriptionStatusActive,
	}
	if withItem {
		item := "si_1"
		sub.MeteredItemID = &item
	}
	require.NoError(t, db.Create(&sub).Error)

	usage := usagedomain.UsagePeriod{
		ID:               node.Generate(),
		BusinessID:       business.ID,
		BillingPeriod:    period,
		MinutesUsedTotal: 310,
	}
	require.NoError(t, db.Create(&usage).Error)

	return &fixture{
		db:         db,
		node:       node,
		clock:      clk,
		locker:     lock.NewDBLocker(db, clk),
		businessID: business.ID,
		usage:      usage,
	}
}

func (f *fixture) reporter(client meteringdomain.Client) meteringdomain.Reporter {
	var cfg config.Config
	cfg.Billing.MeteringTimeout = time.Second
	return NewReporter(ReporterParam{
		DB:               f.db,
		Log:              zap.NewNop(),
		Clock:            f.clock,
		Cfg:              cfg,
		Client:           client,
		Locker:           f.locker,
		UsageRepo:        usagerepo.Provide(),
		BusinessRepo:     businessrepo.Provide(),
		SubscriptionRepo: subscriptionrepo.Provide(),
		Plans:            plan.NewDefaultResolver(),
	})
}

func (f *fixture) reported(t *testing.T) int64 {
	t.Helper()
	var row usagedomain.UsagePeriod
	require.NoError(t, f.db.First(&row, "id = ?", f.usage.ID).Error)
	return row.ReportedOverageUnits
}

func (f *fixture) addMinutes(t *testing.T, minutes int64) {
	t.Helper()
	require.NoError(t, usagerepo.Provide().Increment(context.Background(), f.db, f.businessID, period, minutes, 0))
}

func TestReportSubmitsOutstandingOverage(t *testing.T) {
	f := setup(t, true)
	client := &mockClient{}
	client.On("SubmitUsage", mock.Anything, meteringdomain.UsageSubmission{
		SubscriptionItemID: "si_1",
		Quantity:           10,
		Timestamp:          f.clock.Now(),
		IdempotencyKey:     meteringdomain.IdempotencyKey(f.usage.ID, 0, 10),
	}).Return(nil).Once()

	result := f.reporter(client).Report(context.Background(), meteringdomain.ReportRequest{
		BusinessID:         f.businessID,
		Period:             period,
		IncrementalOverage: 10,
	})

	assert.Equal(t, meteringdomain.OutcomeReported, result.Outcome)
	assert.Equal(t, int64(10), result.Units)
	assert.Equal(t, int64(10), f.reported(t))
	client.AssertExpectations(t)

	// Nothing left to send.
	result = f.reporter(client).Reconcile(context.Background(), f.businessID, period)
	assert.Equal(t, meteringdomain.OutcomeNothingDue, result.Outcome)
	client.AssertNumberOfCalls(t, "SubmitUsage", 1)
}

func TestReportZeroIncrementIsNoop(t *testing.T) {
	f := setup(t, true)
	client := &mockClient{}

	result := f.reporter(client).Report(context.Background(), meteringdomain.ReportRequest{
		BusinessID: f.businessID,
		Period:     period,
	})
	assert.Equal(t, meteringdomain.OutcomeNothingDue, result.Outcome)
	client.AssertNotCalled(t, "SubmitUsage", mock.Anything, mock.Anything)
}

func TestFailedReportIsResentBeforeNewUnits(t *testing.T) {
	f := setup(t, true)
	failedAt := f.clock.Now()
	client := &mockClient{}
	client.On("SubmitUsage", mock.Anything, mock.MatchedBy(func(s meteringdomain.UsageSubmission) bool {
		return s.Quantity == 10
	})).Return(errors.New("503 from provider")).Once()
	client.On("SubmitUsage", mock.Anything, mock.MatchedBy(func(s meteringdomain.UsageSubmission) bool {
		return s.Quantity == 10 &&
			s.IdempotencyKey == meteringdomain.IdempotencyKey(f.usage.ID, 0, 10) &&
			s.Timestamp.Equal(failedAt)
	})).Return(nil).Once()
	client.On("SubmitUsage", mock.Anything, mock.MatchedBy(func(s meteringdomain.UsageSubmission) bool {
		return s.Quantity == 5 && s.IdempotencyKey == meteringdomain.IdempotencyKey(f.usage.ID, 10, 15)
	})).Return(nil).Once()

	reporter := f.reporter(client)
	result := reporter.Report(context.Background(), meteringdomain.ReportRequest{
		BusinessID: f.businessID, Period: period, IncrementalOverage: 10,
	})
	assert.Equal(t, meteringdomain.OutcomeFailed, result.Outcome)
	assert.Zero(t, f.reported(t), "ledger untouched on failure")

	f.clock.Advance(10 * time.Minute)
	f.addMinutes(t, 5)
	result = reporter.Report(context.Background(), meteringdomain.ReportRequest{
		BusinessID: f.businessID, Period: period, IncrementalOverage: 5,
	})
	assert.Equal(t, meteringdomain.OutcomeReported, result.Outcome)
	assert.Equal(t, int64(15), result.Units)
	assert.Equal(t, int64(15), f.reported(t))
	client.AssertExpectations(t)
}

func TestRetriesOfOneRangeSendIdenticalSubmissions(t *testing.T) {
	f := setup(t, true)
	client := &mockClient{}
	var sent []meteringdomain.UsageSubmission
	record := func(args mock.Arguments) {
		sent = append(sent, args.Get(1).(meteringdomain.UsageSubmission))
	}
	client.On("SubmitUsage", mock.Anything, mock.Anything).Run(record).Return(errors.New("timeout")).Twice()
	client.On("SubmitUsage", mock.Anything, mock.Anything).Run(record).Return(nil).Once()

	reporter := f.reporter(client)
	for i := 0; i < 3; i++ {
		reporter.Reconcile(context.Background(), f.businessID, period)
		f.clock.Advance(10 * time.Minute)
	}

	require.Len(t, sent, 3)
	for _, s := range sent[1:] {
		assert.Equal(t, sent[0].IdempotencyKey, s.IdempotencyKey)
		assert.Equal(t, sent[0].Quantity, s.Quantity)
		assert.Equal(t, sent[0].SubscriptionItemID, s.SubscriptionItemID)
		assert.Equal(t, sent[0].Timestamp.Unix(), s.Timestamp.Unix())
	}

	var row usagedomain.UsagePeriod
	require.NoError(t, f.db.First(&row, "id = ?", f.usage.ID).Error)
	assert.Equal(t, int64(10), row.ReportedOverageUnits)
	assert.Nil(t, row.PendingOverageTo)
	assert.Nil(t, row.PendingReportedAt)

	result := reporter.Reconcile(context.Background(), f.businessID, period)
	assert.Equal(t, meteringdomain.OutcomeNothingDue, result.Outcome)
	client.AssertNumberOfCalls(t, "SubmitUsage", 3)
}

func TestPendingRangeIsResentAfterPlanUpgrade(t *testing.T) {
	f := setup(t, true)
	client := &mockClient{}
	client.On("SubmitUsage", mock.Anything, mock.Anything).Return(errors.New("timeout")).Once()
	client.On("SubmitUsage", mock.Anything, mock.MatchedBy(func(s meteringdomain.UsageSubmission) bool {
		return s.IdempotencyKey == meteringdomain.IdempotencyKey(f.usage.ID, 0, 10)
	})).Return(nil).Once()

	reporter := f.reporter(client)
	assert.Equal(t, meteringdomain.OutcomeFailed, reporter.Reconcile(context.Background(), f.businessID, period).Outcome)

	// 310 minutes are within TIER_2, but the earlier range may already be billed.
	require.NoError(t, f.db.Model(&businessdomain.Business{}).
		Where("id = ?", f.businessID).
		Update("plan_type", plan.PlanTier2).Error)

	result := reporter.Reconcile(context.Background(), f.businessID, period)
	assert.Equal(t, meteringdomain.OutcomeReported, result.Outcome)
	assert.Equal(t, int64(10), result.Units)
	client.AssertExpectations(t)
}

func TestReportWithoutItemSkips(t *testing.T) {
	f := setup(t, false)
	client := &mockClient{}

	result := f.reporter(client).Reconcile(context.Background(), f.businessID, period)
	assert.Equal(t, meteringdomain.OutcomeNoItem, result.Outcome)
	assert.Zero(t, f.reported(t))
	client.AssertNotCalled(t, "SubmitUsage", mock.Anything, mock.Anything)
}

func TestReportDisabledWithoutClient(t *testing.T) {
	f := setup(t, true)

	result := f.reporter(nil).Report(context.Background(), meteringdomain.ReportRequest{
		BusinessID: f.businessID, Period: period, IncrementalOverage: 10,
	})
	assert.Equal(t, meteringdomain.OutcomeDisabled, result.Outcome)
	assert.Zero(t, f.reported(t))
}

func TestReportDefersToLeaseHolder(t *testing.T) {
	f := setup(t, true)
	client := &mockClient{}

	_, ok, err := f.locker.TryLock(context.Background(), "metering:"+f.businessID.String()+":"+period, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	result := f.reporter(client).Reconcile(context.Background(), f.businessID, period)
	assert.Equal(t, meteringdomain.OutcomeLeaseHeld, result.Outcome)
	client.AssertNotCalled(t, "SubmitUsage", mock.Anything, mock.Anything)
}

func TestTrialMinutesNeverReported(t *testing.T) {
	f := setup(t, true)
	require.NoError(t, f.db.Model(&usagedomain.UsagePeriod{}).
		Where("id = ?", f.usage.ID).
		Update("trial_minutes_total", 40).Error)
	client := &mockClient{}

	result := f.reporter(client).Reconcile(context.Background(), f.businessID, period)
	assert.Equal(t, meteringdomain.OutcomeNothingDue, result.Outcome, "270 billable minutes are within the plan")
	client.AssertNotCalled(t, "SubmitUsage", mock.Anything, mock.Anything)
}

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	businessdomain "github.com/smallbiznis/answerline/internal/business/domain"
	"github.com/smallbiznis/answerline/internal/plan"
	"github.com/smallbiznis/answerline/internal/testutil"
	usagedomain "github.com/smallbiznis/answerline/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func seedUsage(t *testing.T, db *gorm.DB, node *snowflake.Node, planType plan.PlanType, period string, used, reported int64) usagedomain.UsagePeriod {
	t.Helper()
	business := businessdomain.Business{
		ID:                 node.Generate(),
		Name:               "Acme Electric",
		PhoneNumber:        "+15550002222",
		PlanType:           planType,
		SubscriptionStatus: businessdomain.SubscriptionStatusActive,
		Active:             true,
	}
	require.NoError(t, db.Create(&business).Error)

	row := usagedomain.UsagePeriod{
		ID:                   node.Generate(),
		BusinessID:           business.ID,
		BillingPeriod:        period,
		MinutesUsedTotal:     used,
		ReportedOverageUnits: reported,
	}
	require.NoError(t, db.Create(&row).Error)
	return row
}

func TestMarkPendingThenAdvanceClearsRange(t *testing.T) {
	db := testutil.NewDB(t, &businessdomain.Business{}, &usagedomain.UsagePeriod{})
	node := testutil.NewNode(t)
	repo := Provide()
	ctx := context.Background()
	row := seedUsage(t, db, node, plan.PlanTier1, "2026-04", 320, 0)
	at := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)

	marked, err := repo.MarkPending(ctx, db, row.ID, 0, 20, at)
	require.NoError(t, err)
	require.True(t, marked)

	marked, err = repo.MarkPending(ctx, db, row.ID, 0, 25, at.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, marked, "a pending range is never replaced")

	stored, err := repo.Find(ctx, db, row.BusinessID, "2026-04")
	require.NoError(t, err)
	from, to, pendingAt, ok := stored.Pending()
	require.True(t, ok)
	assert.Equal(t, int64(0), from)
	assert.Equal(t, int64(20), to)
	assert.True(t, pendingAt.Equal(at))

	advanced, err := repo.AdvanceReported(ctx, db, row.ID, 0, 20)
	require.NoError(t, err)
	require.True(t, advanced)

	stored, err = repo.Find(ctx, db, row.BusinessID, "2026-04")
	require.NoError(t, err)
	assert.Equal(t, int64(20), stored.ReportedOverageUnits)
	assert.Nil(t, stored.PendingOverageTo)
	_, _, _, ok = stored.Pending()
	assert.False(t, ok)

	marked, err = repo.MarkPending(ctx, db, row.ID, 10, 30, at)
	require.NoError(t, err)
	assert.False(t, marked, "stale reported counter")
}

func TestListUnreportedUsesPlanAllowance(t *testing.T) {
	db := testutil.NewDB(t, &businessdomain.Business{}, &usagedomain.UsagePeriod{})
	node := testutil.NewNode(t)
	repo := Provide()
	ctx := context.Background()
	resolver := plan.NewDefaultResolver()

	seedUsage(t, db, node, plan.PlanTier1, "2026-04", 250, 0)
	over := seedUsage(t, db, node, plan.PlanTier1, "2026-04", 305, 0)
	seedUsage(t, db, node, plan.PlanTier2, "2026-04", 305, 0)
	seedUsage(t, db, node, plan.PlanTier2, "2026-04", 810, 10)
	overTier3 := seedUsage(t, db, node, plan.PlanTier3, "2026-04", 2100, 50)
	seedUsage(t, db, node, plan.PlanTier1, "2026-02", 900, 0)

	pending := seedUsage(t, db, node, plan.PlanTier2, "2026-04", 310, 0)
	require.NoError(t, db.Model(&usagedomain.UsagePeriod{}).
		Where("id = ?", pending.ID).
		Updates(map[string]any{"pending_overage_to": 10, "pending_reported_at": time.Now().UTC()}).Error)

	query := usagedomain.UnreportedQuery{
		Periods:  []string{"2026-03", "2026-04"},
		Included: resolver.IncludedMinutesByPlan(),
		Default:  resolver.IncludedMinutes(plan.PlanNone),
		Limit:    10,
	}
	rows, err := repo.ListUnreported(ctx, db, query)
	require.NoError(t, err)

	ids := make([]snowflake.ID, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	assert.Equal(t, []snowflake.ID{over.ID, overTier3.ID, pending.ID}, ids)

	query.AfterID = overTier3.ID
	rows, err = repo.ListUnreported(ctx, db, query)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, pending.ID, rows[0].ID)
}

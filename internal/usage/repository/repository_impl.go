package repository

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/answerline/internal/plan"
	usagedomain "github.com/smallbiznis/answerline/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) EnsurePeriod(ctx context.Context, db *gorm.DB, id, businessID snowflake.ID, period string) error {
	now := time.Now().UTC()
	row := usagedomain.UsagePeriod{
		ID:            id,
		BusinessID:    businessID,
		BillingPeriod: period,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "business_id"}, {Name: "billing_period"}},
			DoNothing: true,
		}).
		Create(&row).Error
}

func (r *repo) Increment(ctx context.Context, db *gorm.DB, businessID snowflake.ID, period string, minutes, trialMinutes int64) error {
	updates := map[string]any{
		"minutes_used_total": gorm.Expr("minutes_used_total + ?", minutes),
		"updated_at":         time.Now().UTC(),
	}
	if trialMinutes > 0 {
		updates["trial_minutes_total"] = gorm.Expr("trial_minutes_total + ?", trialMinutes)
	}

	result := db.WithContext(ctx).
		Model(&usagedomain.UsagePeriod{}).
		Where("business_id = ? AND billing_period = ?", businessID, period).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return usagedomain.ErrUsagePeriodNotFound
	}
	return nil
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, businessID snowflake.ID, period string) (*usagedomain.UsagePeriod, error) {
	var row usagedomain.UsagePeriod
	err := db.WithContext(ctx).
		Where("business_id = ? AND billing_period = ?", businessID, period).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *repo) MarkPending(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to int64, at time.Time) (bool, error) {
	result := db.WithContext(ctx).
		Model(&usagedomain.UsagePeriod{}).
		Where("id = ? AND reported_overage_units = ?", id, from).
		Where("(pending_overage_to IS NULL OR pending_overage_to <= reported_overage_units)").
		Updates(map[string]any{
			"pending_overage_to":  to,
			"pending_reported_at": at,
			"updated_at":          time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) AdvanceReported(ctx context.Context, db *gorm.DB, id snowflake.ID, expected, delta int64) (bool, error) {
	result := db.WithContext(ctx).
		Model(&usagedomain.UsagePeriod{}).
		Where("id = ? AND reported_overage_units = ?", id, expected).
		Updates(map[string]any{
			"reported_overage_units": expected + delta,
			"pending_overage_to":     nil,
			"pending_reported_at":    nil,
			"updated_at":             time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ListUnreported(ctx context.Context, db *gorm.DB, query usagedomain.UnreportedQuery) ([]usagedomain.UsagePeriod, error) {
	if len(query.Periods) == 0 {
		return nil, nil
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 100
	}

	included, args := includedMinutesExpr(query.Included, query.Default)

	var rows []usagedomain.UsagePeriod
	err := db.WithContext(ctx).
		Table("usage_periods").
		Select("usage_periods.*").
		Joins("JOIN businesses ON businesses.id = usage_periods.business_id").
		Where("usage_periods.billing_period IN ?", query.Periods).
		Where("usage_periods.id > ?", query.AfterID).
		Where(
			"(usage_periods.minutes_used_total - usage_periods.trial_minutes_total - "+included+" > usage_periods.reported_overage_units"+
				" OR usage_periods.pending_overage_to > usage_periods.reported_overage_units)",
			args...,
		).
		Order("usage_periods.id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// includedMinutesExpr renders the per-plan allowance as a CASE over
// businesses.plan_type. Minutes are inlined as integer literals so every
// dialect types the CASE as a number; plan names stay bound parameters.
func includedMinutesExpr(included map[plan.PlanType]int64, fallback int64) (string, []any) {
	plans := make([]string, 0, len(included))
	for p := range included {
		plans = append(plans, string(p))
	}
	sort.Strings(plans)

	var b strings.Builder
	args := make([]any, 0, len(plans))
	b.WriteString("(CASE businesses.plan_type")
	for _, p := range plans {
		b.WriteString(" WHEN ? THEN ")
		b.WriteString(strconv.FormatInt(included[plan.PlanType(p)], 10))
		args = append(args, p)
	}
	b.WriteString(" ELSE ")
	b.WriteString(strconv.FormatInt(fallback, 10))
	b.WriteString(" END)")
	return b.String(), args
}

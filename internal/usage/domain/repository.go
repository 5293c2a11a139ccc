package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/answerline/internal/plan"
	"gorm.io/gorm"
)

type UnreportedQuery struct {
	Periods []string
	// Included maps plan type to included minutes. Plans missing from the
	// map fall back to Default.
	Included map[plan.PlanType]int64
	Default  int64
	AfterID  snowflake.ID
	Limit    int
}

type Repository interface {
	// EnsurePeriod creates the row if missing. Concurrent callers race on the unique key.
	EnsurePeriod(ctx context.Context, db *gorm.DB, id, businessID snowflake.ID, period string) error
	Increment(ctx context.Context, db *gorm.DB, businessID snowflake.ID, period string, minutes, trialMinutes int64) error
	Find(ctx context.Context, db *gorm.DB, businessID snowflake.ID, period string) (*UsagePeriod, error)
	// MarkPending records the range about to be submitted. It returns false
	// when the reported counter moved or another range is already pending.
	MarkPending(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to int64, at time.Time) (bool, error)
	// AdvanceReported moves reported_overage_units from expected to expected+delta
	// and clears the pending range. It returns false when another writer moved it first.
	AdvanceReported(ctx context.Context, db *gorm.DB, id snowflake.ID, expected, delta int64) (bool, error)
	// ListUnreported returns periods whose overage, given the included minutes
	// of each plan, exceeds what was reported, plus periods with a pending range.
	ListUnreported(ctx context.Context, db *gorm.DB, query UnreportedQuery) ([]UsagePeriod, error)
}

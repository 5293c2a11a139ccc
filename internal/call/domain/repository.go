package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertIfAbsent relies on the external_call_id unique key; created is false on conflict.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, record *CallRecord) (bool, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, externalCallID string) (*CallRecord, error)
	UpdateDescriptive(ctx context.Context, db *gorm.DB, record *CallRecord, update DescriptiveUpdate) error
	// CorrectBilled swaps billed minutes only if they still equal expectedBilled.
	CorrectBilled(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedBilled, durationSeconds, billedMinutes int64) (bool, error)
}

// BusinessResolver attributes a call to a business by voice agent id, falling
// back to the dialed number. Unknown callers yield ErrBusinessUnknown.
type BusinessResolver interface {
	Resolve(ctx context.Context, agentID, toNumber string) (snowflake.ID, error)
}

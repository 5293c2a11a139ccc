package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	// FindByExternalID locks the row when db is inside a transaction on dialects that support it.
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Subscription, error)
	FindByBusinessID(ctx context.Context, db *gorm.DB, businessID snowflake.ID) (*Subscription, error)
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	SetMeteredItem(ctx context.Context, db *gorm.DB, id snowflake.ID, itemID string) error
}

package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/answerline/internal/clock"
	"github.com/smallbiznis/answerline/pkg/db"
	"gorm.io/gorm"
)

// Lease is a row in the leases table.
type Lease struct {
	LeaseKey  string    `gorm:"primaryKey;type:varchar(191)"`
	Token     string    `gorm:"type:varchar(64);not null"`
	ExpiresAt time.Time `gorm:"not null"`
}

// TableName sets the database table name.
func (Lease) TableName() string { return "leases" }

// DBLocker keeps leases in the primary datastore. An expired row is taken
// over with a conditional update; a missing row is inserted and the primary
// key settles concurrent inserts. Every step is plain SQL that postgres,
// mysql and sqlite all accept.
type DBLocker struct {
	db    *gorm.DB
	clock clock.Clock
}

func NewDBLocker(db *gorm.DB, clk clock.Clock) *DBLocker {
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &DBLocker{db: db, clock: clk}
}

func (l *DBLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := validate(key, ttl); err != nil {
		return "", false, err
	}

	now := l.clock.Now().UTC()
	lease := Lease{LeaseKey: key, Token: uuid.NewString(), ExpiresAt: now.Add(ttl)}
	conn := l.db.WithContext(ctx)

	result := conn.Model(&Lease{}).
		Where("lease_key = ? AND expires_at < ?", key, now).
		Updates(map[string]any{"token": lease.Token, "expires_at": lease.ExpiresAt})
	if result.Error != nil {
		return "", false, result.Error
	}
	if result.RowsAffected == 1 {
		return lease.Token, true, nil
	}

	var live int64
	if err := conn.Model(&Lease{}).Where("lease_key = ?", key).Count(&live).Error; err != nil {
		return "", false, err
	}
	if live > 0 {
		return "", false, nil
	}

	if err := conn.Create(&lease).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return lease.Token, true, nil
}

func (l *DBLocker) Release(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return nil
	}
	return l.db.WithContext(ctx).
		Where("lease_key = ? AND token = ?", key, token).
		Delete(&Lease{}).Error
}

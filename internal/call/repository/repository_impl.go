package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	calldomain "github.com/smallbiznis/answerline/internal/call/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() calldomain.Repository {
	return &repo{}
}

func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, record *calldomain.CallRecord) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_call_id"}},
			DoNothing: true,
		}).
		Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, externalCallID string) (*calldomain.CallRecord, error) {
	var record calldomain.CallRecord
	err := db.WithContext(ctx).
		Where("external_call_id = ?", externalCallID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repo) UpdateDescriptive(ctx context.Context, db *gorm.DB, record *calldomain.CallRecord, update calldomain.DescriptiveUpdate) error {
	updates := map[string]any{}
	setText := func(column, value string) {
		if strings.TrimSpace(value) != "" {
			updates[column] = value
		}
	}
	setText("transcript", update.Transcript)
	setText("caller_name", update.Intake.CallerName)
	setText("caller_phone", update.Intake.CallerPhone)
	setText("service_address", update.Intake.ServiceAddress)
	setText("issue_description", update.Intake.IssueDescription)
	setText("summary", update.Intake.Summary)
	if update.Intake.IsEmergency != nil {
		updates["is_emergency"] = *update.Intake.IsEmergency
	}
	if update.AnalyzedAt != nil {
		updates["analyzed_at"] = *update.AnalyzedAt
	}
	if len(update.Extras) > 0 {
		merged := datatypes.JSONMap{}
		for k, v := range record.Extras {
			merged[k] = v
		}
		for k, v := range update.Extras {
			merged[k] = v
		}
		updates["extras"] = merged
	}
	if len(updates) == 0 {
		return nil
	}
	updates["updated_at"] = time.Now().UTC()

	return db.WithContext(ctx).
		Model(&calldomain.CallRecord{}).
		Where("id = ?", record.ID).
		Updates(updates).Error
}

func (r *repo) CorrectBilled(ctx context.Context, db *gorm.DB, id snowflake.ID, expectedBilled, durationSeconds, billedMinutes int64) (bool, error) {
	result := db.WithContext(ctx).
		Model(&calldomain.CallRecord{}).
		Where("id = ? AND billed_minutes = ?", id, expectedBilled).
		Updates(map[string]any{
			"duration_seconds": durationSeconds,
			"billed_minutes":   billedMinutes,
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

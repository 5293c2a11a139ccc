// Package domain contains call records and the billable-minute rules.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// CallRecord is the single accounting row per external call id.
type CallRecord struct {
	ID               snowflake.ID      `gorm:"primaryKey" json:"id"`
	ExternalCallID   string            `gorm:"type:varchar(191);not null;uniqueIndex" json:"external_call_id"`
	BusinessID       snowflake.ID      `gorm:"not null;index" json:"business_id"`
	EventType        EventType         `gorm:"type:text;not null" json:"event_type"`
	AgentID          string            `gorm:"type:text" json:"agent_id,omitempty"`
	FromNumber       string            `gorm:"type:text" json:"from_number,omitempty"`
	ToNumber         string            `gorm:"type:text" json:"to_number,omitempty"`
	StartedAt        *time.Time        `json:"started_at,omitempty"`
	EndedAt          *time.Time        `json:"ended_at,omitempty"`
	DurationSeconds  int64             `gorm:"not null" json:"duration_seconds"`
	BilledMinutes    int64             `gorm:"not null" json:"billed_minutes"`
	BillingPeriod    string            `gorm:"type:varchar(7);not null;index" json:"billing_period"`
	Trial            bool              `gorm:"not null" json:"trial"`
	Transcript       string            `gorm:"type:text" json:"transcript,omitempty"`
	CallerName       string            `gorm:"type:text" json:"caller_name,omitempty"`
	CallerPhone      string            `gorm:"type:text" json:"caller_phone,omitempty"`
	ServiceAddress   string            `gorm:"type:text" json:"service_address,omitempty"`
	IssueDescription string            `gorm:"type:text" json:"issue_description,omitempty"`
	IsEmergency      bool              `gorm:"not null" json:"is_emergency"`
	Summary          string            `gorm:"type:text" json:"summary,omitempty"`
	Extras           datatypes.JSONMap `json:"extras,omitempty"`
	AnalyzedAt       *time.Time        `json:"analyzed_at,omitempty"`
	CreatedAt        time.Time         `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time         `gorm:"not null" json:"updated_at"`
}

// TableName sets the database table name.
func (CallRecord) TableName() string { return "call_records" }

// DescriptiveUpdate carries the fields a redelivery may fill in.
// Empty values never overwrite stored ones.
type DescriptiveUpdate struct {
	Transcript string
	Intake     IntakeFields
	Extras     map[string]any
	AnalyzedAt *time.Time
}

func NewDescriptiveUpdate(event CallEvent, now time.Time) DescriptiveUpdate {
	update := DescriptiveUpdate{
		Transcript: event.Transcript,
		Intake:     event.Intake,
		Extras:     event.Extras,
	}
	if event.EventType == EventTypeCallAnalyzed {
		analyzedAt := now.UTC()
		update.AnalyzedAt = &analyzedAt
	}
	return update
}

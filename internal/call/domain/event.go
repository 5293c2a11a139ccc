package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type EventType string

const (
	EventTypeCallEnded    EventType = "call_ended"
	EventTypeCallAnalyzed EventType = "call_analyzed"
)

// ParseEventType accepts provider spellings. ok is false for events the ledger ignores.
func ParseEventType(raw string) (EventType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "call_ended":
		return EventTypeCallEnded, true
	case "call_analyzed", "call_analysis":
		return EventTypeCallAnalyzed, true
	default:
		return "", false
	}
}

// IntakeFields are the structured values extracted by the voice agent.
type IntakeFields struct {
	CallerName       string `json:"caller_name,omitempty"`
	CallerPhone      string `json:"caller_phone,omitempty"`
	ServiceAddress   string `json:"service_address,omitempty"`
	IssueDescription string `json:"issue_description,omitempty"`
	IsEmergency      *bool  `json:"is_emergency,omitempty"`
	Summary          string `json:"summary,omitempty"`
}

// CallEvent is a verified telephony webhook reduced to what the ledger needs.
type CallEvent struct {
	EventType       EventType `validate:"required,oneof=call_ended call_analyzed"`
	ExternalCallID  string    `validate:"required,max=255"`
	AgentID         string    `validate:"required_without=ToNumber,max=255"`
	ToNumber        string    `validate:"required_without=AgentID,max=64"`
	FromNumber      string    `validate:"max=64"`
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds int64
	Transcript      string
	Intake          IntakeFields
	// Extras carries provider analysis fields that do not affect the ledger.
	Extras map[string]any
}

// OccurredAt is the instant used to pick the billing period. A start-only
// event is offset by at most DefaultMaxDuration.
func (e CallEvent) OccurredAt(fallback time.Time) time.Time {
	switch {
	case e.EndedAt != nil:
		return e.EndedAt.UTC()
	case e.StartedAt != nil:
		seconds := min(max(e.DurationSeconds, 0), int64(DefaultMaxDuration/time.Second))
		return e.StartedAt.Add(time.Duration(seconds) * time.Second).UTC()
	default:
		return fallback.UTC()
	}
}

var validate = validator.New()

// Validate trims identifiers and checks the event can be attributed.
func (e *CallEvent) Validate() error {
	e.ExternalCallID = strings.TrimSpace(e.ExternalCallID)
	e.AgentID = strings.TrimSpace(e.AgentID)
	e.ToNumber = strings.TrimSpace(e.ToNumber)
	e.FromNumber = strings.TrimSpace(e.FromNumber)

	if err := validate.Struct(e); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: %s", ErrInvalidEvent, strings.ToLower(verrs[0].Field()))
		}
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

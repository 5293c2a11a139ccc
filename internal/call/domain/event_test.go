package domain

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	ok := CallEvent{EventType: EventTypeCallEnded, ExternalCallID: " call_1 ", AgentID: "agent_1"}
	assert.NoError(t, ok.Validate())
	assert.Equal(t, "call_1", ok.ExternalCallID)

	byNumber := CallEvent{EventType: EventTypeCallEnded, ExternalCallID: "call_1", ToNumber: "+15551234567"}
	assert.NoError(t, byNumber.Validate())

	missingID := CallEvent{EventType: EventTypeCallEnded, AgentID: "agent_1"}
	assert.ErrorIs(t, missingID.Validate(), ErrInvalidEvent)

	missingBusiness := CallEvent{EventType: EventTypeCallEnded, ExternalCallID: "call_1", AgentID: "  "}
	assert.ErrorIs(t, missingBusiness.Validate(), ErrInvalidEvent)

	badType := CallEvent{EventType: "call_started", ExternalCallID: "call_1", AgentID: "agent_1"}
	assert.ErrorIs(t, badType.Validate(), ErrInvalidEvent)
}

func TestParseEventType(t *testing.T) {
	typ, ok := ParseEventType("call_analysis")
	assert.True(t, ok)
	assert.Equal(t, EventTypeCallAnalyzed, typ)

	_, ok = ParseEventType("call_started")
	assert.False(t, ok)
}

func TestOccurredAt(t *testing.T) {
	fallback := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	start := time.Date(2024, 2, 29, 23, 59, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 0, 1, 0, 0, time.UTC)

	assert.Equal(t, end, CallEvent{StartedAt: &start, EndedAt: &end}.OccurredAt(fallback))
	assert.Equal(t, start.Add(90*time.Second), CallEvent{StartedAt: &start, DurationSeconds: 90}.OccurredAt(fallback))
	assert.Equal(t, fallback, CallEvent{}.OccurredAt(fallback))
	assert.Equal(t, start.Add(DefaultMaxDuration), CallEvent{StartedAt: &start, DurationSeconds: math.MaxInt64}.OccurredAt(fallback))
	assert.Equal(t, start, CallEvent{StartedAt: &start, DurationSeconds: -5}.OccurredAt(fallback))
}

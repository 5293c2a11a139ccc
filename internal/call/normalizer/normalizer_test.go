package normalizer

import (
	"math"
	"testing"
	"time"

	calldomain "github.com/smallbiznis/answerline/internal/call/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCallEnded(t *testing.T) {
	body := []byte(`{
		"event": "call_ended",
		"call": {
			"call_id": "call_123",
			"agent_id": "agent_abc",
			"to_number": "+15550001111",
			"from_number": "+15552223333",
			"start_timestamp": 1709251200000,
			"end_timestamp": 1709251261000,
			"transcript": "Agent: hello"
		}
	}`)

	event, err := Parse(body)
	require.NoError(t, err)
	assert.Equal(t, calldomain.EventTypeCallEnded, event.EventType)
	assert.Equal(t, "call_123", event.ExternalCallID)
	assert.Equal(t, "agent_abc", event.AgentID)
	assert.Equal(t, int64(61), event.DurationSeconds)
	require.NotNil(t, event.EndedAt)
	assert.Equal(t, time.UnixMilli(1709251261000).UTC(), *event.EndedAt)
	assert.Nil(t, event.Extras)
}

func TestParseExplicitDurationWins(t *testing.T) {
	body := []byte(`{"event":"call_ended","call":{"call_id":"c","agent_id":"a","start_timestamp":1000,"end_timestamp":900000,"duration_ms":1500}}`)
	event, err := Parse(body)
	require.NoError(t, err)
	assert.Equal(t, int64(2), event.DurationSeconds)
}

func TestParseHugeDurationBillsAtCeiling(t *testing.T) {
	body := []byte(`{"event":"call_ended","call":{"call_id":"c","agent_id":"a","start_timestamp":1709251200000,"duration_ms":9223372036854775807}}`)
	event, err := Parse(body)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64/1000+1), event.DurationSeconds)
	assert.Equal(t, int64(24*60), calldomain.BillableMinutes(event.DurationSeconds, calldomain.DefaultMaxDuration))
	assert.Equal(t, event.StartedAt.Add(calldomain.DefaultMaxDuration), event.OccurredAt(time.Time{}))
}

func TestParseAnalysis(t *testing.T) {
	body := []byte(`{
		"event": "call_analysis",
		"call": {
			"call_id": "call_123",
			"to_number": "+15550001111",
			"call_analysis": {
				"call_summary": "Leaking pipe",
				"user_sentiment": "Negative",
				"custom_analysis_data": {
					"caller_name": "Dana",
					"caller_phone": "5552223333",
					"service_address": "1 Main St",
					"issue_description": "Pipe burst",
					"is_emergency": "yes",
					"preferred_time": "morning"
				}
			}
		}
	}`)

	event, err := Parse(body)
	require.NoError(t, err)
	assert.Equal(t, calldomain.EventTypeCallAnalyzed, event.EventType)
	assert.Equal(t, "Dana", event.Intake.CallerName)
	assert.Equal(t, "Pipe burst", event.Intake.IssueDescription)
	assert.Equal(t, "Leaking pipe", event.Intake.Summary)
	require.NotNil(t, event.Intake.IsEmergency)
	assert.True(t, *event.Intake.IsEmergency)
	assert.Equal(t, "morning", event.Extras["preferred_time"])
	assert.Equal(t, "Negative", event.Extras["user_sentiment"])
	assert.NotContains(t, event.Extras, "caller_name")
}

func TestParseIgnoresOtherEvents(t *testing.T) {
	_, err := Parse([]byte(`{"event":"call_started","call":{"call_id":"c","agent_id":"a"}}`))
	assert.ErrorIs(t, err, calldomain.ErrEventIgnored)
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse([]byte(`{"event":`))
	assert.ErrorIs(t, err, calldomain.ErrInvalidPayload)

	_, err = Parse([]byte(`{"event":"call_ended","call":{"agent_id":"a"}}`))
	assert.ErrorIs(t, err, calldomain.ErrInvalidEvent)

	_, err = Parse([]byte(`{"event":"call_ended","call":{"call_id":"c"}}`))
	assert.ErrorIs(t, err, calldomain.ErrInvalidEvent)
}

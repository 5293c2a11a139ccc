// Package normalizer turns verified telephony webhook bodies into call events.
package normalizer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	calldomain "github.com/smallbiznis/answerline/internal/call/domain"
)

type payload struct {
	Event string      `json:"event"`
	Call  callPayload `json:"call"`
}

type callPayload struct {
	CallID         string          `json:"call_id"`
	AgentID        string          `json:"agent_id"`
	ToNumber       string          `json:"to_number"`
	FromNumber     string          `json:"from_number"`
	StartTimestamp *int64          `json:"start_timestamp"`
	EndTimestamp   *int64          `json:"end_timestamp"`
	DurationMS     *int64          `json:"duration_ms"`
	Transcript     string          `json:"transcript"`
	Analysis       *analysisFields `json:"call_analysis"`
}

type analysisFields struct {
	Custom  map[string]any `json:"custom_analysis_data"`
	Summary string         `json:"call_summary"`
	Other   map[string]any `json:"-"`
}

func (a *analysisFields) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if custom, ok := raw["custom_analysis_data"].(map[string]any); ok {
		a.Custom = custom
	}
	if summary, ok := raw["call_summary"].(string); ok {
		a.Summary = summary
	}
	delete(raw, "custom_analysis_data")
	delete(raw, "call_summary")
	a.Other = raw
	return nil
}

var intakeKeys = map[string]struct{}{
	"caller_name":       {},
	"caller_phone":      {},
	"service_address":   {},
	"issue_description": {},
	"is_emergency":      {},
}

// Parse decodes and validates a webhook body.
// Events other than call_ended and call_analyzed return ErrEventIgnored.
func Parse(body []byte) (calldomain.CallEvent, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return calldomain.CallEvent{}, fmt.Errorf("%w: %v", calldomain.ErrInvalidPayload, err)
	}

	eventType, ok := calldomain.ParseEventType(p.Event)
	if !ok {
		return calldomain.CallEvent{}, fmt.Errorf("%w: %s", calldomain.ErrEventIgnored, strings.TrimSpace(p.Event))
	}

	event := calldomain.CallEvent{
		EventType:      eventType,
		ExternalCallID: p.Call.CallID,
		AgentID:        p.Call.AgentID,
		ToNumber:       p.Call.ToNumber,
		FromNumber:     p.Call.FromNumber,
		StartedAt:      fromMillis(p.Call.StartTimestamp),
		EndedAt:        fromMillis(p.Call.EndTimestamp),
		Transcript:     p.Call.Transcript,
	}
	event.DurationSeconds = durationSeconds(p.Call, event.StartedAt, event.EndedAt)

	if a := p.Call.Analysis; a != nil {
		event.Intake = intakeFrom(a)
		event.Extras = extrasFrom(a)
	}

	if err := event.Validate(); err != nil {
		return calldomain.CallEvent{}, err
	}
	return event, nil
}

// An explicit duration wins over the timestamp difference.
func durationSeconds(c callPayload, start, end *time.Time) int64 {
	if c.DurationMS != nil {
		return ceilSeconds(*c.DurationMS)
	}
	if start != nil && end != nil && end.After(*start) {
		return ceilSeconds(end.Sub(*start).Milliseconds())
	}
	return 0
}

// ceilSeconds rounds up without adding to ms, so values near MaxInt64 do not wrap.
func ceilSeconds(ms int64) int64 {
	seconds := ms / 1000
	if ms%1000 > 0 {
		seconds++
	}
	return seconds
}

func fromMillis(ms *int64) *time.Time {
	if ms == nil || *ms <= 0 {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}

func intakeFrom(a *analysisFields) calldomain.IntakeFields {
	intake := calldomain.IntakeFields{
		CallerName:       stringValue(a.Custom["caller_name"]),
		CallerPhone:      stringValue(a.Custom["caller_phone"]),
		ServiceAddress:   stringValue(a.Custom["service_address"]),
		IssueDescription: stringValue(a.Custom["issue_description"]),
		Summary:          strings.TrimSpace(a.Summary),
	}
	if v, ok := a.Custom["is_emergency"]; ok {
		if b, ok := boolValue(v); ok {
			intake.IsEmergency = &b
		}
	}
	return intake
}

func extrasFrom(a *analysisFields) map[string]any {
	extras := map[string]any{}
	for k, v := range a.Custom {
		if _, known := intakeKeys[k]; known {
			continue
		}
		extras[k] = v
	}
	for k, v := range a.Other {
		extras[k] = v
	}
	if len(extras) == 0 {
		return nil
	}
	return extras
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

func boolValue(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			switch strings.ToLower(strings.TrimSpace(t)) {
			case "yes", "y":
				return true, true
			case "no", "n":
				return false, true
			}
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

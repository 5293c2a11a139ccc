package domain

import "errors"

var (
	ErrInvalidPayload  = errors.New("invalid_payload")
	ErrInvalidEvent    = errors.New("invalid_call_event")
	ErrEventIgnored    = errors.New("call_event_ignored")
	ErrCallNotFound    = errors.New("call_not_found")
	ErrBusinessUnknown = errors.New("business_not_resolved")
)

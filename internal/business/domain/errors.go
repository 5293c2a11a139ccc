package domain

import "errors"

var (
	ErrBusinessNotFound    = errors.New("business_not_found")
	ErrInvalidBusinessID   = errors.New("invalid_business_id")
	ErrInvalidPhoneNumber  = errors.New("invalid_phone_number")
	ErrTrialAlreadyClaimed = errors.New("trial_already_claimed")
	ErrVoiceAgentTaken     = errors.New("voice_agent_already_assigned")
)

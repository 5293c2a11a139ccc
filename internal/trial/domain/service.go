package domain

import (
	"context"
	"errors"

	businessdomain "github.com/smallbiznis/answerline/internal/business/domain"
)

type StartTrialRequest struct {
	Name         string `json:"name" validate:"required,max=255"`
	PhoneNumber  string `json:"phone_number" validate:"required,max=32"`
	VoiceAgentID string `json:"voice_agent_id" validate:"max=255"`
}

type Service interface {
	Status(ctx context.Context, businessID string) (TrialStatus, error)
	StartTrial(ctx context.Context, req StartTrialRequest) (*businessdomain.Business, error)
}

var (
	ErrInvalidName = errors.New("invalid_business_name")
)

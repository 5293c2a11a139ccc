package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	businessdomain "github.com/smallbiznis/answerline/internal/business/domain"
	calldomain "github.com/smallbiznis/answerline/internal/call/domain"
	"github.com/smallbiznis/answerline/internal/providers/billing"
	"github.com/smallbiznis/answerline/internal/providers/telephony"
	subscriptiondomain "github.com/smallbiznis/answerline/internal/subscription/domain"
	trialdomain "github.com/smallbiznis/answerline/internal/trial/domain"
	usagedomain "github.com/smallbiznis/answerline/internal/usage/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case isAuthenticationError(err):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, businessdomain.ErrTrialAlreadyClaimed),
		errors.Is(err, businessdomain.ErrVoiceAgentTaken):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog returns the error type and a low-cardinality code for
// request logs.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, calldomain.ErrInvalidPayload),
		errors.Is(err, calldomain.ErrInvalidEvent),
		errors.Is(err, billing.ErrInvalidPayload),
		errors.Is(err, subscriptiondomain.ErrInvalidEvent),
		errors.Is(err, subscriptiondomain.ErrUnknownStatus),
		errors.Is(err, businessdomain.ErrInvalidBusinessID),
		errors.Is(err, businessdomain.ErrInvalidPhoneNumber),
		errors.Is(err, trialdomain.ErrInvalidName),
		errors.Is(err, usagedomain.ErrInvalidBillingPeriod):
		return true
	default:
		return false
	}
}

func isAuthenticationError(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, telephony.ErrMissingSignature) ||
		errors.Is(err, telephony.ErrInvalidSignature) ||
		errors.Is(err, billing.ErrInvalidSignature)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, businessdomain.ErrBusinessNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, calldomain.ErrCallNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, businessdomain.ErrTrialAlreadyClaimed):
		return "trial already claimed for this phone number"
	case errors.Is(err, businessdomain.ErrVoiceAgentTaken):
		return "voice agent already assigned"
	default:
		return "conflict"
	}
}

// validationErrorCode is the sentinel text, without any wrapped detail.
func validationErrorCode(err error) string {
	for _, sentinel := range []error{
		ErrInvalidRequest,
		calldomain.ErrInvalidPayload,
		calldomain.ErrInvalidEvent,
		billing.ErrInvalidPayload,
		subscriptiondomain.ErrInvalidEvent,
		subscriptiondomain.ErrUnknownStatus,
		businessdomain.ErrInvalidBusinessID,
		businessdomain.ErrInvalidPhoneNumber,
		trialdomain.ErrInvalidName,
		usagedomain.ErrInvalidBillingPeriod,
	} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}

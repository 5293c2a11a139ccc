package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	calldomain "github.com/smallbiznis/answerline/internal/call/domain"
	"github.com/smallbiznis/answerline/internal/call/normalizer"
	meteringdomain "github.com/smallbiznis/answerline/internal/metering/domain"
	"github.com/smallbiznis/answerline/internal/providers/billing"
	subscriptionservice "github.com/smallbiznis/answerline/internal/subscription/service"
	"github.com/smallbiznis/answerline/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

const billingProviderLabel = "stripe"

type telephonyWebhookResponse struct {
	Status        string                 `json:"status"`
	CallID        string                 `json:"call_id,omitempty"`
	BilledMinutes int64                  `json:"billed_minutes,omitempty"`
	Metering      meteringdomain.Outcome `json:"metering,omitempty"`
}

type billingWebhookResponse struct {
	Status string `json:"status"`
	Event  string `json:"event,omitempty"`
}

func readWebhookBody(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody)
	return io.ReadAll(c.Request.Body)
}

// HandleTelephonyWebhook answers 200 for anything the provider should not
// retry: recorded, duplicate, ignored event types and unmapped businesses.
func (s *Server) HandleTelephonyWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := readWebhookBody(c)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.telephonyVerifier.Verify(body, c.GetHeader(s.telephonyVerifier.Header())); err != nil {
		s.log.Warn("telephony webhook rejected", zap.Error(err))
		AbortWithError(c, err)
		return
	}

	event, err := normalizer.Parse(body)
	if err != nil {
		if errors.Is(err, calldomain.ErrEventIgnored) {
			s.obsMetrics.RecordIgnoredTelephonyEvent(ctx, "unhandled_event_type")
			c.JSON(http.StatusOK, telephonyWebhookResponse{Status: "ignored"})
			return
		}
		AbortWithError(c, err)
		return
	}
	c.Set("webhook_event", string(event.EventType))
	ctx, _ = correlation.ForDelivery(ctx, "telephony", event.ExternalCallID)
	c.Request = c.Request.WithContext(ctx)

	result, err := s.recorder.Record(ctx, event)
	if err != nil {
		if errors.Is(err, calldomain.ErrBusinessUnknown) {
			c.JSON(http.StatusOK, telephonyWebhookResponse{Status: "unmapped"})
			return
		}
		AbortWithError(c, err)
		return
	}

	status := "recorded"
	if result.Duplicate {
		status = "duplicate"
	}
	resp := telephonyWebhookResponse{
		Status:   status,
		Metering: result.Report.Outcome,
	}
	if result.Call != nil {
		c.Set("business_id", result.Call.BusinessID.String())
		resp.CallID = result.Call.ExternalCallID
		resp.BilledMinutes = result.Call.BilledMinutes
	}
	c.JSON(http.StatusOK, resp)
}

// HandleBillingWebhook acknowledges events for unknown subscriptions or
// businesses; a retry would never succeed.
func (s *Server) HandleBillingWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	payload, err := readWebhookBody(c)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	event, eventType, err := s.billingWebhooks.Parse(payload, c.GetHeader("Stripe-Signature"))
	if eventType != "" {
		c.Set("webhook_event", eventType)
	}
	if err != nil {
		if errors.Is(err, billing.ErrEventIgnored) {
			s.obsMetrics.RecordBillingEvent(ctx, billingProviderLabel, eventType, "ignored")
			c.JSON(http.StatusOK, billingWebhookResponse{Status: "ignored", Event: eventType})
			return
		}
		if errors.Is(err, billing.ErrInvalidSignature) {
			s.log.Warn("billing webhook rejected", zap.Error(err))
		}
		AbortWithError(c, err)
		return
	}

	ctx, _ = correlation.ForDelivery(ctx, "billing", event.ID)
	c.Request = c.Request.WithContext(ctx)
	if event.BusinessID != "" {
		c.Set("business_id", event.BusinessID)
	}

	result, err := s.subscriptionSvc.Apply(ctx, event)
	if err != nil {
		if subscriptionservice.IsAcknowledged(err) {
			s.log.Warn("billing event references unknown records",
				zap.String("event_id", event.ID),
				zap.String("event_type", eventType),
				zap.String("external_subscription_id", event.ExternalSubscriptionID),
				zap.Error(err),
			)
			s.obsMetrics.RecordBillingEvent(ctx, billingProviderLabel, eventType, "not_found")
			c.JSON(http.StatusOK, billingWebhookResponse{Status: "acknowledged", Event: eventType})
			return
		}
		s.obsMetrics.RecordBillingEvent(ctx, billingProviderLabel, eventType, "failed")
		AbortWithError(c, err)
		return
	}

	s.obsMetrics.RecordBillingEvent(ctx, billingProviderLabel, eventType, string(result.Outcome))
	c.JSON(http.StatusOK, billingWebhookResponse{Status: string(result.Outcome), Event: eventType})
}

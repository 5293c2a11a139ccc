package billing

import (
	"github.com/smallbiznis/answerline/internal/config"
	meteringdomain "github.com/smallbiznis/answerline/internal/metering/domain"
	subscriptiondomain "github.com/smallbiznis/answerline/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("providers.billing",
	fx.Provide(
		NewFromConfig,
		provideMeteringClient,
		provideItemProvisioner,
		func(cfg config.Config) *WebhookParser { return NewWebhookParser(cfg.Stripe.WebhookSecret) },
	),
)

// NewFromConfig returns nil when no Stripe key is configured.
func NewFromConfig(cfg config.Config, log *zap.Logger) *Client {
	if cfg.Stripe.SecretKey == "" {
		log.Warn("stripe not configured; overage metering disabled")
		return nil
	}
	return NewClient(cfg.Stripe.SecretKey, cfg.Stripe.OveragePriceID, nil, log)
}

// The interfaces are returned as untyped nil when unconfigured so consumers
// take their explicit disabled branch.
func provideMeteringClient(cfg config.Config, c *Client) meteringdomain.Client {
	if c == nil || !cfg.Stripe.MeteringEnabled() {
		return nil
	}
	return c
}

func provideItemProvisioner(cfg config.Config, c *Client) subscriptiondomain.ItemProvisioner {
	if c == nil || !cfg.Stripe.MeteringEnabled() {
		return nil
	}
	return c
}

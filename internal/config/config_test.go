package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Environment: "production",
		Telephony:   TelephonyConfig{WebhookSecret: "secret"},
		Billing: BillingConfig{
			TrialDays:        14,
			TrialMinutes:     50,
			CallMaxDuration:  24 * time.Hour,
			MeteringTimeout:  5 * time.Second,
			CorrectionPolicy: CorrectionPolicyUpward,
		},
	}
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	cfg := validConfig()
	cfg.Telephony.SkipSignature = true
	assert.ErrorIs(t, cfg.Validate(), ErrSignatureBypassNotAllowed)

	cfg.Environment = "development"
	assert.NoError(t, cfg.Validate())

	cfg = validConfig()
	cfg.Telephony.WebhookSecret = ""
	assert.ErrorIs(t, cfg.Validate(), ErrMissingTelephonySecret)

	cfg = validConfig()
	cfg.Billing.CorrectionPolicy = "downward"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidCorrectionPolicy)

	cfg = validConfig()
	cfg.Billing.MeteringTimeout = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidBillingConfig)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRIAL_MINUTES", "")
	t.Setenv("CALL_MAX_DURATION", "not-a-duration")
	t.Setenv("BILLING_CORRECTION_POLICY", "FIRST_DELIVERY")

	cfg := Load()
	assert.Equal(t, int64(50), cfg.Billing.TrialMinutes)
	assert.Equal(t, 24*time.Hour, cfg.Billing.CallMaxDuration)
	assert.Equal(t, 5*time.Second, cfg.Billing.MeteringTimeout)
	assert.Equal(t, CorrectionPolicyFirstDelivery, cfg.Billing.CorrectionPolicy)
	assert.Equal(t, "X-Signature", cfg.Telephony.SignatureHeader)
}

func TestValidatePlanCatalog(t *testing.T) {
	require.NoError(t, ValidatePlanCatalog(DefaultPlanCatalog()))

	assert.Error(t, ValidatePlanCatalog(PlanCatalog{}))
	assert.Error(t, ValidatePlanCatalog(PlanCatalog{Plans: []PlanDefinition{{Type: "TIER_1", IncludedMinutes: -1}}}))
	assert.Error(t, ValidatePlanCatalog(PlanCatalog{Plans: []PlanDefinition{{Type: "TIER_1"}, {Type: "tier_1"}}}))
}

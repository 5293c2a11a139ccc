package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	// NodeID seeds snowflake id generation; unique per replica.
	NodeID int64

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Redis     RedisConfig
	Telephony TelephonyConfig
	Stripe    StripeConfig
	Billing   BillingConfig
	Scheduler SchedulerConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis endpoint was configured.
func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type TelephonyConfig struct {
	WebhookSecret   string
	SignatureHeader string
	// SkipSignature disables webhook verification. Only honored in development.
	SkipSignature bool
}

type StripeConfig struct {
	SecretKey      string
	WebhookSecret  string
	OveragePriceID string
}

// MeteringEnabled reports whether overage can be pushed to Stripe.
func (c StripeConfig) MeteringEnabled() bool {
	return strings.TrimSpace(c.SecretKey) != "" && strings.TrimSpace(c.OveragePriceID) != ""
}

type BillingConfig struct {
	TrialDays        int
	TrialMinutes     int64
	CallMaxDuration  time.Duration
	MeteringTimeout  time.Duration
	CorrectionPolicy string
	PlanCatalogPath  string
}

type SchedulerConfig struct {
	MeteringSweepInterval time.Duration
	MeteringSweepTimeout  time.Duration
	MeteringSweepBatch    int
}

const (
	CorrectionPolicyUpward        = "upward"
	CorrectionPolicyFirstDelivery = "first_delivery"
)

var (
	ErrSignatureBypassNotAllowed = errors.New("telephony signature bypass is only allowed in development")
	ErrMissingTelephonySecret    = errors.New("telephony webhook secret is required")
	ErrInvalidCorrectionPolicy   = errors.New("invalid billing correction policy")
	ErrInvalidBillingConfig      = errors.New("invalid billing config")
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "answerline"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		NodeID:       getenvInt64("SNOWFLAKE_NODE_ID", 1),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "answerline"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Telephony: TelephonyConfig{
			WebhookSecret:   strings.TrimSpace(getenv("TELEPHONY_WEBHOOK_SECRET", "")),
			SignatureHeader: getenv("TELEPHONY_SIGNATURE_HEADER", "X-Signature"),
			SkipSignature:   getenvBool("TELEPHONY_SKIP_SIGNATURE", false),
		},
		Stripe: StripeConfig{
			SecretKey:      strings.TrimSpace(getenv("STRIPE_SECRET_KEY", "")),
			WebhookSecret:  strings.TrimSpace(getenv("STRIPE_WEBHOOK_SECRET", "")),
			OveragePriceID: strings.TrimSpace(getenv("STRIPE_OVERAGE_PRICE_ID", "")),
		},
		Billing: BillingConfig{
			TrialDays:        getenvInt("TRIAL_DAYS", 14),
			TrialMinutes:     getenvInt64("TRIAL_MINUTES", 50),
			CallMaxDuration:  getenvDuration("CALL_MAX_DURATION", 24*time.Hour),
			MeteringTimeout:  getenvDuration("METERING_TIMEOUT", 5*time.Second),
			CorrectionPolicy: strings.ToLower(getenv("BILLING_CORRECTION_POLICY", CorrectionPolicyUpward)),
			PlanCatalogPath:  getenv("PLAN_CATALOG_PATH", ""),
		},
		Scheduler: SchedulerConfig{
			MeteringSweepInterval: getenvDuration("METERING_SWEEP_INTERVAL", 10*time.Minute),
			MeteringSweepTimeout:  getenvDuration("METERING_SWEEP_TIMEOUT", 2*time.Minute),
			MeteringSweepBatch:    getenvInt("METERING_SWEEP_BATCH", 100),
		},
	}

	return cfg
}

// Validate rejects combinations that are unsafe to run with.
func (c Config) Validate() error {
	if c.Telephony.SkipSignature && !c.IsDevelopment() {
		return fmt.Errorf("%w (environment=%s)", ErrSignatureBypassNotAllowed, c.Environment)
	}
	if !c.Telephony.SkipSignature && c.Telephony.WebhookSecret == "" && !c.IsDevelopment() {
		return ErrMissingTelephonySecret
	}
	switch c.Billing.CorrectionPolicy {
	case CorrectionPolicyUpward, CorrectionPolicyFirstDelivery:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidCorrectionPolicy, c.Billing.CorrectionPolicy)
	}
	if c.Billing.TrialDays < 0 || c.Billing.TrialMinutes < 0 {
		return fmt.Errorf("%w: trial days and minutes must be non-negative", ErrInvalidBillingConfig)
	}
	if c.Billing.CallMaxDuration <= 0 {
		return fmt.Errorf("%w: call max duration must be positive", ErrInvalidBillingConfig)
	}
	if c.Billing.MeteringTimeout <= 0 {
		return fmt.Errorf("%w: metering timeout must be positive", ErrInvalidBillingConfig)
	}
	return nil
}

func (c Config) IsDevelopment() bool {
	switch strings.ToLower(strings.TrimSpace(c.Environment)) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

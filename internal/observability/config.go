package observability

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/answerline/internal/config"
)

// Config holds observability settings. Most values fall back to the app config;
// the OTEL_* and LOG_* variables override them.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	development bool

	LogLevel  string
	LogFormat string

	// DBLogLevel is one of silent, error, warn, info.
	DBLogLevel           string
	DBSlowQueryThreshold time.Duration

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "answerline"
	}

	protocol := strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))
	if traces := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = strings.ToLower(traces)
	}

	dbLogLevel := "warn"
	if cfg.IsDevelopment() {
		dbLogLevel = "info"
	}

	return Config{
		ServiceName: serviceName,
		Environment: getenv("DEPLOYMENT_ENV", cfg.Environment),
		Version:     getenv("SERVICE_VERSION", cfg.AppVersion),
		development: cfg.IsDevelopment(),

		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getenv("LOG_FORMAT", "json")),

		DBLogLevel:           strings.ToLower(getenv("DB_LOG_LEVEL", dbLogLevel)),
		DBSlowQueryThreshold: time.Duration(getenvInt("DB_SLOW_QUERY_MS", 200)) * time.Millisecond,

		OtelEnabled:          getenvBool("OTEL_ENABLED", true),
		OtelExporterEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
	}
}

// Debug turns on stack traces and verbose request logs.
func (c Config) Debug() bool {
	return c.LogLevel == "debug" || c.development
}

func getenv(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return def
}

func getenvBool(key string, def bool) bool {
	switch strings.ToLower(getenv(key, "")) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	parsed, err := strconv.Atoi(getenv(key, ""))
	if err != nil || parsed < 0 {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	parsed, err := strconv.ParseFloat(getenv(key, ""), 64)
	if err != nil {
		return def
	}
	return parsed
}

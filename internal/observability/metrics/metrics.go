package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes ledger-level instruments.
type Metrics struct {
	callsRecorded         metric.Int64Counter
	callsDuplicate        metric.Int64Counter
	minutesBilled         metric.Int64Counter
	overageUnitsReported  metric.Int64Counter
	meteringFailures      metric.Int64Counter
	billingEvents         metric.Int64Counter
	telephonyEventIgnored metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "answerline"
	}
	meter := provider.Meter(name)

	callsRecorded, err := meter.Int64Counter("answerline_calls_recorded_total")
	if err != nil {
		return nil, err
	}
	callsDuplicate, err := meter.Int64Counter("answerline_calls_duplicate_total")
	if err != nil {
		return nil, err
	}
	minutesBilled, err := meter.Int64Counter("answerline_minutes_billed_total")
	if err != nil {
		return nil, err
	}
	overageUnitsReported, err := meter.Int64Counter("answerline_overage_units_reported_total")
	if err != nil {
		return nil, err
	}
	meteringFailures, err := meter.Int64Counter("answerline_metering_failures_total")
	if err != nil {
		return nil, err
	}
	billingEvents, err := meter.Int64Counter("answerline_billing_events_total")
	if err != nil {
		return nil, err
	}
	telephonyEventIgnored, err := meter.Int64Counter("answerline_telephony_events_ignored_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		callsRecorded:         callsRecorded,
		callsDuplicate:        callsDuplicate,
		minutesBilled:         minutesBilled,
		overageUnitsReported:  overageUnitsReported,
		meteringFailures:      meteringFailures,
		billingEvents:         billingEvents,
		telephonyEventIgnored: telephonyEventIgnored,
	}, nil
}

// NewNop returns instruments backed by a no-op provider.
func NewNop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordCall increments recorded call counts and billed minutes.
func (m *Metrics) RecordCall(ctx context.Context, eventType string, billedMinutes int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.callsRecorded.Add(ctx, 1, metric.WithAttributes(attrs...))
	if billedMinutes > 0 {
		m.minutesBilled.Add(ctx, billedMinutes, metric.WithAttributes(FilterAttributes(attribute.String("source", "first_delivery"))...))
	}
}

// RecordDuplicateCall increments redelivery counts and any corrected minutes.
func (m *Metrics) RecordDuplicateCall(ctx context.Context, eventType string, correctedMinutes int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.callsDuplicate.Add(ctx, 1, metric.WithAttributes(attrs...))
	if correctedMinutes > 0 {
		m.minutesBilled.Add(ctx, correctedMinutes, metric.WithAttributes(FilterAttributes(attribute.String("source", "correction"))...))
	}
}

// RecordIgnoredTelephonyEvent counts webhook events acknowledged without persistence.
func (m *Metrics) RecordIgnoredTelephonyEvent(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.telephonyEventIgnored.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordOverageReported increments reported overage units.
func (m *Metrics) RecordOverageReported(ctx context.Context, provider string, units int64) {
	if m == nil || units <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.overageUnitsReported.Add(ctx, units, metric.WithAttributes(attrs...))
}

// RecordMeteringFailure increments metering failures by reason.
func (m *Metrics) RecordMeteringFailure(ctx context.Context, provider, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.meteringFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBillingEvent increments billing provider webhook counts.
func (m *Metrics) RecordBillingEvent(ctx context.Context, provider, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.billingEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// Business and call ids are deliberately absent.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":    {},
	"status_code": {},
	"provider":    {},
	"event_type":  {},
	"source":      {},
	"outcome":     {},
	"reason":      {},
	"plan":        {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}

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

const exportInterval = 10 * time.Second

type Config struct {
	Enabled     bool
	Endpoint    string
	Protocol    string
	ServiceName string
}

// NewProvider installs the global meter provider. Disabled export yields a
// noop provider so instruments stay valid.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.Protocol, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("metrics exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(exportInterval))),
	)
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.StopHook(provider.Shutdown))
	}
	if log != nil {
		log.Info("metrics export enabled",
			zap.String("endpoint", cfg.Endpoint),
			zap.String("protocol", cfg.Protocol),
		)
	}
	return provider, nil
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	switch strings.ToLower(protocol) {
	case "http", "http/protobuf":
		var opts []otlpmetrichttp.Option
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(ctx, opts...)
	case "", "grpc", "grpc/protobuf":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(ctx, opts...)
	}
	return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
}

type counter int

const (
	paymentEvents counter = iota
	balanceMutations
	fxRefreshes
	rateLimitDenials
	numCounters
)

var counterSpecs = [numCounters]struct {
	name string
	desc string
}{
	paymentEvents:    {"copydesk_payment_events_total", "Webhook events by type and reconciliation outcome."},
	balanceMutations: {"copydesk_balance_mutations_total", "Applied balance credits and debits."},
	fxRefreshes:      {"copydesk_fx_refresh_total", "Exchange rate table refresh attempts."},
	rateLimitDenials: {"copydesk_rate_limit_denied_total", "Requests refused by the checkout limiter."},
}

// Metrics holds the reconciliation counters. A nil *Metrics records nothing.
type Metrics struct {
	counters [numCounters]metric.Int64Counter
}

func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "copydesk"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	for i, spec := range counterSpecs {
		c, err := meter.Int64Counter(spec.name, metric.WithDescription(spec.desc))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", spec.name, err)
		}
		m.counters[i] = c
	}
	return m, nil
}

func (m *Metrics) add(ctx context.Context, c counter, attrs ...attribute.KeyValue) {
	if m == nil {
		return
	}
	m.counters[c].Add(ctx, 1, metric.WithAttributes(FilterAttributes(attrs...)...))
}

// RecordPaymentEvent counts one webhook delivery by its reconciler outcome.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, eventType, outcome string) {
	m.add(ctx, paymentEvents,
		attribute.String("event_type", eventType),
		attribute.String("outcome", outcome),
	)
}

func (m *Metrics) RecordBalanceMutation(ctx context.Context, direction, sourceType string) {
	m.add(ctx, balanceMutations,
		attribute.String("direction", direction),
		attribute.String("source_type", sourceType),
	)
}

func (m *Metrics) RecordFXRefresh(ctx context.Context, outcome string) {
	m.add(ctx, fxRefreshes, attribute.String("outcome", outcome))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	m.add(ctx, rateLimitDenials,
		attribute.String("endpoint", endpoint),
		attribute.String("reason", reason),
	)
}

var allowedLabelKeys = map[attribute.Key]bool{
	"endpoint":    true,
	"status_code": true,
	"event_type":  true,
	"outcome":     true,
	"direction":   true,
	"source_type": true,
	"reason":      true,
}

// FilterAttributes drops labels outside the fixed low-cardinality set.
// User and order identifiers never become metric labels.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := attrs[:0:0]
	for _, attr := range attrs {
		if allowedLabelKeys[attr.Key] {
			out = append(out, attr)
		}
	}
	return out
}

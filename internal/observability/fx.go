package observability

import (
	"github.com/smallbiznis/copydesk/internal/observability/logger"
	"github.com/smallbiznis/copydesk/internal/observability/metrics"
	"github.com/smallbiznis/copydesk/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(LoadConfig),
	fx.Provide(
		Config.Logger,
		Config.Tracing,
		Config.Metrics,
	),
	fx.Provide(
		logger.New,
		tracing.NewProvider,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
	),
	// The tracer provider installs the global propagator; nothing else
	// depends on it directly.
	fx.Invoke(func(*sdktrace.TracerProvider) {}),
)

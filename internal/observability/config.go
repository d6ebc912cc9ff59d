package observability

import (
	"strings"

	"github.com/smallbiznis/copydesk/internal/config"
	"github.com/smallbiznis/copydesk/internal/observability/logger"
	"github.com/smallbiznis/copydesk/internal/observability/metrics"
	"github.com/smallbiznis/copydesk/internal/observability/tracing"
)

const defaultServiceName = "copydesk"

// Config is the observability slice of the application config, with
// defaults applied.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled  bool
	OtelEndpoint string
	OtelProtocol string
	OtelSampling float64
}

func LoadConfig(cfg config.Config) Config {
	obs := cfg.Observability

	out := Config{
		ServiceName:  strings.TrimSpace(cfg.AppName),
		Environment:  strings.ToLower(strings.TrimSpace(cfg.Environment)),
		Version:      strings.TrimSpace(cfg.AppVersion),
		LogLevel:     strings.ToLower(strings.TrimSpace(obs.LogLevel)),
		LogFormat:    strings.ToLower(strings.TrimSpace(obs.LogFormat)),
		OtelEnabled:  obs.OtelEnabled,
		OtelEndpoint: strings.TrimSpace(obs.OtelEndpoint),
		OtelProtocol: strings.ToLower(strings.TrimSpace(obs.OtelProtocol)),
		OtelSampling: obs.OtelSampling,
	}
	if out.ServiceName == "" {
		out.ServiceName = defaultServiceName
	}
	if out.LogLevel == "" {
		out.LogLevel = "info"
	}
	if out.LogFormat == "" {
		out.LogFormat = "json"
	}
	return out
}

// Debug is true for debug logging or any non-production-like environment.
func (c Config) Debug() bool {
	if c.LogLevel == "debug" {
		return true
	}
	switch c.Environment {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func (c Config) Logger() logger.Config {
	return logger.Config{
		ServiceName: c.ServiceName,
		Environment: c.Environment,
		Version:     c.Version,
		Level:       c.LogLevel,
		Format:      c.LogFormat,
		Debug:       c.Debug(),
	}
}

func (c Config) Tracing() tracing.Config {
	return tracing.Config{
		Enabled:          c.OtelEnabled,
		ServiceName:      c.ServiceName,
		ServiceVersion:   c.Version,
		Environment:      c.Environment,
		ExporterEndpoint: c.OtelEndpoint,
		ExporterProtocol: c.OtelProtocol,
		SamplingRatio:    c.OtelSampling,
	}
}

func (c Config) Metrics() metrics.Config {
	return metrics.Config{
		Enabled:     c.OtelEnabled,
		Endpoint:    c.OtelEndpoint,
		Protocol:    c.OtelProtocol,
		ServiceName: c.ServiceName,
	}
}

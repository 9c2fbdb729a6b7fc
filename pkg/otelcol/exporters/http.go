package exporters

import (
	"context"
	"time"

	"gps-campaign-dashboard/pkg/config"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
)

const startTimeout = 10 * time.Second

// NewOTLPHTTP returns a span exporter for the collector at OTEL.ADDR, or nil
// when tracing is not configured. The connection is plain HTTP unless TLS
// is enabled for the service.
func NewOTLPHTTP(ctx context.Context, cfg *config.Config) (*otlptrace.Exporter, error) {
	if cfg.Otel.Addr == "" {
		return nil, nil
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(cfg.Otel.Addr),
		otlptracehttp.WithCompression(otlptracehttp.GzipCompression),
	}
	if !cfg.TLS.Enable {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	return otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
}

package telemetry

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"mercator-hq/sieve/pkg/config"
	"mercator-hq/sieve/pkg/telemetry/logging"
	"mercator-hq/sieve/pkg/telemetry/metrics"
	"mercator-hq/sieve/pkg/telemetry/tracing"
)

// Telemetry holds the process's logger, metrics collector and tracer.
type Telemetry struct {
	logger  *slog.Logger
	metrics *metrics.Collector
	tracer  *tracing.Tracer
}

// New builds all three from cfg. Logs go to w.
func New(cfg *config.TelemetryConfig, w io.Writer) (*Telemetry, error) {
	logger, err := logging.New(&cfg.Logging, w)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	tracer, err := tracing.New(&cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	return &Telemetry{
		logger:  logger,
		metrics: metrics.NewCollector(&cfg.Metrics, nil),
		tracer:  tracer,
	}, nil
}

// Logger returns the root logger.
func (t *Telemetry) Logger() *slog.Logger { return t.logger }

// Metrics returns the metrics collector.
func (t *Telemetry) Metrics() *metrics.Collector { return t.metrics }

// Tracer returns the tracer.
func (t *Telemetry) Tracer() *tracing.Tracer { return t.tracer }

// Shutdown flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return t.tracer.Shutdown(ctx)
}

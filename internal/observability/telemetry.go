// Package observability wires the metrics listener and trace exporter for
// the collaboration engine.
package observability

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config controls telemetry exporters and listeners.
type Config struct {
	ServiceName  string
	MetricsAddr  string
	OTLPEndpoint string
}

// Start brings up the /metrics listener and, when an OTLP endpoint is
// configured, a batched gRPC trace exporter. The returned function shuts
// both down and is safe to call with a deadline context.
func Start(ctx context.Context, cfg Config, logger zerolog.Logger) (func(context.Context) error, error) {
	tracerProvider, err := startTracing(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	metricsSrv := startMetrics(cfg, logger)

	return func(ctx context.Context) error {
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(ctx)
		}
		if tracerProvider != nil {
			return tracerProvider.Shutdown(ctx)
		}
		return nil
	}, nil
}

func startTracing(ctx context.Context, cfg Config, logger zerolog.Logger) (*sdktrace.TracerProvider, error) {
	if cfg.OTLPEndpoint == "" {
		return nil, nil
	}
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		)),
	)
	otel.SetTracerProvider(provider)
	logger.Info().Str("endpoint", cfg.OTLPEndpoint).Msg("otlp tracing enabled")
	return provider, nil
}

func startMetrics(cfg Config, logger zerolog.Logger) *http.Server {
	if cfg.MetricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server failed")
		}
	}()
	logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server started")
	return srv
}

// LoggerWithTrace attaches the active span's identifiers to the logger so
// log lines correlate with exported traces.
func LoggerWithTrace(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With().
		Str("trace_id", spanCtx.TraceID().String()).
		Str("span_id", spanCtx.SpanID().String()).
		Logger()
}

// RegisterRuntimeCollectors adds engine process gauges beyond what the
// default Go collector exports.
func RegisterRuntimeCollectors() {
	started := time.Now()

	prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "engine",
		Name:      "uptime_seconds",
		Help:      "Seconds since the process started.",
	}, func() float64 {
		return time.Since(started).Seconds()
	}))

	prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "engine",
		Name:      "last_gc_pause_seconds",
		Help:      "Duration of the most recent GC pause.",
	}, func() float64 {
		var stats runtime.MemStats
		runtime.ReadMemStats(&stats)
		if stats.NumGC == 0 {
			return 0
		}
		return float64(stats.PauseNs[(stats.NumGC+255)%256]) / float64(time.Second)
	}))
}

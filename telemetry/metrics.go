// Package telemetry provides OpenTelemetry metrics for the shoplist
// pipeline: cache lookups, page fetches, storage operations, and the
// resilience layer's retries and rate-limit waits. Metrics are exported
// over OTLP gRPC and optionally scraped via a Prometheus endpoint.
//
// All record functions are safe to call before InitMetrics; they no-op
// until the meter provider exists.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const (
	meterName = "github.com/shoplist-ai/shoplist"
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	cacheLookupsTotal  metric.Int64Counter
	cacheEvictionsTotal metric.Int64Counter

	fetchDuration   metric.Float64Histogram
	fetchTotal      metric.Int64Counter
	fetchBytesTotal metric.Int64Counter

	storageOpDuration metric.Float64Histogram
	storageOpsTotal   metric.Int64Counter
	storageBytesTotal metric.Int64Counter

	retryAttemptsTotal  metric.Int64Counter
	rateLimitWaitsTotal metric.Int64Counter
	rateLimitWaitTime   metric.Float64Histogram

	chatCallsTotal   metric.Int64Counter
	chatCallDuration metric.Float64Histogram

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "shoplist"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(), // Use WithTLSCredentials for production
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// If no exporters configured, use a no-op periodic reader to still collect metrics
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	meter := mp.Meter(meterName)

	cacheLookupsTotal, err := meter.Int64Counter(
		"shoplist_cache_lookups_total",
		metric.WithDescription("Cache lookups by tier and result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return err
	}

	cacheEvictionsTotal, err := meter.Int64Counter(
		"shoplist_cache_evictions_total",
		metric.WithDescription("Memory cache evictions by reason"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return err
	}

	fetchDuration, err := meter.Float64Histogram(
		"shoplist_fetch_duration_seconds",
		metric.WithDescription("Duration of web page fetches"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60),
	)
	if err != nil {
		return err
	}

	fetchTotal, err := meter.Int64Counter(
		"shoplist_fetch_total",
		metric.WithDescription("Total web page fetch requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	fetchBytesTotal, err := meter.Int64Counter(
		"shoplist_fetch_bytes_total",
		metric.WithDescription("Total bytes fetched from the web"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	storageOpDuration, err := meter.Float64Histogram(
		"shoplist_storage_op_duration_seconds",
		metric.WithDescription("Duration of disk storage operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return err
	}

	storageOpsTotal, err := meter.Int64Counter(
		"shoplist_storage_ops_total",
		metric.WithDescription("Total disk storage operations"),
		metric.WithUnit("{op}"),
	)
	if err != nil {
		return err
	}

	storageBytesTotal, err := meter.Int64Counter(
		"shoplist_storage_bytes_total",
		metric.WithDescription("Total bytes transferred in storage operations"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	retryAttemptsTotal, err := meter.Int64Counter(
		"shoplist_retry_attempts_total",
		metric.WithDescription("Retry attempts by provider and error kind"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return err
	}

	rateLimitWaitsTotal, err := meter.Int64Counter(
		"shoplist_rate_limit_waits_total",
		metric.WithDescription("Calls that had to wait for a rate-limit token"),
		metric.WithUnit("{wait}"),
	)
	if err != nil {
		return err
	}

	rateLimitWaitTime, err := meter.Float64Histogram(
		"shoplist_rate_limit_wait_seconds",
		metric.WithDescription("Time spent waiting for rate-limit tokens"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return err
	}

	chatCallsTotal, err := meter.Int64Counter(
		"shoplist_chat_calls_total",
		metric.WithDescription("Chat completion calls by provider and outcome"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return err
	}

	chatCallDuration, err := meter.Float64Histogram(
		"shoplist_chat_call_duration_seconds",
		metric.WithDescription("Duration of chat completion calls including retries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60, 120),
	)
	if err != nil {
		return err
	}

	globalMetrics = &Metrics{
		cacheLookupsTotal:   cacheLookupsTotal,
		cacheEvictionsTotal: cacheEvictionsTotal,
		fetchDuration:       fetchDuration,
		fetchTotal:          fetchTotal,
		fetchBytesTotal:     fetchBytesTotal,
		storageOpDuration:   storageOpDuration,
		storageOpsTotal:     storageOpsTotal,
		storageBytesTotal:   storageBytesTotal,
		retryAttemptsTotal:  retryAttemptsTotal,
		rateLimitWaitsTotal: rateLimitWaitsTotal,
		rateLimitWaitTime:   rateLimitWaitTime,
		chatCallsTotal:      chatCallsTotal,
		chatCallDuration:    chatCallDuration,
		meterProvider:       mp,
		promHandler:         promHandler,
	}

	return nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordCacheLookup records a cache lookup. Tier is "memory" or "disk".
func RecordCacheLookup(ctx context.Context, tier string, hit bool) {
	if globalMetrics == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}
	globalMetrics.cacheLookupsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("result", result),
	))
}

// RecordCacheEviction records a memory cache eviction.
// Reason is "expired" or "capacity".
func RecordCacheEviction(ctx context.Context, reason string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.cacheEvictionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", reason),
	))
}

// RecordUpstreamFetch records a web fetch request.
func RecordUpstreamFetch(ctx context.Context, source string, duration time.Duration, bytesRead int64, outcome string) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	}
	globalMetrics.fetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	globalMetrics.fetchTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	if bytesRead > 0 {
		globalMetrics.fetchBytesTotal.Add(ctx, bytesRead, metric.WithAttributes(attrs...))
	}
}

// RecordStorageOp records a disk storage operation.
func RecordStorageOp(ctx context.Context, op, outcome string, duration time.Duration, bytes int64) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	}
	globalMetrics.storageOpsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.storageOpDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if bytes > 0 {
		globalMetrics.storageBytesTotal.Add(ctx, bytes, metric.WithAttributes(attrs...))
	}
}

// RecordRetryAttempt records one retry by provider name and error kind.
func RecordRetryAttempt(ctx context.Context, provider, kind string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.retryAttemptsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordRateLimitWait records time spent blocked on the rate limiter.
func RecordRateLimitWait(ctx context.Context, name string, waited time.Duration) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("limiter", name))
	globalMetrics.rateLimitWaitsTotal.Add(ctx, 1, attrs)
	globalMetrics.rateLimitWaitTime.Record(ctx, waited.Seconds(), attrs)
}

// RecordChatCall records one chat completion call, retries included.
func RecordChatCall(ctx context.Context, provider string, duration time.Duration, outcome string) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	)
	globalMetrics.chatCallsTotal.Add(ctx, 1, attrs)
	globalMetrics.chatCallDuration.Record(ctx, duration.Seconds(), attrs)
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// StatusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx).
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}

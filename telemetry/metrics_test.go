package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMetrics creates a Metrics instance backed by a ManualReader for testing.
func setupTestMetrics(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := mp.Meter(meterName)

	cacheLookupsTotal, err := meter.Int64Counter("shoplist_cache_lookups_total")
	require.NoError(t, err)

	cacheEvictionsTotal, err := meter.Int64Counter("shoplist_cache_evictions_total")
	require.NoError(t, err)

	storageOpDuration, err := meter.Float64Histogram("shoplist_storage_op_duration_seconds")
	require.NoError(t, err)

	storageOpsTotal, err := meter.Int64Counter("shoplist_storage_ops_total")
	require.NoError(t, err)

	storageBytesTotal, err := meter.Int64Counter("shoplist_storage_bytes_total")
	require.NoError(t, err)

	retryAttemptsTotal, err := meter.Int64Counter("shoplist_retry_attempts_total")
	require.NoError(t, err)

	rateLimitWaitsTotal, err := meter.Int64Counter("shoplist_rate_limit_waits_total")
	require.NoError(t, err)

	rateLimitWaitTime, err := meter.Float64Histogram("shoplist_rate_limit_wait_seconds")
	require.NoError(t, err)

	globalMetrics = &Metrics{
		cacheLookupsTotal:   cacheLookupsTotal,
		cacheEvictionsTotal: cacheEvictionsTotal,
		storageOpDuration:   storageOpDuration,
		storageOpsTotal:     storageOpsTotal,
		storageBytesTotal:   storageBytesTotal,
		retryAttemptsTotal:  retryAttemptsTotal,
		rateLimitWaitsTotal: rateLimitWaitsTotal,
		rateLimitWaitTime:   rateLimitWaitTime,
		meterProvider:       mp,
	}

	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		globalMetrics = nil
	})

	return reader
}

// collectMetrics reads all metrics from the ManualReader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

// findCounter finds a counter metric by name and returns its data points.
func findCounter(rm metricdata.ResourceMetrics, name string) []metricdata.DataPoint[int64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
					return sum.DataPoints
				}
			}
		}
	}
	return nil
}

// findHistogram finds a histogram metric by name and returns its data points.
func findHistogram(rm metricdata.ResourceMetrics, name string) []metricdata.HistogramDataPoint[float64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if hist, ok := m.Data.(metricdata.Histogram[float64]); ok {
					return hist.DataPoints
				}
			}
		}
	}
	return nil
}

// hasAttr checks if a data point's attribute set contains the given key-value pair.
func hasAttr(attrs attribute.Set, key, value string) bool {
	v, ok := attrs.Value(attribute.Key(key))
	return ok && v.AsString() == value
}

func TestRecordCacheLookup(t *testing.T) {
	reader := setupTestMetrics(t)

	ctx := context.Background()
	RecordCacheLookup(ctx, "memory", true)
	RecordCacheLookup(ctx, "memory", false)
	RecordCacheLookup(ctx, "disk", false)

	rm := collectMetrics(t, reader)
	dps := findCounter(rm, "shoplist_cache_lookups_total")
	require.Len(t, dps, 3)

	var memoryHits int64
	for _, dp := range dps {
		if hasAttr(dp.Attributes, "tier", "memory") && hasAttr(dp.Attributes, "result", "hit") {
			memoryHits = dp.Value
		}
	}
	require.EqualValues(t, 1, memoryHits)
}

func TestRecordStorageOp(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordStorageOp(context.Background(), "save", "success", 5*time.Millisecond, 2048)

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "shoplist_storage_ops_total")
	require.Len(t, dps, 1)
	require.EqualValues(t, 1, dps[0].Value)
	require.True(t, hasAttr(dps[0].Attributes, "op", "save"))
	require.True(t, hasAttr(dps[0].Attributes, "outcome", "success"))

	bytesDps := findCounter(rm, "shoplist_storage_bytes_total")
	require.Len(t, bytesDps, 1)
	require.EqualValues(t, 2048, bytesDps[0].Value)

	histDps := findHistogram(rm, "shoplist_storage_op_duration_seconds")
	require.Len(t, histDps, 1)
	require.Equal(t, uint64(1), histDps[0].Count)
}

func TestRecordRetryAttempt(t *testing.T) {
	reader := setupTestMetrics(t)

	ctx := context.Background()
	RecordRetryAttempt(ctx, "openai", "rate_limit")
	RecordRetryAttempt(ctx, "openai", "rate_limit")
	RecordRetryAttempt(ctx, "openai", "server")

	rm := collectMetrics(t, reader)
	dps := findCounter(rm, "shoplist_retry_attempts_total")
	require.Len(t, dps, 2)

	for _, dp := range dps {
		if hasAttr(dp.Attributes, "kind", "rate_limit") {
			require.EqualValues(t, 2, dp.Value)
		}
	}
}

func TestRecordRateLimitWait(t *testing.T) {
	reader := setupTestMetrics(t)

	RecordRateLimitWait(context.Background(), "openai", 500*time.Millisecond)

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "shoplist_rate_limit_waits_total")
	require.Len(t, dps, 1)
	require.True(t, hasAttr(dps[0].Attributes, "limiter", "openai"))

	histDps := findHistogram(rm, "shoplist_rate_limit_wait_seconds")
	require.Len(t, histDps, 1)
	require.InDelta(t, 0.5, histDps[0].Sum, 0.001)
}

func TestRecordBeforeInitIsNoop(t *testing.T) {
	require.Nil(t, globalMetrics)
	// Must not panic.
	RecordCacheLookup(context.Background(), "memory", true)
	RecordStorageOp(context.Background(), "load", "error", time.Millisecond, 0)
	RecordRetryAttempt(context.Background(), "openai", "network")
	RecordRateLimitWait(context.Background(), "openai", time.Second)
	RecordUpstreamFetch(context.Background(), "web", time.Second, 10, "success")
	RecordCacheEviction(context.Background(), "capacity")
	RecordChatCall(context.Background(), "openai", time.Second, "success")
}

func TestStatusClass(t *testing.T) {
	require.Equal(t, "2xx", StatusClass(204))
	require.Equal(t, "3xx", StatusClass(301))
	require.Equal(t, "4xx", StatusClass(429))
	require.Equal(t, "5xx", StatusClass(503))
	require.Equal(t, "unknown", StatusClass(42))
}

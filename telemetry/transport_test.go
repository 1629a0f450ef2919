package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// setupTransportMetrics registers only the fetch instruments.
func setupTransportMetrics(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := mp.Meter(meterName)

	fetchDuration, err := meter.Float64Histogram("shoplist_fetch_duration_seconds")
	require.NoError(t, err)
	fetchTotal, err := meter.Int64Counter("shoplist_fetch_total")
	require.NoError(t, err)
	fetchBytesTotal, err := meter.Int64Counter("shoplist_fetch_bytes_total")
	require.NoError(t, err)

	globalMetrics = &Metrics{
		fetchDuration:   fetchDuration,
		fetchTotal:      fetchTotal,
		fetchBytesTotal: fetchBytesTotal,
		meterProvider:   mp,
	}

	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		globalMetrics = nil
	})

	return reader
}

func TestInstrumentedTransportSuccess(t *testing.T) {
	reader := setupTransportMetrics(t)

	body := "recipe page content"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewInstrumentedTransport(nil, "web")}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, body, string(got))
	require.NoError(t, resp.Body.Close())

	rm := collectMetrics(t, reader)

	// The fetch is recorded when the body closes.
	dps := findCounter(rm, "shoplist_fetch_total")
	require.Len(t, dps, 1)
	require.EqualValues(t, 1, dps[0].Value)
	require.True(t, hasAttr(dps[0].Attributes, "source", "web"))
	require.True(t, hasAttr(dps[0].Attributes, "outcome", "success"))

	bytesDps := findCounter(rm, "shoplist_fetch_bytes_total")
	require.Len(t, bytesDps, 1)
	require.EqualValues(t, len(body), bytesDps[0].Value)
}

func TestInstrumentedTransportServerError(t *testing.T) {
	reader := setupTransportMetrics(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := &http.Client{Transport: NewInstrumentedTransport(nil, "web")}

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	rm := collectMetrics(t, reader)
	dps := findCounter(rm, "shoplist_fetch_total")
	require.Len(t, dps, 1)
	require.True(t, hasAttr(dps[0].Attributes, "outcome", "5xx"))
}

func TestInstrumentedTransportConnectionError(t *testing.T) {
	reader := setupTransportMetrics(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := &http.Client{Transport: NewInstrumentedTransport(nil, "web")}

	_, err := client.Get(srv.URL)
	require.Error(t, err)

	rm := collectMetrics(t, reader)
	dps := findCounter(rm, "shoplist_fetch_total")
	require.Len(t, dps, 1)
	require.True(t, hasAttr(dps[0].Attributes, "outcome", "error"))
}

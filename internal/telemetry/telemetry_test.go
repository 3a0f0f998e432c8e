package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewProviderDisabled(t *testing.T) {
	t.Parallel()

	p, err := NewProvider(false)
	require.NoError(t, err)
	assert.Nil(t, p.Handler)
	assert.NotNil(t, p.MeterProvider)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderServesPrometheus(t *testing.T) {
	t.Parallel()

	p, err := NewProvider(true)
	require.NoError(t, err)
	defer func() { _ = p.Shutdown(context.Background()) }()
	require.NotNil(t, p.Handler)

	metrics, err := NewHTTPMetrics(p.MeterProvider)
	require.NoError(t, err)

	r := mux.NewRouter()
	r.Use(metrics.Middleware)
	r.HandleFunc("/wms", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wms?REQUEST=GetMap", nil))

	rr := httptest.NewRecorder()
	p.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "wms_http_requests")
	assert.Contains(t, rr.Body.String(), `operation="GetMap"`)
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("passes through when metrics is nil", func(t *testing.T) {
		t.Parallel()

		var metrics *HTTPMetrics
		wrapped := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}))

		rr := httptest.NewRecorder()
		wrapped.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusTeapot, rr.Code)
	})

	t.Run("records route and operation", func(t *testing.T) {
		t.Parallel()

		reader := sdkmetric.NewManualReader()
		mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
		defer func() { _ = mp.Shutdown(context.Background()) }()

		mw, err := MetricsMiddleware(mp)
		require.NoError(t, err)

		r := mux.NewRouter()
		r.Use(mw)
		r.HandleFunc("/{path}", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "hello")
		})
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wms?request=GetCapabilities", nil))

		var rm metricdata.ResourceMetrics
		require.NoError(t, reader.Collect(context.Background(), &rm))
		require.Len(t, rm.ScopeMetrics, 1)
		assert.Equal(t, HTTPMetricsMeterName, rm.ScopeMetrics[0].Scope.Name)

		found := map[string]bool{}
		for _, m := range rm.ScopeMetrics[0].Metrics {
			found[m.Name] = true
			if m.Name != "wms_http_requests_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			require.Len(t, sum.DataPoints, 1)
			dp := sum.DataPoints[0]
			assert.Equal(t, int64(1), dp.Value)

			route, _ := dp.Attributes.Value("route")
			assert.Equal(t, "/{path}", route.AsString())
			op, _ := dp.Attributes.Value("operation")
			assert.Equal(t, "GetCapabilities", op.AsString())
			status, _ := dp.Attributes.Value("status_code")
			assert.Equal(t, "200", status.AsString())
		}
		assert.True(t, found["wms_http_request_duration_seconds"])
		assert.True(t, found["wms_http_requests_total"])
		assert.True(t, found["wms_http_response_bytes"])
	})
}

func TestOperation(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"/wms":                          "none",
		"/wms?REQUEST=GetMap":           "GetMap",
		"/wms?Request=GetFeatureInfo":   "GetFeatureInfo",
		"/wms?request=GetLegendGraphic": "other",
	}
	for target, want := range tests {
		assert.Equal(t, want, Operation(httptest.NewRequest(http.MethodGet, target, nil)), target)
	}
}

package telemetry

import (
	"net/http"
	"strconv"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/delta10/wms-server/internal/utils"
)

const (
	// HTTPMetricsMeterName is the name used for the HTTP metrics meter
	HTTPMetricsMeterName = "github.com/delta10/wms-server/http"
)

// HTTPMetrics holds the instruments recorded for every request.
type HTTPMetrics struct {
	requestDuration metric.Float64Histogram
	requestsTotal   metric.Int64Counter
	activeRequests  metric.Int64UpDownCounter
	responseBytes   metric.Int64Counter
}

// NewHTTPMetrics creates the instruments on provider. A nil provider yields
// nil metrics whose middleware passes requests through.
func NewHTTPMetrics(provider metric.MeterProvider) (*HTTPMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(HTTPMetricsMeterName)

	requestDuration, err := meter.Float64Histogram(
		"wms_http_request_duration_seconds",
		metric.WithDescription("Duration of HTTP requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	requestsTotal, err := meter.Int64Counter(
		"wms_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	activeRequests, err := meter.Int64UpDownCounter(
		"wms_http_active_requests",
		metric.WithDescription("Number of currently in-flight HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	responseBytes, err := meter.Int64Counter(
		"wms_http_response_bytes",
		metric.WithDescription("Bytes written in HTTP responses"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &HTTPMetrics{
		requestDuration: requestDuration,
		requestsTotal:   requestsTotal,
		activeRequests:  activeRequests,
		responseBytes:   responseBytes,
	}, nil
}

// Middleware records duration, count and size of each request, labelled with
// the route template and the WMS operation.
func (m *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		m.activeRequests.Add(ctx, 1)
		snoop := httpsnoop.CaptureMetrics(next, w, r)
		m.activeRequests.Add(ctx, -1)

		attrs := metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("route", routeTemplate(r)),
			attribute.String("operation", Operation(r)),
			attribute.String("status_code", strconv.Itoa(snoop.Code)),
		)
		m.requestDuration.Record(ctx, snoop.Duration.Seconds(), attrs)
		m.requestsTotal.Add(ctx, 1, attrs)
		m.responseBytes.Add(ctx, snoop.Written, attrs)
	})
}

// Operation is the WMS request name of r, or "none".
func Operation(r *http.Request) string {
	switch op := utils.QueryParamsToLower(r.URL.Query()).Get("request"); op {
	case "GetCapabilities", "GetMap", "GetFeatureInfo":
		return op
	case "":
		return "none"
	}
	// keep label cardinality bounded
	return "other"
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unknown_route"
}

// MetricsMiddleware combines NewHTTPMetrics and Middleware.
func MetricsMiddleware(provider metric.MeterProvider) (mux.MiddlewareFunc, error) {
	metrics, err := NewHTTPMetrics(provider)
	if err != nil {
		return nil, err
	}
	return metrics.Middleware, nil
}

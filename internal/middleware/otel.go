package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"varsys/internal/infrastructure"
)

// OTelMiddleware records per-request metrics on the shared meter.
type OTelMiddleware struct {
	requestCount    metric.Int64Counter
	requestDuration metric.Float64Histogram
	activeRequests  metric.Int64UpDownCounter
}

// NewOTelMiddleware creates HTTP metrics instruments on the configured
// metrics pipeline.
func NewOTelMiddleware(providers *infrastructure.MetricsProviders) (*OTelMiddleware, error) {
	m := &OTelMiddleware{}
	var err error

	if m.requestCount, err = providers.Meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, fmt.Errorf("create request counter: %w", err)
	}

	if m.requestDuration, err = providers.Meter.Float64Histogram(
		"http_request_duration_ms",
		metric.WithDescription("HTTP request duration in milliseconds"),
	); err != nil {
		return nil, fmt.Errorf("create request duration histogram: %w", err)
	}

	if m.activeRequests, err = providers.Meter.Int64UpDownCounter(
		"http_requests_active",
		metric.WithDescription("Number of HTTP requests currently being served"),
	); err != nil {
		return nil, fmt.Errorf("create active requests counter: %w", err)
	}

	return m, nil
}

// Handler instruments each request with count, duration, and in-flight
// gauges, labelled by method, route pattern, and status class.
func (m *OTelMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		start := time.Now()

		m.activeRequests.Add(ctx, 1)
		defer m.activeRequests.Add(ctx, -1)

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		attrs := metric.WithAttributes(
			attribute.String("method", r.Method),
			attribute.String("route", routePattern(r)),
			attribute.Int("status", ww.Status()),
		)
		m.requestCount.Add(ctx, 1, attrs)
		m.requestDuration.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	})
}

// routePattern returns the chi route pattern (e.g. /api/license/feature/{name})
// so metrics don't explode on per-value cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

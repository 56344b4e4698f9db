package mw

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/frontgate/frontgate/internal/httpx"
	"github.com/frontgate/frontgate/internal/proxy"
)

type Metrics struct {
	Requests         *prometheus.CounterVec
	Latency          *prometheus.HistogramVec
	UpstreamFailures *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontgate_http_requests_total",
			Help: "Requests handled by the gateway",
		}, []string{"route", "method", "code"}),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "frontgate_http_request_duration_seconds",
			Help:    "Request latency through the gateway",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
		UpstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontgate_upstream_failures_total",
			Help: "Forwards that did not complete, by failure kind",
		}, []string{"route", "kind"}),
	}
	reg.MustRegister(m.Requests, m.Latency, m.UpstreamFailures)
	return m
}

// ObserveFailure is handed to the forwarder as its FailureObserver.
func (m *Metrics) ObserveFailure(route string, kind proxy.FailureKind) {
	m.UpstreamFailures.WithLabelValues(route, string(kind)).Inc()
}

type routeKeyType string

const routeKey routeKeyType = "route"

func WithRoute(next http.Handler, routeName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(context.WithValue(r.Context(), routeKey, routeName))
		next.ServeHTTP(w, r)
	})
}

func RouteName(ctx context.Context) string {
	if v, ok := ctx.Value(routeKey).(string); ok && v != "" {
		return v
	}
	return "unknown"
}

func Instrument(m *Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &httpx.StatusWriter{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(sw, r)

		code := sw.Status
		if code == 0 {
			code = http.StatusOK
		}
		route := RouteName(r.Context())
		m.Requests.WithLabelValues(route, r.Method, strconv.Itoa(code)).Inc()
		m.Latency.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

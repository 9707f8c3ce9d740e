package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "llavad"

var (
	requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route pattern, method and status code.",
	}, []string{"route", "method", "code"})

	// Turns wait on the model, so the buckets reach well past a minute.
	requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route pattern and method.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
	}, []string{"route", "method"})

	requestsInFlight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "HTTP requests being served, by method.",
	}, []string{"method"})

	rejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "rejections_total",
		Help:      "Requests refused because a download, turn or reset was already running.",
	}, []string{"reason"})

	eventClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "event_stream_clients",
		Help:      "Open /events streams.",
	})

	turnImageBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "turn_image_bytes",
		Help:      "Decoded size of images attached to chat turns.",
		Buckets:   prometheus.ExponentialBuckets(16<<10, 2, 10),
	})
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration, requestsInFlight, rejectionsTotal, eventClients, turnImageBytes)
}

// statusRecorder keeps the status code for the request metrics. Flush is
// passed through so /events keeps streaming behind the middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// MetricsMiddleware records request counts and latency per route. The chi
// route pattern exists only once routing is done, so the in-flight gauge is
// keyed by method instead.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inflight := requestsInFlight.WithLabelValues(r.Method)
		inflight.Inc()
		defer inflight.Dec()

		sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sr, r)

		route := routeLabel(r)
		requestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(sr.status)).Inc()
		requestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// routeLabel is the matched chi pattern such as /models/{id}/select. Requests
// that matched nothing share one label so raw paths never become labels.
func routeLabel(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// countRejection records a refused request under reason.
func countRejection(reason string) {
	if reason == "" {
		reason = "unspecified"
	}
	rejectionsTotal.WithLabelValues(reason).Inc()
}

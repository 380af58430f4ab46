package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "endpoint", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint", "status"},
	)
	cartOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_operations_total",
			Help: "Cart service operations by outcome.",
		},
		[]string{"operation", "result"},
	)
	abandonedCartsDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cart_abandoned_deleted_total",
			Help: "Carts deleted by the abandoned cart cleanup.",
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(cartOperationsTotal)
	prometheus.MustRegister(abandonedCartsDeleted)
}

// RecordRequest records one served HTTP request.
func RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	status := classifyStatus(statusCode)
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

// RecordCartOperation counts a cart operation with result "ok" or an error kind.
func RecordCartOperation(operation, result string) {
	cartOperationsTotal.WithLabelValues(operation, result).Inc()
}

// RecordAbandonedCartsDeleted adds n to the cleanup counter.
func RecordAbandonedCartsDeleted(n int) {
	abandonedCartsDeleted.Add(float64(n))
}

func classifyStatus(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500 && statusCode < 600:
		return "5xx"
	}
	return "unknown"
}

// MetricsHandler exposes the registered metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

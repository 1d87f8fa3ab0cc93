package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Transport metrics. The code label is the HTTP status code, or the error
	// kind when no response was received.
	APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "observastack_api_requests_total",
		Help: "Total number of API requests issued by the transport, by method and outcome code",
	}, []string{"method", "code"})
	APIRequestRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "observastack_api_request_retries_total",
		Help: "Total number of transport retries after network-level failures",
	}, []string{"method"})
	APIRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "observastack_api_request_duration_seconds",
		Help:    "Latency of single API request attempts",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	// Session metrics
	TokenRefresh = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "observastack_token_refresh_total",
		Help: "Total number of token refresh attempts by auth method and result (refreshed, skipped, failed, coalesced)",
	}, []string{"method", "result"})
	TokenStoreWriteFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "observastack_tokenstore_write_failures_total",
		Help: "Total number of credential bundle writes that the storage backend rejected",
	})
)

func init() {
	prometheus.MustRegister(APIRequests)
	prometheus.MustRegister(APIRequestRetries)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(TokenRefresh)
	prometheus.MustRegister(TokenStoreWriteFailures)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

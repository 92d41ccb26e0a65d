package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AdapterRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adapter_requests_total",
		Help: "Total number of upstream requests by source, method and status_code.",
	}, []string{"source", "method", "status_code"})
	AdapterRequestsDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "adapter_requests_duration",
		Help: "Duration of upstream requests in seconds by source and method.",
	}, []string{"source", "method"})
	AdapterRateLimitWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adapter_ratelimit_waits_total",
		Help: "Number of times a request blocked on the shared rate limit window.",
	})
	VerificationResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "verification_results_total",
		Help: "Comparison results by test id and status.",
	}, []string{"test_id", "status"})
	VerificationRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "verification_run_duration",
		Help:    "Time it took to verify one (validator, epoch) pair.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 6),
	})
)

// ObserveAdapterRequest records one upstream round trip.
func ObserveAdapterRequest(source, method string, statusCode int, duration time.Duration) {
	AdapterRequestsTotal.WithLabelValues(source, method, strconv.Itoa(statusCode)).Inc()
	AdapterRequestsDuration.WithLabelValues(source, method).Observe(duration.Seconds())
}

// Serve serves prometheus metrics on the given address under /metrics
func Serve(addr string) error {
	router := http.NewServeMux()
	router.Handle("/metrics", promhttp.Handler())
	router.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>
<head><title>prometheus-metrics</title></head>
<body>
<h1>prometheus-metrics</h1>
<p><a href='/metrics'>metrics</a></p>
</body>
</html>`))
	}))
	srv := &http.Server{
		ReadTimeout:  time.Second * 10,
		WriteTimeout: time.Second * 10,
		Handler:      router,
		Addr:         addr,
	}

	return srv.ListenAndServe()
}

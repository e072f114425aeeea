package obs

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	transactionsPosted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loan_accrual_transactions_posted_total",
			Help: "Accrual and income-posting transactions created.",
		},
		[]string{"operation", "type"},
	)

	transactionsReversed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loan_accrual_transactions_reversed_total",
			Help: "Accrual and income-posting transactions reversed.",
		},
		[]string{"operation"},
	)

	loanFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loan_accrual_failures_total",
			Help: "Per-loan accrual passes that failed and were rolled back.",
		},
		[]string{"operation"},
	)

	batchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "loan_accrual_batch_duration_seconds",
		Help:    "Duration of periodic accrual batch runs.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	})
)

var registerOnce sync.Once

// Init registers the collectors in the default registry. Safe to call twice.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration,
			transactionsPosted, transactionsReversed, loanFailures, batchDuration,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordPosted counts transactions created by an operation.
func RecordPosted(operation, txType string, n int) {
	if n > 0 {
		transactionsPosted.WithLabelValues(operation, txType).Add(float64(n))
	}
}

func RecordReversed(operation string, n int) {
	if n > 0 {
		transactionsReversed.WithLabelValues(operation).Add(float64(n))
	}
}

func RecordFailure(operation string) {
	loanFailures.WithLabelValues(operation).Inc()
}

func ObserveBatch(d time.Duration) {
	batchDuration.Observe(d.Seconds())
}

// Instrument records RPS, latency and in-flight requests. Paths are labelled by
// their mux route template so loan ids do not explode cardinality.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)
		path := routePath(r)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

func routePath(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

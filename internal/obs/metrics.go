package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var initOnce sync.Once

// Общие HTTP-метрики
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
)

var serviceReady = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "service_ready",
	Help: "1 when every dependency answered the last readiness check.",
})

// LMS / batch
var (
	lmsCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lms_calls_total",
			Help: "Outbound LMS calls by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	lmsCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lms_call_duration_seconds",
			Help:    "Outbound LMS call latencies in seconds.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	lmsTokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lms_token_refresh_total",
			Help: "LMS access token fetches by outcome.",
		},
		[]string{"outcome"},
	)

	batchRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_rows_total",
			Help: "CSV rows handled by the synchronizer, by directory and final status.",
		},
		[]string{"directory", "status"},
	)

	batchFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_files_total",
			Help: "CSV files handled by the synchronizer, by directory and outcome.",
		},
		[]string{"directory", "outcome"},
	)
)

// Регистрация метрик в default-регистре.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpInFlight, httpRequestsTotal, httpRequestDuration, serviceReady,
			lmsCallsTotal, lmsCallDuration, lmsTokenRefreshTotal,
			batchRowsTotal, batchFilesTotal,
		)
	})
}

// Хэндлер Prometheus.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady публикует результат последней проверки готовности.
func SetReady(ok bool) {
	if ok {
		serviceReady.Set(1)
		return
	}
	serviceReady.Set(0)
}

// ObserveLMSCall records one outbound LMS call.
func ObserveLMSCall(operation, outcome string, d time.Duration) {
	lmsCallsTotal.WithLabelValues(operation, outcome).Inc()
	lmsCallDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func IncTokenRefresh(outcome string) {
	lmsTokenRefreshTotal.WithLabelValues(outcome).Inc()
}

func AddBatchRows(directory, status string, n int) {
	if n <= 0 {
		return
	}
	batchRowsTotal.WithLabelValues(directory, status).Add(float64(n))
}

func IncBatchFile(directory, outcome string) {
	batchFilesTotal.WithLabelValues(directory, outcome).Inc()
}

// Обёртка для измерения RPS/latency/в полёте.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// CanonicalPath keeps label cardinality bounded: query strings are dropped and
// numeric segments collapse to :id.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	p = strings.TrimRight(p, "/")
	if p == "" {
		return "/"
	}
	parts := strings.Split(p, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if _, err := strconv.ParseInt(part, 10, 64); err == nil {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

// statusWriter: локальная копия, чтобы знать код ответа.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

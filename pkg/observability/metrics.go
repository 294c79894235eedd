package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Auth flow metrics
	LoginInitiatedTotal   prometheus.Counter
	LoginCompletedTotal   *prometheus.CounterVec
	TokenExchangeDuration prometheus.Histogram

	// Provisioning metrics
	AccountsProvisionedTotal prometheus.Counter
	TenantsCreatedTotal      prometheus.Counter
	UsernameRetriesTotal     prometheus.Counter

	// Session metrics
	SessionOpsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signon_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signon_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		LoginInitiatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "signon_login_initiated_total",
				Help: "Total number of authorization requests issued",
			},
		),
		LoginCompletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signon_login_completed_total",
				Help: "Total number of completed callbacks by outcome",
			},
			[]string{"outcome"},
		),
		TokenExchangeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "signon_token_exchange_duration_seconds",
				Help:    "Authorization-code exchange duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		AccountsProvisionedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "signon_accounts_provisioned_total",
				Help: "Total number of accounts created from federated sign-ins",
			},
		),
		TenantsCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "signon_tenants_created_total",
				Help: "Total number of tenants recorded on first sight",
			},
		),
		UsernameRetriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "signon_username_retries_total",
				Help: "Total number of username derivation retries",
			},
		),
		SessionOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signon_session_ops_total",
				Help: "Total number of session store operations",
			},
			[]string{"op", "result"},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "signon_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "signon_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginInitiatedTotal,
		m.LoginCompletedTotal,
		m.TokenExchangeDuration,
		m.AccountsProvisionedTotal,
		m.TenantsCreatedTotal,
		m.UsernameRetriesTotal,
		m.SessionOpsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// ObserveLogin records a completed callback by outcome ("authenticated" or
// the rejection reason).
func (m *Metrics) ObserveLogin(outcome string) {
	if m == nil {
		return
	}
	m.LoginCompletedTotal.WithLabelValues(outcome).Inc()
}

// Handler returns the Prometheus scrape handler for a registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// MetricsMiddleware records request counts and latency per route
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

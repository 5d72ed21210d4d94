package core

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "linerelay"

// Result label values.
const (
	ResultSuccess      = "success"
	ResultNotFound     = "not_found"
	ResultExpired      = "expired"
	ResultAuthError    = "auth_error"
	ResultRelogin      = "relogin_required"
	ResultStorageError = "storage_error"
	ResultError        = "error"
)

// Metrics holds the Prometheus collectors of the login relay.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	loginStarted    prometheus.Counter
	loginCompleted  *prometheus.CounterVec
	collected       *prometheus.CounterVec
	refreshed       *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		loginStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "login_started_total",
			Help:      "Login attempts initiated.",
		}),
		loginCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "login_completed_total",
			Help:      "Provider callbacks processed, by result.",
		}, []string{"result"}),
		collected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "session_collected_total",
			Help:      "Session collection attempts, by result.",
		}, []string{"result"}),
		refreshed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "session_refresh_total",
			Help:      "Session refresh attempts, by result.",
		}, []string{"result"}),
		providerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Latency of identity provider token requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"grant"}),
	}
}

func (m *Metrics) LoginStarted() {
	if m == nil {
		return
	}
	m.loginStarted.Inc()
}

func (m *Metrics) LoginCompleted(err error) {
	if m == nil {
		return
	}
	m.loginCompleted.WithLabelValues(ResultLabel(err)).Inc()
}

func (m *Metrics) SessionCollected(err error) {
	if m == nil {
		return
	}
	m.collected.WithLabelValues(ResultLabel(err)).Inc()
}

func (m *Metrics) SessionRefreshed(err error) {
	if m == nil {
		return
	}
	m.refreshed.WithLabelValues(ResultLabel(err)).Inc()
}

// ObserveProvider records the duration of a provider call started at start.
func (m *Metrics) ObserveProvider(grant string, start time.Time) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(grant).Observe(time.Since(start).Seconds())
}

// ResultLabel maps an operation error to a bounded label value.
func ResultLabel(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, ErrNotFound):
		return ResultNotFound
	case errors.Is(err, ErrExpired):
		return ResultExpired
	case errors.Is(err, ErrRefreshRejected):
		return ResultRelogin
	case errors.Is(err, ErrAuth):
		return ResultAuthError
	case errors.Is(err, ErrStorage):
		return ResultStorageError
	default:
		return ResultError
	}
}

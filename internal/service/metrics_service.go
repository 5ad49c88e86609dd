package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric label values.
const (
	LoginResultSuccess  = "success"
	LoginResultFailure  = "failure"
	LoginResultLocked   = "locked"
	LoginResultDisabled = "disabled"

	LockoutTemporary = "temporary"
	LockoutPermanent = "permanent"

	RotationSuccess   = "success"
	RotationInvalid   = "invalid"
	RotationContended = "contended"
	RotationReuse     = "reuse"
)

// MetricsService encapsulates Prometheus instrumentation. A nil receiver is a no-op.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	loginAttempts   *prometheus.CounterVec
	lockouts        *prometheus.CounterVec
	rotations       *prometheus.CounterVec
	invalidations   *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	loginAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "login_attempts_total",
		Help: "Login attempts by outcome",
	}, []string{"result"})

	lockouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "login_lockouts_total",
		Help: "Accounts locked by the login guard",
	}, []string{"kind"})

	rotations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "token_rotations_total",
		Help: "Refresh token rotations by outcome",
	}, []string{"result"})

	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_invalidations_total",
		Help: "Sessions invalidated by reason",
	}, []string{"reason"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, loginAttempts, lockouts, rotations, invalidations, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:        registry,
		handler:         handler,
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		loginAttempts:   loginAttempts,
		lockouts:        lockouts,
		rotations:       rotations,
		invalidations:   invalidations,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

func (m *MetricsService) RecordLoginAttempt(result string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(result).Inc()
}

func (m *MetricsService) RecordLockout(kind string) {
	if m == nil {
		return
	}
	m.lockouts.WithLabelValues(kind).Inc()
}

func (m *MetricsService) RecordRotation(result string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(result).Inc()
}

func (m *MetricsService) RecordInvalidation(reason string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(reason).Inc()
}

// RegisterWaiterGauge exposes the number of parked long-poll waiters.
func (m *MetricsService) RegisterWaiterGauge(count func() int64) {
	if m == nil || count == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "session_waiters",
		Help: "Long-poll waiters currently parked",
	}, func() float64 {
		return float64(count())
	}))
}

// Package metrics exposes Prometheus collectors for the benefit engine.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/benefit-engine/benefit"
)

type BenefitMetrics struct {
	calculations *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	denials      *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var (
	benefitOnce     sync.Once
	benefitRegistry *BenefitMetrics
)

// Benefits returns the process-wide collectors, registered with the default
// Prometheus registry on first use.
func Benefits() *BenefitMetrics {
	benefitOnce.Do(func() {
		benefitRegistry = newBenefitMetrics()
		prometheus.MustRegister(
			benefitRegistry.calculations,
			benefitRegistry.transitions,
			benefitRegistry.denials,
			benefitRegistry.httpRequests,
			benefitRegistry.httpDuration,
		)
	})
	return benefitRegistry
}

func newBenefitMetrics() *BenefitMetrics {
	return &BenefitMetrics{
		calculations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "benefit_calculations_total",
			Help: "Count of benefit calculations by rule kind and outcome.",
		}, []string{"kind", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "benefit_request_transitions_total",
			Help: "Count of committed request status transitions.",
		}, []string{"from", "to"}),
		denials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "benefit_periodicity_denials_total",
			Help: "Count of requests blocked by the recurrence interval, by program.",
		}, []string{"program"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "benefit_http_requests_total",
			Help: "Total HTTP requests by route, method and status code.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "benefit_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}
}

func (m *BenefitMetrics) ObserveCalculation(kind benefit.RuleKind, outcome string) {
	if m == nil {
		return
	}
	label := string(kind)
	if label == "" {
		label = "none"
	}
	m.calculations.WithLabelValues(label, outcome).Inc()
}

func (m *BenefitMetrics) ObserveTransition(from, to benefit.Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *BenefitMetrics) ObserveDenial(programID benefit.ProgramID) {
	if m == nil {
		return
	}
	label := string(programID)
	if label == "" {
		label = "unknown"
	}
	m.denials.WithLabelValues(label).Inc()
}

func (m *BenefitMetrics) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

var _ benefit.Observer = (*BenefitMetrics)(nil)

// Package metrics holds the prometheus collectors shared by the guest
// authentication packages. They live in their own package so the identity,
// correlation and server packages can record without importing each other.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ProviderErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guest_auth_provider_errors_total",
		Help: "Identity provider failures by operation and classified kind",
	}, []string{"operation", "kind"})

	AutoProvisioned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "guest_auth_identities_provisioned_total",
		Help: "Identities created implicitly during a code request",
	})

	StepTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guest_auth_step_transitions_total",
		Help: "Verification state machine transitions",
	}, []string{"from", "to"})

	ProfileSyncFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "guest_auth_profile_sync_fallbacks_total",
		Help: "Verifications completed with the provider subject because profile sync failed",
	})

	CorrelationCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guest_auth_correlations_created_total",
		Help: "Correlation records created, or reused by the duplicate window",
	}, []string{"result"}) // result: created|reused

	CorrelationCompletions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guest_auth_correlation_completions_total",
		Help: "Correlation completion attempts by outcome",
	}, []string{"outcome"})

	CorrelationSwept = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "guest_auth_correlations_swept_total",
		Help: "Expired correlation records removed by the background sweep",
	})

	CallbackDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guest_auth_callback_duration_seconds",
		Help:    "Latency of the authorization callback handler",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 1.5, 2, 3, 5},
	}, []string{"result"})

	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guest_auth_rate_limited_total",
		Help: "Requests rejected by the local rate limiter",
	}, []string{"scope"})

	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "guest_auth_http_requests_total",
		Help: "HTTP requests by route pattern and status code",
	}, []string{"route", "code"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "guest_auth_http_request_duration_seconds",
		Help:    "HTTP request latency by route pattern",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	ActiveMachines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "guest_auth_active_machines",
		Help: "Verification state machines held for open browser tabs",
	})
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		ProviderErrors,
		AutoProvisioned,
		StepTransitions,
		ProfileSyncFallbacks,
		CorrelationCreated,
		CorrelationCompletions,
		CorrelationSwept,
		CallbackDuration,
		RateLimited,
		HTTPRequests,
		HTTPDuration,
		ActiveMachines,
	}
}

// Register registers the guest auth collectors on reg (or the default registerer if nil).
// Collectors that are already registered are ignored.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pasarela_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pasarela_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "route"},
	)

	RoutingDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pasarela_routing_decisions_total",
			Help: "Routing decisions by chosen provider and reason code",
		},
		[]string{"provider", "reason"},
	)

	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pasarela_intent_transitions_total",
			Help: "Applied payment intent transitions",
		},
		[]string{"event", "to"},
	)

	IdempotencyReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pasarela_idempotency_replays_total",
			Help: "Creations answered from the idempotency cache",
		},
	)

	ProviderSessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pasarela_provider_sessions_total",
			Help: "Provider session attempts by outcome",
		},
		[]string{"provider", "outcome"},
	)

	ProbeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "pasarela_provider_probe_seconds",
			Help: "Provider liveness probe latency in seconds",
		},
		[]string{"provider", "healthy"},
	)

	CallbacksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pasarela_callbacks_processed_total",
			Help: "Provider callbacks consumed by the worker pool",
		},
		[]string{"provider", "result"},
	)
)

func ObserveRequest(method, route string, status int, elapsed time.Duration) {
	RequestCount.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func ObserveProbe(provider string, healthy bool, elapsed time.Duration) {
	ProbeLatency.WithLabelValues(provider, strconv.FormatBool(healthy)).Observe(elapsed.Seconds())
}

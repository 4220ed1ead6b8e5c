package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "phonehub"

var (
	// HTTP requests by route template and status code.
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status code.",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method", "route"})

	// Outbound calls to dependencies (generation providers, telephony, summary hooks).
	serviceCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "service_calls_total",
		Help:      "Calls to external services by outcome.",
	}, []string{"service", "outcome"})

	serviceLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "service_call_duration_seconds",
		Help:      "External service latency.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 6, 8, 12},
	}, []string{"service"})

	breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state per service (0 closed, 1 open, 2 half-open).",
	}, []string{"service"})

	dialogTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dialog_turns_total",
		Help:      "Rendered dialog documents by persona and outcome.",
	}, []string{"persona", "outcome"})

	generationFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dialog_generation_fallbacks_total",
		Help:      "Turns answered with the fixed fallback line, by failure kind.",
	}, []string{"kind"})

	contextTruncations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "call_context_truncations_total",
		Help:      "Context tokens that had to drop data to fit the URL budget.",
	})

	contextDecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "call_context_decode_failures_total",
		Help:      "Context tokens that could not be decoded and were replaced by the default.",
	})

	outboundCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "outbound_calls_total",
		Help:      "Outbound call placement attempts by result.",
	}, []string{"result"})
)

// RecordRequest records a served HTTP request
func RecordRequest(method, route string, status int, latency time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpLatency.WithLabelValues(method, route).Observe(latency.Seconds())
}

// RecordServiceCall records a call to an external service
func RecordServiceCall(service string, success bool, latency time.Duration) {
	outcome := "success"
	if !success {
		outcome = "error"
	}
	serviceCalls.WithLabelValues(service, outcome).Inc()
	serviceLatency.WithLabelValues(service).Observe(latency.Seconds())
}

// UpdateCircuitBreaker records the current breaker state of a service
func UpdateCircuitBreaker(service string, state int) {
	breakerState.WithLabelValues(service).Set(float64(state))
}

// RecordTurn counts a rendered dialog document
func RecordTurn(persona, outcome string) {
	dialogTurns.WithLabelValues(persona, outcome).Inc()
}

// RecordGenerationFallback counts a turn that used the fallback line
func RecordGenerationFallback(kind string) {
	generationFallbacks.WithLabelValues(kind).Inc()
}

func RecordContextTruncation() {
	contextTruncations.Inc()
}

func RecordContextDecodeFailure() {
	contextDecodeFailures.Inc()
}

func RecordOutboundCall(result string) {
	outboundCalls.WithLabelValues(result).Inc()
}

// Package metrics holds the Prometheus collectors shared by the request path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rephrase"

var (
	// Requests counts finished rewrite requests.
	// Labels: status (ok, quota_exceeded, upstream_unavailable, invalid, error)
	Requests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Total rewrite requests by outcome",
	}, []string{"status"})

	// CacheLookups counts response cache lookups.
	// Labels: tier (memory, store), result (hit, miss, error)
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Response cache lookups by tier and result",
	}, []string{"tier", "result"})

	// GenerationAttempts counts calls to generation models.
	// Labels: model, result (ok, error, rejected)
	GenerationAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "attempts_total",
		Help:      "Generation attempts by model and result",
	}, []string{"model", "result"})

	// GenerationLatency measures successful generation calls.
	// Labels: model
	GenerationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "latency_seconds",
		Help:      "Latency of successful generation calls in seconds",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
	}, []string{"model"})

	// BreakerState reports circuit state (0 closed, 1 half-open, 2 open).
	// Labels: name
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gateway",
		Name:      "breaker_state",
		Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open",
	}, []string{"name"})

	// TokenVerifications counts bearer token resolutions.
	// Labels: path (cache, local, remote), result (ok, rejected, error)
	TokenVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "verifications_total",
		Help:      "Token verifications by path and result",
	}, []string{"path", "result"})

	// PIIMasked counts masked values by category.
	// Labels: category
	PIIMasked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pii",
		Name:      "masked_total",
		Help:      "Masked personal data values by category",
	}, []string{"category"})
)

package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService aggregates Prometheus collectors for the HTTP layer and the
// scheduling engine.
type MetricsService struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	slotComputations prometheus.Counter
	slotsOffered     prometheus.Counter
	collisions       prometheus.Counter
	penalties        prometheus.Counter
	cacheOps         *prometheus.CounterVec
}

// NewMetricsService constructs and registers all collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	s := &MetricsService{
		registry: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Count of HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency distribution.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		slotComputations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduling_slot_computations_total",
			Help: "Count of availability computations performed.",
		}),
		slotsOffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduling_slots_offered_total",
			Help: "Total bookable slots returned to callers.",
		}),
		collisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduling_collisions_detected_total",
			Help: "Count of booking collisions detected.",
		}),
		penalties: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scheduling_penalties_charged_total",
			Help: "Count of late-action credit penalties charged.",
		}),
		cacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Cache lookups by outcome.",
		}, []string{"outcome"}),
	}

	registry.MustRegister(s.httpRequests, s.httpDuration, s.slotComputations, s.slotsOffered, s.collisions, s.penalties, s.cacheOps)
	return s
}

// Handler exposes the registry for the /metrics endpoint.
func (s *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one served request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if s == nil {
		return
	}
	s.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	s.httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSlotComputation records one availability computation and its yield.
func (s *MetricsService) RecordSlotComputation(offered int) {
	if s == nil {
		return
	}
	s.slotComputations.Inc()
	s.slotsOffered.Add(float64(offered))
}

// RecordCollision counts a detected booking collision.
func (s *MetricsService) RecordCollision() {
	if s == nil {
		return
	}
	s.collisions.Inc()
}

// RecordPenalty counts a charged late-action penalty.
func (s *MetricsService) RecordPenalty() {
	if s == nil {
		return
	}
	s.penalties.Inc()
}

// RecordCacheOperation counts a cache lookup outcome.
func (s *MetricsService) RecordCacheOperation(hit bool) {
	if s == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	s.cacheOps.WithLabelValues(outcome).Inc()
}

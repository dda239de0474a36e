// Package metrics provides Prometheus metrics for the dashboard service.
//
// All recording methods are safe to call on a nil *Manager, so components can
// take an optional manager without guarding every call.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Feed fetch results.
const (
	ResultOK         = "ok"
	ResultFetchError = "fetch_error"
	ResultParseError = "parse_error"
)

// Manager owns a registry and the service metrics registered on it.
type Manager struct {
	namespace        string
	histogramBuckets []float64
	registry         *prometheus.Registry
	goCollectors     bool

	feedFetches        *prometheus.CounterVec
	feedFetchDuration  prometheus.Histogram
	skippedOccurrences *prometheus.CounterVec
	eventsReturned     *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
	mqttPublishes      *prometheus.CounterVec
}

// Option applies a configuration option to the Manager.
type Option func(*Manager)

// WithNamespace sets the namespace for all metrics.
func WithNamespace(namespace string) Option {
	return func(m *Manager) {
		if namespace != "" {
			m.namespace = namespace
		}
	}
}

// WithHistogramBuckets sets custom histogram buckets for latency metrics.
func WithHistogramBuckets(buckets []float64) Option {
	return func(m *Manager) {
		if len(buckets) > 0 {
			m.histogramBuckets = buckets
		}
	}
}

// WithRegistry sets the registry metrics are registered on and served from.
func WithRegistry(registry *prometheus.Registry) Option {
	return func(m *Manager) {
		if registry != nil {
			m.registry = registry
		}
	}
}

// WithRuntimeCollectors adds the Go runtime and process collectors.
func WithRuntimeCollectors() Option {
	return func(m *Manager) {
		m.goCollectors = true
	}
}

// NewManager creates a metrics manager with its own registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "homedash",
		histogramBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	if m.goCollectors {
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m.feedFetches = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "calendar",
		Name:      "feed_fetches_total",
		Help:      "Calendar feed fetches by result",
	}, []string{"result"})

	m.feedFetchDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "calendar",
		Name:      "feed_fetch_duration_seconds",
		Help:      "Time to fetch one calendar feed",
		Buckets:   m.histogramBuckets,
	})

	m.skippedOccurrences = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "calendar",
		Name:      "skipped_occurrences_total",
		Help:      "Events or occurrences dropped from otherwise valid feeds",
	}, []string{"reason"})

	m.eventsReturned = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "calendar",
		Name:      "events_returned_total",
		Help:      "Events returned by aggregation, by view",
	}, []string{"view"})

	m.httpRequests = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})

	m.httpDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route",
		Buckets:   m.histogramBuckets,
	}, []string{"route"})

	m.mqttPublishes = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: "mqtt",
		Name:      "publishes_total",
		Help:      "MQTT command publishes by topic and result",
	}, []string{"topic", "result"})
}

// Registry returns the registry backing this manager.
func (m *Manager) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordFeedFetch records one feed fetch with its result and duration.
func (m *Manager) RecordFeedFetch(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.feedFetches.WithLabelValues(result).Inc()
	m.feedFetchDuration.Observe(d.Seconds())
}

// RecordSkipped counts one dropped event or occurrence.
func (m *Manager) RecordSkipped(reason string) {
	if m == nil {
		return
	}
	m.skippedOccurrences.WithLabelValues(reason).Inc()
}

// RecordEventsReturned adds n returned events for a view ("all", "plan", "debug").
func (m *Manager) RecordEventsReturned(view string, n int) {
	if m == nil {
		return
	}
	m.eventsReturned.WithLabelValues(view).Add(float64(n))
}

// RecordHTTPRequest records one handled HTTP request.
func (m *Manager) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

// RecordMQTTPublish records one publish attempt.
func (m *Manager) RecordMQTTPublish(topic string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = "error"
	}
	m.mqttPublishes.WithLabelValues(topic, result).Inc()
}

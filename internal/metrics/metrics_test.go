package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilManagerIsNoop(t *testing.T) {
	var m *Manager
	assert.NotPanics(t, func() {
		m.RecordFeedFetch(ResultOK, time.Second)
		m.RecordSkipped("missing_start")
		m.RecordEventsReturned("all", 3)
		m.RecordHTTPRequest(http.MethodGet, "/health", http.StatusOK, time.Millisecond)
		m.RecordMQTTPublish("pi/display/command", nil)
	})
	assert.Nil(t, m.Registry())
}

func TestRecorders(t *testing.T) {
	m := NewManager(WithRegistry(prometheus.NewRegistry()))

	m.RecordFeedFetch(ResultOK, 120*time.Millisecond)
	m.RecordFeedFetch(ResultFetchError, time.Second)
	m.RecordFeedFetch(ResultOK, 80*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.feedFetches.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.feedFetches.WithLabelValues(ResultFetchError)))

	m.RecordEventsReturned("plan", 4)
	m.RecordEventsReturned("plan", 2)
	assert.Equal(t, 6.0, testutil.ToFloat64(m.eventsReturned.WithLabelValues("plan")))

	m.RecordMQTTPublish("pi/browser/command/refresh", nil)
	m.RecordMQTTPublish("pi/browser/command/refresh", errors.New("timeout"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mqttPublishes.WithLabelValues("pi/browser/command/refresh", "error")))

	m.RecordHTTPRequest(http.MethodGet, "/mode", http.StatusOK, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues(http.MethodGet, "/mode", "200")))
}

func TestNamespaceAndHandler(t *testing.T) {
	m := NewManager(WithNamespace("board"))
	m.RecordSkipped("invalid_zone")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `board_calendar_skipped_occurrences_total{reason="invalid_zone"} 1`)
}

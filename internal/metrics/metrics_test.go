package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveCycle("X", "ok", 2*time.Second)
	m.AddRows("X", "inserted", 3)
	m.AddRows("X", "failed", 0)
	m.IncNotification("push", nil)
	m.IncNotification("push", errors.New("timeout"))
	m.AddBackgroundClosed("X", 2)
	m.IncQueueDrop()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScrapesTotal.WithLabelValues("X", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsWritten.WithLabelValues("X", "inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("push", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.BackgroundClosed.WithLabelValues("X")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReleaseQueueDrop))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCycle("X", "ok", time.Second)
		m.SetRosterSize("X", 4)
		m.AddRows("X", "inserted", 1)
		m.IncMatchEvent("arrested")
		m.IncNotification("mqtt", nil)
		m.AddBackgroundClosed("X", 1)
		m.IncQueueDrop()
	})
}

func TestServer_ExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.IncMatchEvent("arrested")

	srv := NewServer(":0", reg, zap.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `roster_match_events_total{type="arrested"} 1`))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

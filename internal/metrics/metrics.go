package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics Prometheus instruments of the roster pipeline. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ScrapesTotal     *prometheus.CounterVec
	ScrapeDuration   *prometheus.HistogramVec
	RosterSize       *prometheus.GaugeVec
	RowsWritten      *prometheus.CounterVec
	MatchEvents      *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
	BackgroundClosed *prometheus.CounterVec
	ReleaseQueueDrop prometheus.Counter
}

// New registers the instruments on reg
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ScrapesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_scrapes_total",
			Help: "Jail scrape cycles by outcome",
		}, []string{"jail_id", "outcome"}),

		ScrapeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "roster_cycle_duration_seconds",
			Help:    "Duration of one jail's scrape-and-reconcile cycle",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"jail_id"}),

		RosterSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "roster_snapshot_size",
			Help: "Inmates in the latest normalized snapshot",
		}, []string{"jail_id"}),

		RowsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_rows_written_total",
			Help: "Inmate rows written by the batch persistence layer",
		}, []string{"jail_id", "op"}),

		MatchEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_match_events_total",
			Help: "Watch-list events by type",
		}, []string{"type"}),

		Notifications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_notifications_total",
			Help: "Notification deliveries by method and outcome",
		}, []string{"method", "outcome"}),

		BackgroundClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "roster_background_releases_total",
			Help: "Episodes closed by the background release pass",
		}, []string{"jail_id"}),

		ReleaseQueueDrop: factory.NewCounter(prometheus.CounterOpts{
			Name: "roster_release_queue_dropped_total",
			Help: "Background release jobs dropped because the queue was full",
		}),
	}
}

// ObserveCycle records one jail cycle
func (m *Metrics) ObserveCycle(jailID, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ScrapesTotal.WithLabelValues(jailID, outcome).Inc()
	m.ScrapeDuration.WithLabelValues(jailID).Observe(d.Seconds())
}

// SetRosterSize records the snapshot size of a jail
func (m *Metrics) SetRosterSize(jailID string, n int) {
	if m == nil {
		return
	}
	m.RosterSize.WithLabelValues(jailID).Set(float64(n))
}

// AddRows counts written rows for op (inserted, updated, closed, failed)
func (m *Metrics) AddRows(jailID, op string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RowsWritten.WithLabelValues(jailID, op).Add(float64(n))
}

// IncMatchEvent counts one watch-list event
func (m *Metrics) IncMatchEvent(eventType string) {
	if m == nil {
		return
	}
	m.MatchEvents.WithLabelValues(eventType).Inc()
}

// IncNotification counts one delivery attempt
func (m *Metrics) IncNotification(method string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.Notifications.WithLabelValues(method, outcome).Inc()
}

// AddBackgroundClosed counts episodes closed by the background pass
func (m *Metrics) AddBackgroundClosed(jailID string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.BackgroundClosed.WithLabelValues(jailID).Add(float64(n))
}

// IncQueueDrop counts one dropped background job
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	m.ReleaseQueueDrop.Inc()
}

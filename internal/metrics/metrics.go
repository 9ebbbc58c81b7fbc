package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every rostersync collector.
const Namespace = "rostersync"

// Metrics holds the collectors updated by the session manager.
type Metrics struct {
	SessionsStarted  prometheus.Counter
	SessionsFinished *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	CourseScrapes    *prometheus.CounterVec
	ScrapeDuration   prometheus.Histogram
	Notifications    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "sessions",
			Name:      "started_total",
			Help:      "Sessions created by a start request.",
		}),
		SessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "sessions",
			Name:      "finished_total",
			Help:      "Sessions torn down, by outcome.",
		}, []string{"outcome"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Sessions currently holding a browser.",
		}),
		CourseScrapes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "scrape",
			Name:      "courses_total",
			Help:      "Per-course roster scrapes, by result.",
		}, []string{"result"}),
		ScrapeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "scrape",
			Name:      "duration_seconds",
			Help:      "Time spent in the scrape pipeline of one session.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "notify",
			Name:      "requests_total",
			Help:      "Room provisioning notifications, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.SessionsStarted,
		m.SessionsFinished,
		m.ActiveSessions,
		m.CourseScrapes,
		m.ScrapeDuration,
		m.Notifications,
	)
	return m
}

// Since observes the seconds elapsed from start on h.
func Since(h prometheus.Observer, start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

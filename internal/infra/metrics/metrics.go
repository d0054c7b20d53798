// Package metrics provides the Prometheus collectors for the playback engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine collectors.
type Metrics struct {
	registry *prometheus.Registry

	PlaybacksTotal   *prometheus.CounterVec
	SkipsTotal       *prometheus.CounterVec
	BlacklistedTotal prometheus.Counter
	ResolvesTotal    *prometheus.CounterVec
	ResolveDuration  *prometheus.HistogramVec
	PersistTotal     *prometheus.CounterVec
	ConnectsTotal    *prometheus.CounterVec
	KeepalivesTotal  *prometheus.CounterVec
	BackTotal        *prometheus.CounterVec
	ActiveTenants    prometheus.Gauge
	Subscribers      prometheus.Gauge
}

// New creates the collectors and registers them on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PlaybacksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunebox_playbacks_total",
				Help: "Total number of playbacks by outcome",
			},
			[]string{"result"},
		),
		SkipsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunebox_skips_total",
				Help: "Total number of items skipped without playing",
			},
			[]string{"reason"},
		),
		BlacklistedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tunebox_blacklisted_total",
				Help: "Total number of refs added to a blacklist",
			},
		),
		ResolvesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunebox_resolves_total",
				Help: "Total number of resolver calls",
			},
			[]string{"strategy", "result"},
		),
		ResolveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tunebox_resolve_duration_seconds",
				Help:    "Time spent resolving refs",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"strategy"},
		),
		PersistTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunebox_persist_total",
				Help: "Total number of snapshot writes and reads",
			},
			[]string{"op", "result"},
		),
		ConnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunebox_voice_connects_total",
				Help: "Total number of voice connection attempts",
			},
			[]string{"kind", "result"},
		),
		KeepalivesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunebox_keepalives_total",
				Help: "Total number of keepalive ticks",
			},
			[]string{"result"},
		),
		BackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tunebox_back_total",
				Help: "Total number of back navigations",
			},
			[]string{"result"},
		),
		ActiveTenants: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tunebox_active_tenants",
				Help: "Number of tenants with a voice connection",
			},
		),
		Subscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tunebox_notification_subscribers",
				Help: "Number of notification stream subscribers",
			},
		),
	}

	m.registry.MustRegister(
		m.PlaybacksTotal,
		m.SkipsTotal,
		m.BlacklistedTotal,
		m.ResolvesTotal,
		m.ResolveDuration,
		m.PersistTotal,
		m.ConnectsTotal,
		m.KeepalivesTotal,
		m.BackTotal,
		m.ActiveTenants,
		m.Subscribers,
	)
	return m
}

// Handler returns the HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Playback(result string) {
	if m == nil {
		return
	}
	m.PlaybacksTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Skip(reason string) {
	if m == nil {
		return
	}
	m.SkipsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) Blacklisted() {
	if m == nil {
		return
	}
	m.BlacklistedTotal.Inc()
}

func (m *Metrics) Resolve(strategy, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ResolvesTotal.WithLabelValues(strategy, result).Inc()
	m.ResolveDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

func (m *Metrics) Persist(op string, ok bool) {
	if m == nil {
		return
	}
	m.PersistTotal.WithLabelValues(op, okLabel(ok)).Inc()
}

func (m *Metrics) Connect(kind string, ok bool) {
	if m == nil {
		return
	}
	m.ConnectsTotal.WithLabelValues(kind, okLabel(ok)).Inc()
}

func (m *Metrics) Keepalive(result string) {
	if m == nil {
		return
	}
	m.KeepalivesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) Back(ok bool) {
	if m == nil {
		return
	}
	m.BackTotal.WithLabelValues(okLabel(ok)).Inc()
}

func (m *Metrics) SetActiveTenants(n int) {
	if m == nil {
		return
	}
	m.ActiveTenants.Set(float64(n))
}

func (m *Metrics) SetSubscribers(n int) {
	if m == nil {
		return
	}
	m.Subscribers.Set(float64(n))
}

func okLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// KeeperMetrics tracks the maintenance loop.
type KeeperMetrics struct {
	ticks        *prometheus.CounterVec
	tickDuration prometheus.Histogram
	expired      *prometheus.CounterVec
	upsideUSD    prometheus.Gauge
	lastSuccess  prometheus.Gauge
}

var (
	keeperOnce     sync.Once
	keeperRegistry *KeeperMetrics
)

// Keeper returns the process-wide keeper metrics.
func Keeper() *KeeperMetrics {
	keeperOnce.Do(func() {
		keeperRegistry = NewKeeperMetrics()
		keeperRegistry.MustRegister(prometheus.DefaultRegisterer)
	})
	return keeperRegistry
}

// NewKeeperMetrics builds unregistered keeper collectors.
func NewKeeperMetrics() *KeeperMetrics {
	return &KeeperMetrics{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "securepay",
			Subsystem: "keeper",
			Name:      "ticks_total",
			Help:      "Keeper ticks by outcome.",
		}, []string{"outcome"}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "securepay",
			Subsystem: "keeper",
			Name:      "tick_duration_seconds",
			Help:      "Duration of keeper ticks.",
			Buckets:   prometheus.DefBuckets,
		}),
		expired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "securepay",
			Subsystem: "keeper",
			Name:      "expire_results_total",
			Help:      "ForceExpireBatch results submitted by the keeper, by status.",
		}, []string{"status"}),
		upsideUSD: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "securepay",
			Subsystem: "keeper",
			Name:      "treasury_upside_usd",
			Help:      "Treasury USD value observed by the last upside check.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "securepay",
			Subsystem: "keeper",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last tick that finished without error.",
		}),
	}
}

// MustRegister registers every collector with reg.
func (m *KeeperMetrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.ticks, m.tickDuration, m.expired, m.upsideUSD, m.lastSuccess)
}

// ObserveTick records a finished tick.
func (m *KeeperMetrics) ObserveTick(err error, started time.Time, finished time.Time) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(finished.Sub(started).Seconds())
	if err != nil {
		m.ticks.WithLabelValues("error").Inc()
		return
	}
	m.ticks.WithLabelValues("ok").Inc()
	m.lastSuccess.Set(float64(finished.Unix()))
}

// ObserveExpireResult counts one ForceExpireBatch result status.
func (m *KeeperMetrics) ObserveExpireResult(status string) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.expired.WithLabelValues(status).Inc()
}

// SetUpsideUSD records the USD value (in whole dollars) of the last check.
func (m *KeeperMetrics) SetUpsideUSD(dollars float64) {
	if m == nil {
		return
	}
	m.upsideUSD.Set(dollars)
}

// Package telemetry exposes release metrics and per-stage trace spans.
package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the release counters on a private registry so that a run can
// export them to a node_exporter textfile without a long-lived endpoint.
// A nil *Metrics ignores every observation.
type Metrics struct {
	reg *prometheus.Registry

	releases        *prometheus.CounterVec
	rollbacks       *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	autofix         *prometheus.CounterVec
	publishAttempts prometheus.Histogram
}

func NewMetrics() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "releasekit_releases_total",
			Help: "Release runs by outcome",
		}, []string{"outcome"}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "releasekit_rollbacks_total",
			Help: "Rollbacks by quality",
		}, []string{"quality"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "releasekit_stage_duration_seconds",
			Help:    "Duration of each pipeline stage",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
		}, []string{"stage"}),
		autofix: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "releasekit_autofix_total",
			Help: "Auto-fix attempts by method and result",
		}, []string{"method", "applied"}),
		publishAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "releasekit_publish_poll_attempts",
			Help:    "Registry polls needed to confirm a publish",
			Buckets: prometheus.LinearBuckets(1, 2, 10),
		}),
	}
	m.reg.MustRegister(m.releases, m.rollbacks, m.stageDuration, m.autofix, m.publishAttempts)
	return m
}

func (m *Metrics) Release(outcome string) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Rollback(quality string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(quality).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) AutoFix(method string, applied bool) {
	if m == nil {
		return
	}
	m.autofix.WithLabelValues(method, fmt.Sprint(applied)).Inc()
}

func (m *Metrics) PublishAttempts(n int) {
	if m == nil {
		return
	}
	m.publishAttempts.Observe(float64(n))
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// WriteTextfile writes all metrics in the text exposition format, atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return fmt.Errorf("telemetry: write metrics: %w", err)
	}
	return nil
}

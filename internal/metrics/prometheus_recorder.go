package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	buildOutcome    *prom.CounterVec
	buildDuration   prom.Histogram
	rebuildTriggers prom.Counter
	spawnFailures   prom.Counter
	queueDepth      prom.Gauge
	runningBuilds   prom.Gauge
	watchedProfiles prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "autobuild",
			Name:      "builds_total",
			Help:      "Settled builds by final status",
		}, []string{"outcome"})
		pr.buildDuration = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "autobuild",
			Name:      "build_duration_seconds",
			Help:      "Wall-clock duration of settled builds",
			Buckets:   prom.ExponentialBuckets(0.1, 2, 14),
		})
		pr.rebuildTriggers = prom.NewCounter(prom.CounterOpts{
			Namespace: "autobuild",
			Name:      "rebuild_triggers_total",
			Help:      "Debounced file-change triggers delivered to the engine",
		})
		pr.spawnFailures = prom.NewCounter(prom.CounterOpts{
			Namespace: "autobuild",
			Name:      "spawn_failures_total",
			Help:      "Builds that failed before producing a process",
		})
		pr.queueDepth = prom.NewGauge(prom.GaugeOpts{
			Namespace: "autobuild",
			Name:      "queue_depth",
			Help:      "Profiles waiting in the build queue",
		})
		pr.runningBuilds = prom.NewGauge(prom.GaugeOpts{
			Namespace: "autobuild",
			Name:      "running_builds",
			Help:      "Build processes currently tracked by the engine",
		})
		pr.watchedProfiles = prom.NewGauge(prom.GaugeOpts{
			Namespace: "autobuild",
			Name:      "watched_profiles",
			Help:      "Profiles with an active change detector",
		})
		reg.MustRegister(pr.buildOutcome, pr.buildDuration, pr.rebuildTriggers, pr.spawnFailures, pr.queueDepth, pr.runningBuilds, pr.watchedProfiles)
	})
	return pr
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) ObserveBuildDuration(d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncRebuildTrigger() {
	if p == nil || p.rebuildTriggers == nil {
		return
	}
	p.rebuildTriggers.Inc()
}

func (p *PrometheusRecorder) IncSpawnFailure() {
	if p == nil || p.spawnFailures == nil {
		return
	}
	p.spawnFailures.Inc()
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) SetRunningBuilds(n int) {
	if p == nil || p.runningBuilds == nil {
		return
	}
	p.runningBuilds.Set(float64(n))
}

func (p *PrometheusRecorder) SetWatchedProfiles(n int) {
	if p == nil || p.watchedProfiles == nil {
		return
	}
	p.watchedProfiles.Set(float64(n))
}

// Package metrics exposes Prometheus collectors for sync runs.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/JakeFAU/zeit-on-tolino/internal/epaper"
)

// DefaultJob is the pushgateway job name used when none is configured.
const DefaultJob = "epaper_sync"

// Recorder owns a private registry with the sync collectors. It implements
// epaper.Recorder.
type Recorder struct {
	registry *prometheus.Registry

	runsTotal       *prometheus.CounterVec
	stageDuration   *prometheus.HistogramVec
	stageErrors     *prometheus.CounterVec
	downloadedBytes prometheus.Counter
	lastSuccess     prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epaper_sync_runs_total",
				Help: "Total number of sync runs, labeled by terminal status.",
			},
			[]string{"status"},
		),
		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "epaper_sync_stage_duration_seconds",
				Help:    "Histogram of pipeline stage durations, labeled by stage.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"stage"},
		),
		stageErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "epaper_sync_stage_errors_total",
				Help: "Total number of failed pipeline stages, labeled by stage.",
			},
			[]string{"stage"},
		),
		downloadedBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "epaper_sync_downloaded_bytes_total",
				Help: "Total size of downloaded EPUB files.",
			},
		),
		lastSuccess: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "epaper_sync_last_success_timestamp_seconds",
				Help: "Unix time of the last run that ended with the issue on the shelf.",
			},
		),
	}
}

// Registry returns the registry the collectors live in.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveStage records how long a stage took and whether it failed.
func (r *Recorder) ObserveStage(stage string, d time.Duration, err error) {
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	if err != nil {
		r.stageErrors.WithLabelValues(stage).Inc()
	}
}

// ObserveRun counts a finished run; successful runs move the last-success gauge.
func (r *Recorder) ObserveRun(status epaper.RunStatus, finishedAt time.Time) {
	r.runsTotal.WithLabelValues(string(status)).Inc()
	if status == epaper.RunStatusUploaded || status == epaper.RunStatusAlreadyPresent {
		r.lastSuccess.Set(float64(finishedAt.Unix()))
	}
}

// ObserveDownload adds the size of a downloaded file.
func (r *Recorder) ObserveDownload(bytes int64) {
	if bytes > 0 {
		r.downloadedBytes.Add(float64(bytes))
	}
}

// Push sends the registry to a Prometheus pushgateway, replacing the job's
// previous metrics.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if job == "" {
		job = DefaultJob
	}
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}

var _ epaper.Recorder = (*Recorder)(nil)

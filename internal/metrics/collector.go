// Package metrics exposes pipeline execution and run inventory metrics
// in Prometheus format. The Collector is both a prometheus.Collector
// (run gauges read from the store at scrape time) and the
// pipeline.Metrics sink the orchestrator pushes step signals into.
package metrics

import (
	"context"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/policity/policity/internal/models"
	"github.com/policity/policity/internal/persistence"
	"github.com/policity/policity/internal/pipeline"
)

// scrapeTimeout bounds the store queries issued per scrape.
const scrapeTimeout = 5 * time.Second

// runWindow is how far back the runs-by-status gauges look.
const runWindow = 24 * time.Hour

var durationBuckets = []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// Collector implements prometheus.Collector and pipeline.Metrics.
type Collector struct {
	startTime time.Time
	version   string
	store     persistence.Store

	infoDesc       *prometheus.Desc
	uptimeDesc     *prometheus.Desc
	runsActiveDesc *prometheus.Desc
	runsDesc       *prometheus.Desc

	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	runDuration  prometheus.Histogram

	stepsExecuted *prometheus.CounterVec
	stepsSkipped  *prometheus.CounterVec
	stepsFailed   *prometheus.CounterVec
	stepsRetried  *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec
}

var (
	_ prometheus.Collector = (*Collector)(nil)
	_ pipeline.Metrics     = (*Collector)(nil)
)

// NewCollector creates a collector over the given store. The store may
// be nil; run inventory gauges are then omitted from scrapes.
func NewCollector(version string, store persistence.Store) *Collector {
	return &Collector{
		startTime: time.Now(),
		version:   version,
		store:     store,

		infoDesc: prometheus.NewDesc(
			"policity_info",
			"Policity build information",
			[]string{"version", "go_version"},
			nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"policity_uptime_seconds",
			"Time since server start",
			nil,
			nil,
		),
		runsActiveDesc: prometheus.NewDesc(
			"policity_runs_active",
			"Number of currently running report pipelines",
			nil,
			nil,
		),
		runsDesc: prometheus.NewDesc(
			"policity_runs",
			"Runs by status (last 24 hours)",
			[]string{"status"},
			nil,
		),

		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "policity_runs_started_total",
			Help: "Total run requests that entered execution",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "policity_runs_finished_total",
			Help: "Total runs finished by terminal status",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "policity_run_duration_seconds",
			Help:    "Wall-clock run duration",
			Buckets: durationBuckets,
		}),

		stepsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "policity_steps_executed_total",
			Help: "Step executions by step and acceptance",
		}, []string{"step", "accepted"}),
		stepsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "policity_steps_skipped_total",
			Help: "Steps served from persisted results",
		}, []string{"step"}),
		stepsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "policity_steps_failed_total",
			Help: "Steps that failed all attempts",
		}, []string{"step"}),
		stepsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "policity_steps_retried_total",
			Help: "Step attempt retries from failures or low confidence",
		}, []string{"step"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "policity_step_duration_seconds",
			Help:    "Step execution duration including retries",
			Buckets: durationBuckets,
		}, []string{"step"}),
	}
}

// RunStarted implements pipeline.Metrics.
func (c *Collector) RunStarted(_ string) {
	c.runsStarted.Inc()
}

// RunFinished implements pipeline.Metrics.
func (c *Collector) RunFinished(_ string, status string, duration time.Duration) {
	c.runsFinished.WithLabelValues(status).Inc()
	c.runDuration.Observe(duration.Seconds())
}

// StepExecuted implements pipeline.Metrics.
func (c *Collector) StepExecuted(stepName string, accepted bool, duration time.Duration) {
	c.stepsExecuted.WithLabelValues(stepName, strconv.FormatBool(accepted)).Inc()
	c.stepDuration.WithLabelValues(stepName).Observe(duration.Seconds())
}

// StepSkipped implements pipeline.Metrics.
func (c *Collector) StepSkipped(stepName string) {
	c.stepsSkipped.WithLabelValues(stepName).Inc()
}

// StepFailed implements pipeline.Metrics.
func (c *Collector) StepFailed(stepName string) {
	c.stepsFailed.WithLabelValues(stepName).Inc()
}

// StepRetried implements pipeline.Metrics.
func (c *Collector) StepRetried(stepName string) {
	c.stepsRetried.WithLabelValues(stepName).Inc()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.infoDesc
	ch <- c.uptimeDesc
	ch <- c.runsActiveDesc
	ch <- c.runsDesc

	c.runsStarted.Describe(ch)
	c.runsFinished.Describe(ch)
	c.runDuration.Describe(ch)
	c.stepsExecuted.Describe(ch)
	c.stepsSkipped.Describe(ch)
	c.stepsFailed.Describe(ch)
	c.stepsRetried.Describe(ch)
	c.stepDuration.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(
		c.infoDesc,
		prometheus.GaugeValue,
		1,
		c.version,
		runtime.Version(),
	)
	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc,
		prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)

	c.collectRunMetrics(ch)

	c.runsStarted.Collect(ch)
	c.runsFinished.Collect(ch)
	c.runDuration.Collect(ch)
	c.stepsExecuted.Collect(ch)
	c.stepsSkipped.Collect(ch)
	c.stepsFailed.Collect(ch)
	c.stepsRetried.Collect(ch)
	c.stepDuration.Collect(ch)
}

func (c *Collector) collectRunMetrics(ch chan<- prometheus.Metric) {
	if c.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	recs, err := c.store.ListRuns(ctx, persistence.WithFrom(time.Now().Add(-runWindow)))
	if err != nil {
		// A store error leaves the run gauges out of this scrape.
		return
	}

	statusCounts := make(map[string]float64)
	active := float64(0)
	for _, rec := range recs {
		if rec.Status == models.RunRunning {
			active++
		}
		statusCounts[rec.Status.String()]++
	}

	ch <- prometheus.MustNewConstMetric(
		c.runsActiveDesc,
		prometheus.GaugeValue,
		active,
	)
	for status, count := range statusCounts {
		ch <- prometheus.MustNewConstMetric(
			c.runsDesc,
			prometheus.GaugeValue,
			count,
			status,
		)
	}
}

// NewRegistry creates a Prometheus registry with the Policity collector
// plus Go runtime and process collectors.
func NewRegistry(collector *Collector) *prometheus.Registry {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collector)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return registry
}

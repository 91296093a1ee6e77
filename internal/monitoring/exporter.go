package monitoring

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sells-group/revops-cli/internal/model"
)

const namespace = "revops"

// Exporter is a prometheus.Collector that reads the run ledger on every scrape.
type Exporter struct {
	collector     *Collector
	lookbackHours int
	timeout       time.Duration

	runs          *prometheus.Desc
	failureRate   *prometheus.Desc
	lastSuccess   *prometheus.Desc
	lastDuration  *prometheus.Desc
	lastDeals     *prometheus.Desc
	lastSkipped   *prometheus.Desc
	lastAnomalies *prometheus.Desc
	scrapeError   *prometheus.Desc
}

// NewExporter creates an Exporter over c.
func NewExporter(c *Collector, lookbackHours int) *Exporter {
	return &Exporter{
		collector:     c,
		lookbackHours: lookbackHours,
		timeout:       5 * time.Second,
		runs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "runs", "window"),
			"Runs started within the lookback window, by status.",
			[]string{"status"}, nil,
		),
		failureRate: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "runs", "failure_rate"),
			"Failed runs among finished runs within the lookback window.",
			nil, nil,
		),
		lastSuccess: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "run", "last_success_timestamp_seconds"),
			"Unix time the last successful run finished.",
			nil, nil,
		),
		lastDuration: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "run", "last_duration_seconds"),
			"Duration of the most recent run.",
			[]string{"status"}, nil,
		),
		lastDeals: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "run", "last_deals"),
			"Deals processed by the most recent run.",
			nil, nil,
		),
		lastSkipped: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "run", "last_skipped"),
			"Deals skipped by the most recent run.",
			nil, nil,
		),
		lastAnomalies: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "run", "last_anomalies"),
			"Data-shape anomalies clamped by the most recent run.",
			nil, nil,
		),
		scrapeError: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "exporter", "scrape_error"),
			"1 when the run ledger could not be read.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.runs
	ch <- e.failureRate
	ch <- e.lastSuccess
	ch <- e.lastDuration
	ch <- e.lastDeals
	ch <- e.lastSkipped
	ch <- e.lastAnomalies
	ch <- e.scrapeError
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	snap, err := e.collector.Collect(ctx, e.lookbackHours)
	if err != nil {
		zap.L().Warn("monitoring: scrape run ledger", zap.Error(err))
		ch <- prometheus.MustNewConstMetric(e.scrapeError, prometheus.GaugeValue, 1)
		return
	}
	ch <- prometheus.MustNewConstMetric(e.scrapeError, prometheus.GaugeValue, 0)

	for status, n := range map[model.RunStatus]int{
		model.RunStatusSuccess: snap.RunsSuccess,
		model.RunStatusPartial: snap.RunsPartial,
		model.RunStatusFailure: snap.RunsFailure,
		model.RunStatusRunning: snap.RunsRunning,
	} {
		ch <- prometheus.MustNewConstMetric(e.runs, prometheus.GaugeValue, float64(n), string(status))
	}
	ch <- prometheus.MustNewConstMetric(e.failureRate, prometheus.GaugeValue, snap.FailureRate)

	if snap.LastSuccessAt != nil {
		ch <- prometheus.MustNewConstMetric(e.lastSuccess, prometheus.GaugeValue, float64(snap.LastSuccessAt.Unix()))
	}
	if last := snap.LastRun; last != nil {
		ch <- prometheus.MustNewConstMetric(e.lastDuration, prometheus.GaugeValue, last.Duration().Seconds(), string(last.Status))
		ch <- prometheus.MustNewConstMetric(e.lastDeals, prometheus.GaugeValue, float64(last.Deals))
		ch <- prometheus.MustNewConstMetric(e.lastSkipped, prometheus.GaugeValue, float64(last.Skipped))
		ch <- prometheus.MustNewConstMetric(e.lastAnomalies, prometheus.GaugeValue, float64(last.Anomalies))
	}
}

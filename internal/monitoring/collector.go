package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/revops-cli/internal/forecast"
	"github.com/sells-group/revops-cli/internal/model"
	"github.com/sells-group/revops-cli/internal/store"
)

// ledgerScan bounds how many ledger entries one collection reads.
const ledgerScan = 500

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Runs started within the lookback window.
	RunsTotal    int     `json:"runs_total"`
	RunsSuccess  int     `json:"runs_success"`
	RunsPartial  int     `json:"runs_partial"`
	RunsFailure  int     `json:"runs_failure"`
	RunsRunning  int     `json:"runs_running"`
	FailureRate  float64 `json:"failure_rate"`
	SkippedDeals int     `json:"skipped_deals"`
	Anomalies    int     `json:"anomalies"`

	// Latest entries regardless of the window.
	LastRun       *store.Summary `json:"last_run,omitempty"`
	LastSuccessAt *time.Time     `json:"last_success_at,omitempty"`
	ForecastRisk  forecast.Risk  `json:"forecast_risk,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the slice of store.Store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]store.Summary, error)
}

// Collector gathers metrics from the run ledger.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot of pipeline health over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	// Newest first.
	runs, err := c.runs.ListRuns(ctx, ledgerScan)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for i := range runs {
		r := runs[i]
		if snap.LastRun == nil {
			snap.LastRun = &r
		}
		if snap.ForecastRisk == "" && r.ForecastPeriod != "" {
			snap.ForecastRisk = r.Risk
		}
		if snap.LastSuccessAt == nil && r.Status == model.RunStatusSuccess {
			at := r.StartedAt
			if r.FinishedAt != nil {
				at = *r.FinishedAt
			}
			snap.LastSuccessAt = &at
		}
		if r.StartedAt.Before(cutoff) {
			continue
		}

		snap.RunsTotal++
		snap.SkippedDeals += r.Skipped
		snap.Anomalies += r.Anomalies
		switch r.Status {
		case model.RunStatusSuccess:
			snap.RunsSuccess++
		case model.RunStatusPartial:
			snap.RunsPartial++
		case model.RunStatusFailure:
			snap.RunsFailure++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
	}

	if finished := snap.RunsTotal - snap.RunsRunning; finished > 0 {
		snap.FailureRate = float64(snap.RunsFailure) / float64(finished)
	}
	return snap, nil
}

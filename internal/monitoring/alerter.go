package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/revops-cli/internal/config"
	"github.com/sells-group/revops-cli/internal/crm"
	"github.com/sells-group/revops-cli/internal/forecast"
	"github.com/sells-group/revops-cli/internal/model"
	"github.com/sells-group/revops-cli/internal/store"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertRunFailureRate AlertType = "run_failure_rate"
	AlertStaleData      AlertType = "stale_data"
	AlertRunIncomplete  AlertType = "run_incomplete"
	AlertForecastRisk   AlertType = "forecast_risk"
)

// minFinishedRuns is how many finished runs the failure-rate alert needs.
const minFinishedRuns = 3

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached. It also
// implements pipeline.Notifier for per-run alerts.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	now    func() time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := a.now().UTC()

	finished := snap.RunsTotal - snap.RunsRunning
	if finished >= minFinishedRuns && snap.FailureRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRunFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailureRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailure, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailure,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.StaleAfterHours > 0 {
		limit := time.Duration(a.cfg.StaleAfterHours) * time.Hour
		switch {
		case snap.LastSuccessAt == nil:
			alerts = append(alerts, Alert{
				Type:      AlertStaleData,
				Severity:  "high",
				Message:   "No successful run recorded in the ledger",
				Timestamp: now,
			})
		case now.Sub(*snap.LastSuccessAt) > limit:
			age := now.Sub(*snap.LastSuccessAt).Truncate(time.Minute)
			alerts = append(alerts, Alert{
				Type:     AlertStaleData,
				Severity: "high",
				Message:  fmt.Sprintf("Last successful run finished %s ago (limit %dh)", age, a.cfg.StaleAfterHours),
				Details: map[string]any{
					"last_success_at": snap.LastSuccessAt.Format(time.RFC3339),
					"stale_hours":     a.cfg.StaleAfterHours,
				},
				Timestamp: now,
			})
		}
	}

	if snap.ForecastRisk == forecast.RiskCritical || snap.ForecastRisk == forecast.RiskHigh {
		period := ""
		if snap.LastRun != nil {
			period = snap.LastRun.ForecastPeriod
		}
		alerts = append(alerts, Alert{
			Type:      AlertForecastRisk,
			Severity:  riskSeverity(snap.ForecastRisk),
			Message:   fmt.Sprintf("Revenue forecast risk is %s", snap.ForecastRisk),
			Details:   map[string]any{"risk": snap.ForecastRisk, "period": period},
			Timestamp: now,
		})
	}

	return alerts
}

// RunAlert describes a run that ended partial or failed; ok is false for
// successful or unfinished runs.
func (a *Alerter) RunAlert(s store.Summary) (Alert, bool) {
	if s.Status != model.RunStatusPartial && s.Status != model.RunStatusFailure {
		return Alert{}, false
	}
	severity := "medium"
	if s.Status == model.RunStatusFailure {
		severity = "high"
	}

	incomplete := map[string]string{}
	for _, e := range s.Entities {
		if e.Error != "" {
			incomplete[e.Entity] = e.Error
		} else if e.Status != crm.EntityComplete {
			incomplete[e.Entity] = string(e.Status)
		}
	}

	msg := fmt.Sprintf("Run %s finished with status %s", s.RunID, s.Status)
	if s.Error != "" {
		msg += ": " + s.Error
	}
	details := map[string]any{
		"run_id":   s.RunID,
		"status":   s.Status,
		"deals":    s.Deals,
		"skipped":  s.Skipped,
		"as_of":    s.AsOf.Format(time.RFC3339),
		"trigger":  s.Trigger,
		"duration": s.Duration().String(),
	}
	if len(incomplete) > 0 {
		details["entities"] = incomplete
	}
	return Alert{
		Type:      AlertRunIncomplete,
		Severity:  severity,
		Message:   msg,
		Details:   details,
		Timestamp: a.now().UTC(),
	}, true
}

// Notify posts a RunAlert for s. It is a no-op without a webhook.
func (a *Alerter) Notify(ctx context.Context, s store.Summary) error {
	alert, ok := a.RunAlert(s)
	if !ok || a.cfg.WebhookURL == "" {
		return nil
	}
	return a.sendWebhook(ctx, alert)
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func riskSeverity(r forecast.Risk) string {
	if r == forecast.RiskCritical {
		return "critical"
	}
	return "high"
}

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

	"github.com/sells-group/tender-cli/internal/config"
	"github.com/sells-group/tender-cli/internal/model"
	"github.com/sells-group/tender-cli/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertSkipRate     AlertType = "skip_rate"
	AlertFormatChange AlertType = "source_format_change"
	AlertUnsinked     AlertType = "unsinked_records"
)

// minFetched is the smallest sample the skip-rate alert fires on.
const minFetched = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter turns a Snapshot into alerts and posts them to a webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
}

// AlerterOption configures an Alerter.
type AlerterOption func(*Alerter)

// WithRetry overrides the webhook delivery policy.
func WithRetry(cfg resilience.RetryConfig) AlerterOption {
	return func(a *Alerter) { a.retry = cfg }
}

// NewAlerter creates an Alerter. Webhook posts use the pipeline's default
// retry policy unless overridden.
func NewAlerter(cfg config.MonitoringConfig, opts ...AlerterOption) *Alerter {
	a := &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		retry:  resilience.DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if snap.FormatChanges > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertFormatChange,
			Severity: "high",
			Message: fmt.Sprintf(
				"Listing source format changed %d time(s) in last %dh",
				snap.FormatChanges, snap.LookbackHours,
			),
			Details: map[string]any{
				"format_changes": snap.FormatChanges,
				"runs":           snap.Runs,
			},
			Timestamp: now,
		})
	}

	if a.cfg.SkipRateThreshold > 0 && snap.Fetched >= minFetched && snap.SkipRate > a.cfg.SkipRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSkipRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Stage skip rate %.1f%% exceeds threshold %.1f%% (%d skips over %d records in last %dh)",
				snap.SkipRate*100, a.cfg.SkipRateThreshold*100,
				snap.Skips, snap.Fetched, snap.LookbackHours,
			),
			Details: map[string]any{
				"skip_rate":       snap.SkipRate,
				"threshold":       a.cfg.SkipRateThreshold,
				"failure_classes": snap.FailureClasses,
			},
			Timestamp: now,
		})
	}

	if lost := snap.Fetched - snap.Sinked; lost > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertUnsinked,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d fetched record(s) never reached the sink in last %dh",
				lost, snap.LookbackHours,
			),
			Details: map[string]any{
				"fetched":     snap.Fetched,
				"sinked":      snap.Sinked,
				"interrupted": snap.Interrupted,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts posts each alert to the webhook and returns how many were
// accepted. A 5xx or 429 answer is retried; other failures drop the alert.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		policy := a.retry
		policy.OnRetry = resilience.RetryLogger("alert", string(alert.Type))

		if err := resilience.Do(ctx, policy, func(ctx context.Context) error {
			return a.post(ctx, alert)
		}); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.String("class", string(resilience.Classify(err))),
				zap.Int("attempts", resilience.Attempts(err)),
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

func (a *Alerter) post(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return resilience.NewClassified(model.ClassConfigurationError, eris.Wrap(err, "monitoring: build webhook request"))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "monitoring: webhook request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return resilience.HTTPStatusError(resp.StatusCode,
			eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode))
	}
	return nil
}

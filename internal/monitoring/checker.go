package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/tender-cli/internal/config"
)

// Checker evaluates run health on a fixed interval. An alert whose message
// matches the one sent for the same type on the previous check is not sent
// again, so a standing condition pages once per change.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	mu   sync.Mutex
	last map[AlertType]string
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		last:      make(map[AlertType]string),
	}
}

// Run checks immediately and then every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: health checker started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Float64("skip_rate_threshold", c.cfg.SkipRateThreshold),
	)

	c.Check(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: health checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check evaluates one snapshot and returns the number of alerts sent.
func (c *Checker) Check(ctx context.Context) int {
	log := zap.L().With(zap.String("component", "monitoring.checker"))

	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: collect snapshot", zap.Error(err))
		return 0
	}

	fresh := c.fresh(c.alerter.Evaluate(snap))
	if len(fresh) == 0 {
		log.Debug("monitoring: nothing new to report", zap.Int("runs", snap.Runs))
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, fresh)
	log.Info("monitoring: alerts evaluated",
		zap.Int("runs", snap.Runs),
		zap.Int("alerts_new", len(fresh)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}

// fresh drops alerts identical to the previous check's and remembers the
// current set. A type that stops firing is forgotten so it pages again
// when it returns.
func (c *Checker) fresh(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := make(map[AlertType]string, len(alerts))
	var out []Alert
	for _, a := range alerts {
		current[a.Type] = a.Message
		if c.last[a.Type] != a.Message {
			out = append(out, a)
		}
	}
	c.last = current
	return out
}

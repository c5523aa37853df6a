package metrics

import (
	"sync"
	"time"

	"bestprice/logger"
)

// FinderStats summarises one findPrices run.
type FinderStats struct {
	Strategy    string
	Product     string
	Shops       int
	Failed      int
	Duration    time.Duration
	PoolSize    int
	PoolPending int
}

// ReportFinder emits the per-run metrics of a strategy and logs a summary.
func ReportFinder(log *logger.Log, stats FinderStats) {
	const component = "finder"
	if log == nil {
		log = logger.GetLogger()
	}

	failureRate := float64(0)
	if stats.Shops > 0 {
		failureRate = float64(stats.Failed) / float64(stats.Shops)
	}
	durationMs := float64(stats.Duration.Nanoseconds()) / 1e6

	dims := logger.Fields{"strategy": stats.Strategy}
	EmitMetric(log, component, "run_duration_ms", durationMs, "gauge", withUnit(dims, "milliseconds"))
	EmitMetric(log, component, "shops_queried", int64(stats.Shops), "counter", withUnit(dims, "count"))
	EmitMetric(log, component, "shops_failed", int64(stats.Failed), "counter", withUnit(dims, "count"))
	EmitMetric(log, component, "failure_rate", failureRate*100, "gauge", withUnit(dims, "percent"))

	entry := log.WithComponent(component).WithFields(logger.Fields{
		"strategy":     stats.Strategy,
		"product":      stats.Product,
		"shops":        stats.Shops,
		"failed":       stats.Failed,
		"duration_ms":  durationMs,
		"pool_size":    stats.PoolSize,
		"pool_pending": stats.PoolPending,
	})
	if stats.Failed > 0 {
		entry.Warn("finder run completed with failures")
		return
	}
	entry.Info("finder run completed")
}

// ReportArchive emits the outcome of archiving one run.
func ReportArchive(log *logger.Log, strategy string, bytes int64, err error) {
	const component = "archive"
	if err != nil {
		EmitMetric(log, component, "archive_errors", int64(1), "counter", logger.Fields{"unit": "count"})
		return
	}
	EmitMetric(log, component, "runs_archived", int64(1), "counter", logger.Fields{"unit": "count"})
	EmitMetric(log, component, "archive_bytes", bytes, "counter", logger.Fields{"unit": "bytes", "strategy": strategy})
}

func withUnit(fields logger.Fields, unit string) logger.Fields {
	out := cloneFields(fields)
	out["unit"] = unit
	return out
}

// StrategyTotals accumulates the finder runs of one strategy.
type StrategyTotals struct {
	Runs       int64
	Shops      int64
	Failed     int64
	DurationMs float64
}

// AvgMs is the mean run duration, or 0 before the first run.
func (t StrategyTotals) AvgMs() float64 {
	if t.Runs == 0 {
		return 0
	}
	return t.DurationMs / float64(t.Runs)
}

// StrategyTally folds the metrics of ReportFinder into per-strategy totals.
// Register Handle for the "finder" component.
type StrategyTally struct {
	mu     sync.Mutex
	totals map[string]*StrategyTotals
}

func NewStrategyTally() *StrategyTally {
	return &StrategyTally{totals: make(map[string]*StrategyTotals)}
}

func (t *StrategyTally) Handle(m Metric) {
	strategy, _ := m.Fields["strategy"].(string)
	if strategy == "" {
		return
	}
	v, ok := toFloat64(m.Value)
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	tot, ok := t.totals[strategy]
	if !ok {
		tot = &StrategyTotals{}
		t.totals[strategy] = tot
	}
	switch m.Name {
	case "run_duration_ms":
		tot.Runs++
		tot.DurationMs += v
	case "shops_queried":
		tot.Shops += int64(v)
	case "shops_failed":
		tot.Failed += int64(v)
	}
}

// Totals returns a copy of the totals keyed by strategy.
func (t *StrategyTally) Totals() map[string]StrategyTotals {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]StrategyTotals, len(t.totals))
	for k, v := range t.totals {
		out[k] = *v
	}
	return out
}

// Log writes one summary line per strategy.
func (t *StrategyTally) Log(log *logger.Log) {
	if log == nil {
		log = logger.GetLogger()
	}
	for strategy, tot := range t.Totals() {
		log.WithComponent("finder").WithFields(logger.Fields{
			"strategy":   strategy,
			"runs":       tot.Runs,
			"shops":      tot.Shops,
			"failed":     tot.Failed,
			"avg_run_ms": tot.AvgMs(),
		}).Info("strategy summary")
	}
}

package metrics

import (
	"testing"
	"time"

	"bestprice/logger"
)

func resetMetricHandlers() {
	subscriptionsMu.Lock()
	subscriptions = nil
	nextHandlerID = 0
	subscriptionsMu.Unlock()
}

func TestRegisterMetricHandlerReturnsUniqueIDs(t *testing.T) {
	resetMetricHandlers()

	id := RegisterMetricHandler(func(Metric) {})
	if id == 0 {
		t.Fatalf("expected non-zero handler id")
	}

	second := RegisterMetricHandler(func(Metric) {})
	if second == 0 || second == id {
		t.Fatalf("expected unique handler id")
	}
}

func TestRegisterMetricHandlerNil(t *testing.T) {
	resetMetricHandlers()

	if id := RegisterMetricHandler(nil); id != 0 {
		t.Fatalf("expected zero id for nil handler, got %d", id)
	}
}

func TestEmitMetricDispatchesToHandlers(t *testing.T) {
	resetMetricHandlers()

	events := make(chan Metric, 1)
	id := RegisterMetricHandler(func(m Metric) {
		events <- m
	})
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	fields := logger.Fields{"strategy": "concurrent", "unit": "count"}
	EmitMetric(logger.Logger(), "finder", "shops_failed", 3, "gauge", fields)

	select {
	case event := <-events:
		if event.Component != "finder" || event.Name != "shops_failed" || event.Type != "gauge" {
			t.Fatalf("unexpected event: %+v", event)
		}
		if _, ok := fields["metric"]; ok {
			t.Fatalf("original fields mutated: %v", fields)
		}
		if _, ok := event.Fields["metric"]; ok {
			t.Fatalf("event fields should not contain metric key: %v", event.Fields)
		}
	case <-time.After(50 * time.Millisecond):
		t.Fatal("metric handler not invoked")
	}
}

func TestEmitMetricDefaultTypeAndEmptyName(t *testing.T) {
	resetMetricHandlers()

	var got []Metric
	id := RegisterMetricHandler(func(m Metric) { got = append(got, m) })
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	EmitMetric(logger.Logger(), "finder", "", 1, "", nil)
	EmitMetric(logger.Logger(), "finder", "shops_queried", 4, "", nil)

	if len(got) != 1 {
		t.Fatalf("expected 1 metric, got %d", len(got))
	}
	if got[0].Type != "counter" {
		t.Fatalf("expected default counter type, got %s", got[0].Type)
	}
}

func TestUnregisterMetricHandler(t *testing.T) {
	resetMetricHandlers()

	calls := 0
	id := RegisterMetricHandler(func(Metric) { calls++ })
	UnregisterMetricHandler(id)

	EmitMetric(logger.Logger(), "finder", "shops_queried", 1, "", nil)
	if calls != 0 {
		t.Fatalf("unregistered handler invoked %d times", calls)
	}
}

func TestReportFinderEmitsRunMetrics(t *testing.T) {
	resetMetricHandlers()

	byName := map[string]Metric{}
	id := RegisterMetricHandler(func(m Metric) { byName[m.Name] = m })
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	ReportFinder(logger.Logger(), FinderStats{
		Strategy: "pipelined",
		Product:  "myPhone27S",
		Shops:    4,
		Failed:   1,
		Duration: 2 * time.Second,
	})

	for _, name := range []string{"run_duration_ms", "shops_queried", "shops_failed", "failure_rate"} {
		if _, ok := byName[name]; !ok {
			t.Fatalf("metric %s not emitted", name)
		}
	}
	if v := byName["run_duration_ms"].Value.(float64); v != 2000 {
		t.Errorf("unexpected duration: %v", v)
	}
	if v := byName["failure_rate"].Value.(float64); v != 25 {
		t.Errorf("unexpected failure rate: %v", v)
	}
	if s := byName["shops_failed"].Fields["strategy"]; s != "pipelined" {
		t.Errorf("strategy dimension missing: %v", byName["shops_failed"].Fields)
	}
}

func TestRegisterMetricHandlerFiltersByComponent(t *testing.T) {
	resetMetricHandlers()

	var finder, all []string
	id := RegisterMetricHandler(func(m Metric) { finder = append(finder, m.Name) }, "finder")
	t.Cleanup(func() { UnregisterMetricHandler(id) })
	allID := RegisterMetricHandler(func(m Metric) { all = append(all, m.Name) })
	t.Cleanup(func() { UnregisterMetricHandler(allID) })

	EmitMetric(logger.Logger(), "finder", "shops_queried", 4, "", nil)
	EmitMetric(logger.Logger(), "archive", "runs_archived", 1, "", nil)

	if len(finder) != 1 || finder[0] != "shops_queried" {
		t.Fatalf("finder handler saw %v", finder)
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered handler saw %v", all)
	}
}

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	resetMetricHandlers()

	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		id := RegisterMetricHandler(func(Metric) { order = append(order, i) })
		t.Cleanup(func() { UnregisterMetricHandler(id) })
	}
	EmitMetric(logger.Logger(), "finder", "shops_queried", 1, "", nil)

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestMetricDimensions(t *testing.T) {
	m := Metric{
		Component: "finder",
		Name:      "shops_failed",
		Fields: logger.Fields{
			"unit":     "count",
			"strategy": "pipelined",
			"product":  "myPhone27S",
			"shops":    4,
			"empty":    "",
		},
	}

	dims := m.Dimensions()
	want := []Dimension{
		{Name: "component", Value: "finder"},
		{Name: "product", Value: "myPhone27S"},
		{Name: "strategy", Value: "pipelined"},
	}
	if len(dims) != len(want) {
		t.Fatalf("unexpected dimensions %v", dims)
	}
	for i := range want {
		if dims[i] != want[i] {
			t.Fatalf("dimension %d: got %v, want %v", i, dims[i], want[i])
		}
	}
	if m.Unit() != "count" {
		t.Fatalf("unexpected unit %q", m.Unit())
	}
}

func TestStrategyTallyAggregatesRuns(t *testing.T) {
	resetMetricHandlers()

	tally := NewStrategyTally()
	id := RegisterMetricHandler(tally.Handle, "finder")
	t.Cleanup(func() { UnregisterMetricHandler(id) })

	ReportFinder(logger.Logger(), FinderStats{Strategy: "sequential", Shops: 4, Failed: 1, Duration: 4 * time.Second})
	ReportFinder(logger.Logger(), FinderStats{Strategy: "sequential", Shops: 4, Duration: 2 * time.Second})
	ReportFinder(logger.Logger(), FinderStats{Strategy: "pipelined", Shops: 4, Duration: time.Second})
	ReportArchive(logger.Logger(), "pipelined", 512, nil)

	totals := tally.Totals()
	seq := totals["sequential"]
	if seq.Runs != 2 || seq.Shops != 8 || seq.Failed != 1 || seq.AvgMs() != 3000 {
		t.Fatalf("unexpected sequential totals %+v", seq)
	}
	if p := totals["pipelined"]; p.Runs != 1 || p.Shops != 4 {
		t.Fatalf("unexpected pipelined totals %+v", p)
	}
	tally.Log(logger.Logger())
}

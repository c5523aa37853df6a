package metrics

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"bestprice/logger"
)

// capturePublishes installs a fake client and publisher and returns the
// captured batches.
func capturePublishes(t *testing.T, interval time.Duration) *[][]cwtypes.MetricDatum {
	t.Helper()

	prevState := cwState.Load()
	cwState.Store(&cloudWatchState{client: &cloudwatch.Client{}, namespace: "BestPrice"})
	t.Cleanup(func() { cwState.Store(prevState) })

	resetMetricPublishTimes()
	t.Cleanup(resetMetricPublishTimes)

	originalInterval := cloudWatchPublishInterval
	cloudWatchPublishInterval = interval
	t.Cleanup(func() { cloudWatchPublishInterval = originalInterval })

	batches := make([][]cwtypes.MetricDatum, 0)
	publishMetricsFunc = func(ctx context.Context, state *cloudWatchState, data []cwtypes.MetricDatum) {
		copyData := make([]cwtypes.MetricDatum, len(data))
		copy(copyData, data)
		batches = append(batches, copyData)
	}
	t.Cleanup(func() { publishMetricsFunc = publishMetrics })
	t.Cleanup(func() { timeNow = time.Now })

	return &batches
}

func TestPublishMetricDatumThrottlesToInterval(t *testing.T) {
	batches := capturePublishes(t, 50*time.Millisecond)

	baseTime := time.Now()
	timeNow = func() time.Time { return baseTime }

	metric := Metric{Component: "finder", Name: "shops_failed", Timestamp: baseTime, Fields: logger.Fields{"unit": "count"}}
	publishMetricDatum(metric, 1)

	timeNow = func() time.Time { return baseTime.Add(25 * time.Millisecond) }
	publishMetricDatum(metric, 2)

	if len(*batches) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(*batches))
	}
	datum := (*batches)[0][0]
	if aws.ToString(datum.MetricName) != "shops_failed" || aws.ToFloat64(datum.Value) != 1 {
		t.Fatalf("unexpected datum: %v %v", datum.MetricName, datum.Value)
	}
}

func TestPublishMetricDatumAllowsAfterInterval(t *testing.T) {
	batches := capturePublishes(t, 50*time.Millisecond)

	baseTime := time.Now()
	timeNow = func() time.Time { return baseTime }

	metric := Metric{Component: "finder", Name: "shops_failed", Timestamp: baseTime, Fields: logger.Fields{"unit": "count"}}
	publishMetricDatum(metric, 1)

	timeNow = func() time.Time { return baseTime.Add(75 * time.Millisecond) }
	publishMetricDatum(metric, 2)

	if len(*batches) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(*batches))
	}
	if v := aws.ToFloat64((*batches)[1][0].Value); v != 2 {
		t.Fatalf("unexpected second value: %v", v)
	}
}

func TestPublishMetricDatumSeriesAreIndependent(t *testing.T) {
	batches := capturePublishes(t, time.Minute)

	publishMetricDatum(Metric{Component: "finder", Name: "shops_failed", Fields: logger.Fields{"strategy": "sequential"}}, 1)
	publishMetricDatum(Metric{Component: "finder", Name: "shops_failed", Fields: logger.Fields{"strategy": "pipelined"}}, 1)

	if len(*batches) != 2 {
		t.Fatalf("expected one publish per series, got %d", len(*batches))
	}
	dims := (*batches)[1][0].Dimensions
	if len(dims) != 2 || aws.ToString(dims[1].Name) != "strategy" || aws.ToString(dims[1].Value) != "pipelined" {
		t.Fatalf("unexpected dimensions: %+v", dims)
	}
}

func TestPublishMetricDatumUnits(t *testing.T) {
	batches := capturePublishes(t, 0)

	publishMetricDatum(Metric{Component: "finder", Name: "run_duration_ms", Fields: logger.Fields{"unit": "milliseconds"}}, 12)
	publishMetricDatum(Metric{Component: "finder", Name: "odd", Fields: logger.Fields{"unit": "parsecs"}}, 1)

	if got := (*batches)[0][0].Unit; got != cwtypes.StandardUnitMilliseconds {
		t.Errorf("unexpected unit: %s", got)
	}
	if got := (*batches)[1][0].Unit; got != cwtypes.StandardUnitCount {
		t.Errorf("unknown unit should fall back to Count, got %s", got)
	}
}

func TestPublishSkippedWithoutClient(t *testing.T) {
	prevState := cwState.Load()
	cwState.Store(&cloudWatchState{namespace: "BestPrice"})
	t.Cleanup(func() { cwState.Store(prevState) })

	called := false
	publishMetricsFunc = func(context.Context, *cloudWatchState, []cwtypes.MetricDatum) { called = true }
	t.Cleanup(func() { publishMetricsFunc = publishMetrics })

	EmitMetric(logger.Logger(), "finder", "shops_failed", 1, "", nil)
	if called {
		t.Fatal("publish must not run without a client")
	}
}

func TestRenderDashboard(t *testing.T) {
	body, err := renderDashboard("Prices", "eu-west-1")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !json.Valid([]byte(body)) {
		t.Fatal("rendered dashboard is not valid JSON")
	}
	if strings.Contains(body, `"BestPrice"`) || strings.Contains(body, `"us-east-1"`) {
		t.Fatal("template placeholders not substituted")
	}
	if !strings.Contains(body, `"Prices"`) || !strings.Contains(body, `"eu-west-1"`) {
		t.Fatal("substituted values missing")
	}
}

package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type stageStat struct {
	calls    int64
	failures int64
	nanos    int64
}

var (
	errorsShop     int64
	errorsDiscount int64
	warnsShop      int64
	warnsDiscount  int64
	stages         sync.Map // map[string]*stageStat
)

func recordWarn(component string) {
	if strings.Contains(component, "discount") {
		atomic.AddInt64(&warnsDiscount, 1)
	} else if strings.Contains(component, "shop") || strings.Contains(component, "finder") {
		atomic.AddInt64(&warnsShop, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "discount") {
		atomic.AddInt64(&errorsDiscount, 1)
	} else if strings.Contains(component, "shop") || strings.Contains(component, "finder") {
		atomic.AddInt64(&errorsShop, 1)
	}
}

// RecordStage counts one remote call of the named stage ("price", "discount").
func RecordStage(name string, d time.Duration, failed bool) {
	v, _ := stages.LoadOrStore(name, &stageStat{})
	st := v.(*stageStat)
	atomic.AddInt64(&st.calls, 1)
	atomic.AddInt64(&st.nanos, int64(d))
	if failed {
		atomic.AddInt64(&st.failures, 1)
	}
}

// StageSnapshot is a point-in-time copy of one stage's counters.
type StageSnapshot struct {
	Calls    int64
	Failures int64
	AvgMs    float64
}

// Stages returns the current per-stage counters.
func Stages() map[string]StageSnapshot {
	out := map[string]StageSnapshot{}
	stages.Range(func(k, v any) bool {
		st := v.(*stageStat)
		calls := atomic.LoadInt64(&st.calls)
		snap := StageSnapshot{
			Calls:    calls,
			Failures: atomic.LoadInt64(&st.failures),
		}
		if calls > 0 {
			snap.AvgMs = float64(atomic.LoadInt64(&st.nanos)) / float64(calls) / 1e6
		}
		out[k.(string)] = snap
		return true
	})
	return out
}

// StartReport begins periodic logging of runtime and stage statistics
// until ctx is cancelled.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				LogReport(log)
			}
		}
	}()
}

// LogReport writes a single runtime report.
func LogReport(log *Log) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stageData := map[string]map[string]interface{}{}
	for name, snap := range Stages() {
		stageData[name] = map[string]interface{}{
			"calls":    snap.Calls,
			"failures": snap.Failures,
			"avg_ms":   snap.AvgMs,
		}
	}

	log.WithComponent("report").WithFields(Fields{
		"errors_shop":     atomic.LoadInt64(&errorsShop),
		"errors_discount": atomic.LoadInt64(&errorsDiscount),
		"warns_shop":      atomic.LoadInt64(&warnsShop),
		"warns_discount":  atomic.LoadInt64(&warnsDiscount),
		"goroutines":      runtime.NumGoroutine(),
		"heap_alloc_mb":   int64(mem.HeapAlloc) / 1024 / 1024,
		"stages":          stageData,
	}).Info("runtime report")
}

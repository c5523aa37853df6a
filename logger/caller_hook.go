package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// wrapperFrames are skipped when resolving the caller of a log entry.
var wrapperFrames = []string{
	"github.com/sirupsen/logrus.",
	"bestprice/logger.(*Entry).",
	"bestprice/logger.(*Log).",
	"bestprice/logger.LogPerformanceEntry",
	"bestprice/logger.LogDataFlowEntry",
}

// callerHook rewrites entry.Caller to the first frame outside logrus
// and the wrappers in this package.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 24)
	// runtime.Callers, Fire and the logrus hook dispatch
	n := runtime.Callers(4, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !isWrapperFrame(frame.Function) {
			f := frame
			entry.Caller = &f
			return nil
		}
		if !more {
			return nil
		}
	}
}

func isWrapperFrame(fn string) bool {
	if fn == "" {
		return true
	}
	for _, prefix := range wrapperFrames {
		if strings.HasPrefix(fn, prefix) {
			return true
		}
	}
	return false
}

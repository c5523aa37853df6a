package metrics

import (
	"sort"
	"sync"
	"time"

	"bestprice/logger"
)

// Metric is one structured measurement emitted by the finder or the archive.
type Metric struct {
	Timestamp time.Time
	Component string
	Name      string
	Value     interface{}
	Type      string
	Fields    logger.Fields
}

// Dimension is one name/value pair identifying a metric series.
type Dimension struct {
	Name  string
	Value string
}

// unitField carries the measurement unit; it never splits a series.
const unitField = "unit"

// Unit returns the metric's unit field, or "" when unset.
func (m Metric) Unit() string {
	u, _ := m.Fields[unitField].(string)
	return u
}

// Dimensions returns the component followed by every non-empty string field
// except the unit, sorted by name. Non-string fields stay in the log only.
func (m Metric) Dimensions() []Dimension {
	dims := []Dimension{{Name: "component", Value: m.Component}}

	keys := make([]string, 0, len(m.Fields))
	for k, v := range m.Fields {
		if s, ok := v.(string); ok && s != "" && k != unitField {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		dims = append(dims, Dimension{Name: k, Value: m.Fields[k].(string)})
	}
	return dims
}

// MetricHandler consumes emitted metrics.
type MetricHandler func(Metric)

// MetricHandlerID identifies a registered handler. Zero means none.
type MetricHandlerID uint64

type subscription struct {
	id         MetricHandlerID
	components map[string]bool
	handler    MetricHandler
}

func (s subscription) wants(component string) bool {
	return len(s.components) == 0 || s.components[component]
}

var (
	subscriptionsMu sync.RWMutex
	subscriptions   []subscription
	nextHandlerID   MetricHandlerID
)

// RegisterMetricHandler subscribes handler to metrics emitted by the named
// components ("finder", "archive"), or to all metrics when none are named.
// Handlers run synchronously in registration order.
func RegisterMetricHandler(handler MetricHandler, components ...string) MetricHandlerID {
	if handler == nil {
		return 0
	}

	sub := subscription{handler: handler}
	if len(components) > 0 {
		sub.components = make(map[string]bool, len(components))
		for _, c := range components {
			sub.components[c] = true
		}
	}

	subscriptionsMu.Lock()
	defer subscriptionsMu.Unlock()

	nextHandlerID++
	sub.id = nextHandlerID
	subscriptions = append(subscriptions, sub)
	return sub.id
}

func UnregisterMetricHandler(id MetricHandlerID) {
	if id == 0 {
		return
	}

	subscriptionsMu.Lock()
	defer subscriptionsMu.Unlock()
	for i, sub := range subscriptions {
		if sub.id == id {
			subscriptions = append(subscriptions[:i:i], subscriptions[i+1:]...)
			return
		}
	}
}

func recordMetric(log *logger.Log, component, name string, value interface{}, metricType string, fields logger.Fields) (Metric, bool) {
	if name == "" {
		return Metric{}, false
	}
	if metricType == "" {
		metricType = "counter"
	}
	if log == nil {
		log = logger.GetLogger()
	}

	metric := Metric{
		Timestamp: timeNow(),
		Component: component,
		Name:      name,
		Value:     value,
		Type:      metricType,
		Fields:    cloneFields(fields),
	}
	log.LogMetric(component, name, value, metricType, metric.Fields)
	dispatchMetric(metric)
	return metric, true
}

func dispatchMetric(metric Metric) {
	subscriptionsMu.RLock()
	handlers := make([]MetricHandler, 0, len(subscriptions))
	for _, sub := range subscriptions {
		if sub.wants(metric.Component) {
			handlers = append(handlers, sub.handler)
		}
	}
	subscriptionsMu.RUnlock()

	for _, handler := range handlers {
		handler(metric)
	}
}

func cloneFields(fields logger.Fields) logger.Fields {
	copied := make(logger.Fields, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}

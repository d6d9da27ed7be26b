package metrics

import "time"

// MetricsEvent is one named occurrence in the agent's event stream, e.g. a
// turn_complete with rounds and duration fields, or a tool_call tagged with
// the tool name and its ok/error status.
type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

// Observer receives every event the turn loop and adapters emit. RecordEvent
// must not block: it runs inline between model and tool calls.
type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

package detect

import (
	"slices"
	"time"

	"tdrf/core"
)

// EventIndex buffers recent events and indexes them by source address,
// target address and event type. An event is present in an index list iff it
// is present in the buffer.
//
// EventIndex is not safe for concurrent use.
type EventIndex struct {
	maxWindow time.Duration
	buffer    []*core.Event
	bySource  map[string][]*core.Event
	byTarget  map[string][]*core.Event
	byType    map[string][]*core.Event
}

// NewEventIndex returns an empty index retaining events for maxWindow.
func NewEventIndex(maxWindow time.Duration) *EventIndex {
	return &EventIndex{
		maxWindow: maxWindow,
		bySource:  make(map[string][]*core.Event),
		byTarget:  make(map[string][]*core.Event),
		byType:    make(map[string][]*core.Event),
	}
}

// MaxWindow returns the retention horizon.
func (x *EventIndex) MaxWindow() time.Duration { return x.maxWindow }

// SetMaxWindow changes the retention horizon. Takes effect on the next Evict.
func (x *EventIndex) SetMaxWindow(d time.Duration) { x.maxWindow = d }

// Add appends e to the buffer and to every index it qualifies for.
func (x *EventIndex) Add(e *core.Event) {
	if e == nil {
		return
	}
	x.buffer = append(x.buffer, e)
	x.index(e)
}

func (x *EventIndex) index(e *core.Event) {
	if e.SourceIP != "" {
		x.bySource[e.SourceIP] = append(x.bySource[e.SourceIP], e)
	}
	if e.TargetIP != "" {
		x.byTarget[e.TargetIP] = append(x.byTarget[e.TargetIP], e)
	}
	x.byType[e.EventType] = append(x.byType[e.EventType], e)
}

// Evict drops every buffered event whose timestamp is not after
// now-maxWindow and rebuilds the indexes from what remains. It returns the
// number of events removed.
func (x *EventIndex) Evict(now time.Time) int {
	cutoff := now.Add(-x.maxWindow)
	kept := x.buffer[:0]
	for _, e := range x.buffer {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	removed := len(x.buffer) - len(kept)
	if removed == 0 {
		return 0
	}
	// clear the tail so evicted events can be collected
	for i := len(kept); i < len(x.buffer); i++ {
		x.buffer[i] = nil
	}
	x.buffer = kept
	x.rebuild()
	return removed
}

func (x *EventIndex) rebuild() {
	x.bySource = make(map[string][]*core.Event, len(x.bySource))
	x.byTarget = make(map[string][]*core.Event, len(x.byTarget))
	x.byType = make(map[string][]*core.Event, len(x.byType))
	for _, e := range x.buffer {
		x.index(e)
	}
}

// QueryBySource returns events from ip with a timestamp after now-window,
// optionally restricted to the given event types.
func (x *EventIndex) QueryBySource(ip string, types []string, window time.Duration, now time.Time) []*core.Event {
	return filterWindow(x.bySource[ip], types, now.Add(-window))
}

// QueryByTarget returns events aimed at ip with a timestamp after now-window,
// optionally restricted to the given event types.
func (x *EventIndex) QueryByTarget(ip string, types []string, window time.Duration, now time.Time) []*core.Event {
	return filterWindow(x.byTarget[ip], types, now.Add(-window))
}

// QueryByType returns events of exactly eventType with a timestamp after
// now-window.
func (x *EventIndex) QueryByType(eventType string, window time.Duration, now time.Time) []*core.Event {
	return filterWindow(x.byType[eventType], nil, now.Add(-window))
}

func filterWindow(events []*core.Event, types []string, cutoff time.Time) []*core.Event {
	var out []*core.Event
	for _, e := range events {
		if !e.Timestamp.After(cutoff) {
			continue
		}
		if len(types) > 0 && !slices.Contains(types, e.EventType) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of buffered events.
func (x *EventIndex) Len() int { return len(x.buffer) }

// UniqueSources returns the number of distinct source addresses buffered.
func (x *EventIndex) UniqueSources() int { return len(x.bySource) }

// UniqueTargets returns the number of distinct target addresses buffered.
func (x *EventIndex) UniqueTargets() int { return len(x.byTarget) }

// UniqueTypes returns the number of distinct event types buffered.
func (x *EventIndex) UniqueTypes() int { return len(x.byType) }

// Clear drops all buffered and indexed events.
func (x *EventIndex) Clear() {
	x.buffer = nil
	x.rebuild()
}

package counting

import (
	"encoding/json"
	"math"
)

// EventType distinguishes entries from exits.
type EventType string

const (
	EventEntry EventType = "entry"
	EventExit  EventType = "exit"
)

// Event reports one counted crossing. Size and SizeChangePct are only set in
// perspective mode.
type Event struct {
	Type          EventType `json:"type"`
	VehicleID     int       `json:"vehicle_id"`
	Count         int       `json:"count"` // current count after this event
	Size          int       `json:"size,omitempty"`
	SizeChangePct float64   `json:"size_change_pct,omitempty"`
}

// MarshalJSON writes the size fields whenever Size is set, so a
// perspective event keeps a 0.0 size_change_pct.
func (e Event) MarshalJSON() ([]byte, error) {
	out := struct {
		Type          EventType `json:"type"`
		VehicleID     int       `json:"vehicle_id"`
		Count         int       `json:"count"`
		Size          *int      `json:"size,omitempty"`
		SizeChangePct *float64  `json:"size_change_pct,omitempty"`
	}{Type: e.Type, VehicleID: e.VehicleID, Count: e.Count}
	if e.Size != 0 {
		out.Size = &e.Size
		out.SizeChangePct = &e.SizeChangePct
	}
	return json.Marshal(out)
}

// checkEvent evaluates the configured crossing rule for a matched track.
func (t *Tracker) checkEvent(track *Track, prev, next Point, area int) (Event, bool) {
	if t.cfg.Mode == ModePerspective {
		return t.checkSizeTrend(track, area)
	}
	return t.checkLineCrossing(track, prev, next)
}

// checkLineCrossing fires Entry on a downward crossing of the entry line or,
// only if that did not fire, Exit on an upward crossing of the exit line.
func (t *Tracker) checkLineCrossing(track *Track, prev, next Point) (Event, bool) {
	if track.Counted {
		return Event{}, false
	}
	switch {
	case prev.Y < t.cfg.EntryLine && next.Y >= t.cfg.EntryLine:
		return t.fire(track, EventEntry), true
	case prev.Y > t.cfg.ExitLine && next.Y <= t.cfg.ExitLine:
		return t.fire(track, EventExit), true
	}
	return Event{}, false
}

// checkSizeTrend slides the track's size window and fires when the window
// shows a large enough growth (approach) or shrink (recede). The window
// keeps sliding after the track has been counted.
func (t *Tracker) checkSizeTrend(track *Track, area int) (Event, bool) {
	track.Sizes = appendBounded(track.Sizes, area, t.cfg.SizeTrendFrames)
	if track.Counted || len(track.Sizes) < MinTrendSamples {
		return Event{}, false
	}

	first := track.Sizes[0]
	last := track.Sizes[len(track.Sizes)-1]
	if first == 0 {
		return Event{}, false
	}
	pct := float64(last-first) / float64(first) * 100

	var ev Event
	switch {
	case pct > t.cfg.SizeChangeThresholdPct && last > t.cfg.SizeThresholdEntry:
		ev = t.fire(track, EventEntry)
	case pct < -t.cfg.SizeChangeThresholdPct && last < t.cfg.SizeThresholdExit && last > 0:
		ev = t.fire(track, EventExit)
	default:
		return Event{}, false
	}
	ev.Size = last
	ev.SizeChangePct = math.Round(pct*10) / 10
	return ev, true
}

// fire marks the track counted and applies the event to the counters.
func (t *Tracker) fire(track *Track, typ EventType) Event {
	track.Counted = true
	if typ == EventEntry {
		t.counter.recordEntry()
	} else {
		t.counter.recordExit()
	}
	return Event{
		Type:      typ,
		VehicleID: track.ID,
		Count:     t.counter.CurrentCount,
	}
}

package counting

// CounterState holds the aggregate occupancy counters. EntryCount and
// ExitCount are lifetime totals and never decrease; CurrentCount is clamped
// at zero.
type CounterState struct {
	EntryCount   int
	ExitCount    int
	CurrentCount int
}

func (c *CounterState) recordEntry() {
	c.EntryCount++
	c.CurrentCount++
}

func (c *CounterState) recordExit() {
	c.ExitCount++
	if c.CurrentCount > 0 {
		c.CurrentCount--
	}
}

// Stats is a point-in-time view of the counters and live track count.
type Stats struct {
	CurrentCount   int `json:"current_count"`
	TotalEntries   int `json:"total_entries"`
	TotalExits     int `json:"total_exits"`
	TrackedObjects int `json:"tracked_objects"`
}

// After returns s advanced by ev: the matching total is incremented and
// CurrentCount takes the event's count.
func (s Stats) After(ev Event) Stats {
	switch ev.Type {
	case EventEntry:
		s.TotalEntries++
	case EventExit:
		s.TotalExits++
	}
	s.CurrentCount = ev.Count
	return s
}

// Stats returns the current counters. It has no side effects.
func (t *Tracker) Stats() Stats {
	return Stats{
		CurrentCount:   t.counter.CurrentCount,
		TotalEntries:   t.counter.EntryCount,
		TotalExits:     t.counter.ExitCount,
		TrackedObjects: len(t.tracks),
	}
}

// Reset sets the current count to zero and clears the counted flag of every
// live track, so a track still in frame may fire again if it re-crosses.
// Lifetime entry and exit totals are left untouched.
func (t *Tracker) Reset() {
	t.counter.CurrentCount = 0
	for _, track := range t.tracks {
		track.Counted = false
	}
}

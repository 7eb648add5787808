package counting

// Track is a persistent identity assigned to a sequence of matched
// detections. Tracks are owned by the Tracker; callers only ever see
// TrackSnapshot copies.
type Track struct {
	ID          int
	Center      Point
	Disappeared int // consecutive unmatched frames

	// Positions holds prior centers, newest last, at most
	// PositionHistoryLength entries.
	Positions []Point
	// Sizes holds matched areas, newest last, at most SizeTrendFrames
	// entries. Only populated in perspective mode.
	Sizes []int

	// Counted guards against a second event for the same crossing. It is
	// cleared only by Tracker.Reset.
	Counted bool
}

// TrackSnapshot is a read-only copy of a live track.
type TrackSnapshot struct {
	ID          int     `json:"id"`
	Center      Point   `json:"center"`
	Disappeared int     `json:"disappeared"`
	Positions   []Point `json:"positions"`
	Sizes       []int   `json:"sizes,omitempty"`
	Counted     bool    `json:"counted"`
}

func (t *Track) snapshot() TrackSnapshot {
	s := TrackSnapshot{
		ID:          t.ID,
		Center:      t.Center,
		Disappeared: t.Disappeared,
		Positions:   make([]Point, len(t.Positions)),
		Counted:     t.Counted,
	}
	copy(s.Positions, t.Positions)
	if len(t.Sizes) > 0 {
		s.Sizes = append([]int(nil), t.Sizes...)
	}
	return s
}

// appendBounded appends v and trims the oldest entries so that at most
// limit remain.
func appendBounded[T any](s []T, v T, limit int) []T {
	s = append(s, v)
	if len(s) > limit {
		s = s[len(s)-limit:]
	}
	return s
}

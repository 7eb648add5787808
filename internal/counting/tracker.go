package counting

import "sort"

// Tracker assigns persistent identities to per-frame detections and counts
// entries and exits. A Tracker is not safe for concurrent use; callers must
// serialise Update, Reset, Stats and Tracks.
type Tracker struct {
	cfg     Config
	assign  assignFunc
	nextID  int
	tracks  map[int]*Track
	counter CounterState
}

// New validates cfg and returns a Tracker starting at cfg.InitialCount.
func New(cfg Config) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Assignment == "" {
		cfg.Assignment = AssignGreedy
	}
	return &Tracker{
		cfg:     cfg,
		assign:  assignerFor(cfg.Assignment),
		tracks:  make(map[int]*Track),
		counter: CounterState{CurrentCount: cfg.InitialCount},
	}, nil
}

// Config returns the configuration the Tracker was built with.
func (t *Tracker) Config() Config {
	return t.cfg
}

// Update consumes one frame's detections. It returns the center of every
// live track keyed by id, and the events fired by this frame (at most one
// per track).
func (t *Tracker) Update(detections []Detection) (map[int]Point, []Event) {
	var events []Event

	// Nothing seen: every track ages.
	if len(detections) == 0 {
		for _, id := range t.sortedIDs() {
			t.age(t.tracks[id])
		}
		return t.centers(), events
	}

	if len(t.tracks) == 0 {
		for _, det := range detections {
			t.register(det)
		}
		return t.centers(), events
	}

	ids := t.sortedIDs()
	rows := make([]*Track, len(ids))
	for i, id := range ids {
		rows[i] = t.tracks[id]
	}

	matches := t.assign(distanceMatrix(rows, detections), GateDistance)

	matchedRows := make([]bool, len(rows))
	matchedCols := make([]bool, len(detections))
	for _, m := range matches {
		track := rows[m.row]
		det := detections[m.col]

		prev := track.Center
		track.Center = det.Center
		track.Disappeared = 0
		track.Positions = appendBounded(track.Positions, prev, PositionHistoryLength)

		if ev, ok := t.checkEvent(track, prev, det.Center, det.sanitizedArea()); ok {
			events = append(events, ev)
		}
		matchedRows[m.row] = true
		matchedCols[m.col] = true
	}

	for i, track := range rows {
		if !matchedRows[i] {
			t.age(track)
		}
	}
	for j, det := range detections {
		if !matchedCols[j] {
			t.register(det)
		}
	}

	return t.centers(), events
}

// Tracks returns copies of all live tracks ordered by id.
func (t *Tracker) Tracks() []TrackSnapshot {
	out := make([]TrackSnapshot, 0, len(t.tracks))
	for _, id := range t.sortedIDs() {
		out = append(out, t.tracks[id].snapshot())
	}
	return out
}

// register creates a track for an unmatched detection with the next id.
// Ids are never reused.
func (t *Tracker) register(det Detection) {
	t.tracks[t.nextID] = &Track{
		ID:     t.nextID,
		Center: det.Center,
	}
	t.nextID++
}

// age increments the disappearance counter and drops the track once it
// exceeds MaxDisappeared. Its history and counted flag go with it.
func (t *Tracker) age(track *Track) {
	track.Disappeared++
	if track.Disappeared > t.cfg.MaxDisappeared {
		delete(t.tracks, track.ID)
	}
}

func (t *Tracker) sortedIDs() []int {
	ids := make([]int, 0, len(t.tracks))
	for id := range t.tracks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (t *Tracker) centers() map[int]Point {
	out := make(map[int]Point, len(t.tracks))
	for id, track := range t.tracks {
		out[id] = track.Center
	}
	return out
}

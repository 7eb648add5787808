package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/occupancy.report/internal/counting"
	"github.com/banshee-data/occupancy.report/internal/db"
	"github.com/banshee-data/occupancy.report/internal/feed"
	"github.com/banshee-data/occupancy.report/internal/ingest"
	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

type recordedEvent struct {
	ev counting.Event
	at time.Time
}

type fakeStore struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (s *fakeStore) RecordCountEvent(ev counting.Event, at time.Time) (db.CountEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{ev, at})
	return db.CountEvent{EventType: string(ev.Type)}, s.err
}

func (s *fakeStore) recorded() []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedEvent(nil), s.events...)
}

type fakePublisher struct {
	mu      sync.Mutex
	updates []feed.Update
}

func (p *fakePublisher) Publish(u feed.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
}

func (p *fakePublisher) published() []feed.Update {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]feed.Update(nil), p.updates...)
}

var t0 = time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)

func det(x, y int) counting.Detection {
	return counting.NewDetection(x-10, y-10, x+10, y+10, 0.9, 2)
}

// entryFrames moves one vehicle down across the default entry line (144).
func entryFrames(start int64) []ingest.Frame {
	return []ingest.Frame{
		{Seq: start, Timestamp: t0.Add(time.Duration(start) * time.Second), Detections: []counting.Detection{det(320, 130)}},
		{Seq: start + 1, Timestamp: t0.Add(time.Duration(start+1) * time.Second), Detections: []counting.Detection{det(320, 150)}},
	}
}

func newRunner(t *testing.T, opts Options) *Runner {
	t.Helper()
	prev := monitoring.Logf
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(prev) })
	tr, err := counting.New(counting.DefaultConfig())
	require.NoError(t, err)
	return New(tr, opts)
}

func TestRun_RecordsAndPublishesEvents(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	r := newRunner(t, Options{Store: store, Publisher: pub, Capacity: 10})

	frames := make(chan ingest.Frame, 4)
	for _, f := range entryFrames(1) {
		frames <- f
	}
	close(frames)
	require.NoError(t, r.Run(context.Background(), frames))

	rec := store.recorded()
	require.Len(t, rec, 1)
	assert.Equal(t, counting.EventEntry, rec[0].ev.Type)
	assert.Equal(t, 0, rec[0].ev.VehicleID)
	assert.Equal(t, t0.Add(2*time.Second), rec[0].at)

	ups := pub.published()
	require.Len(t, ups, 1)
	require.NotNil(t, ups[0].Event)
	assert.Equal(t, 1, ups[0].Stats.CurrentCount)
	assert.Equal(t, 10, ups[0].Capacity)

	frameCount, eventCount := r.Counters()
	assert.Equal(t, uint64(2), frameCount)
	assert.Equal(t, uint64(1), eventCount)
}

func TestRun_SeveralEventsInOneFrame(t *testing.T) {
	pub := &fakePublisher{}
	r := newRunner(t, Options{Publisher: pub, Capacity: 10})

	frames := make(chan ingest.Frame, 2)
	frames <- ingest.Frame{Seq: 1, Timestamp: t0, Detections: []counting.Detection{det(100, 130), det(500, 130)}}
	frames <- ingest.Frame{Seq: 2, Timestamp: t0.Add(time.Second), Detections: []counting.Detection{det(100, 150), det(500, 150)}}
	close(frames)
	require.NoError(t, r.Run(context.Background(), frames))

	ups := pub.published()
	require.Len(t, ups, 2)
	for i, u := range ups {
		require.NotNil(t, u.Event)
		assert.Equal(t, i+1, u.Stats.TotalEntries, "update %d", i)
		assert.Equal(t, u.Event.Count, u.Stats.CurrentCount, "update %d", i)
		assert.Equal(t, 2, u.Stats.TrackedObjects)
	}
}

func TestRun_StampsFramesWithoutTimestamp(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	store := &fakeStore{}
	r := newRunner(t, Options{Store: store, Clock: clock})

	frames := make(chan ingest.Frame, 2)
	frames <- ingest.Frame{Seq: 1, Detections: []counting.Detection{det(320, 130)}}
	frames <- ingest.Frame{Seq: 2, Detections: []counting.Detection{det(320, 150)}}
	close(frames)
	require.NoError(t, r.Run(context.Background(), frames))

	rec := store.recorded()
	require.Len(t, rec, 1)
	assert.Equal(t, t0, rec[0].at)
}

func TestRun_StoreErrorIsNotFatal(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	pub := &fakePublisher{}
	r := newRunner(t, Options{Store: store, Publisher: pub})

	frames := make(chan ingest.Frame, 4)
	for _, f := range entryFrames(1) {
		frames <- f
	}
	// The same vehicle moves on; the track keeps processing.
	frames <- ingest.Frame{Seq: 3, Timestamp: t0, Detections: []counting.Detection{det(320, 170)}}
	close(frames)

	require.NoError(t, r.Run(context.Background(), frames))
	assert.Len(t, store.recorded(), 1)
	assert.Len(t, pub.published(), 1)
	frameCount, _ := r.Counters()
	assert.Equal(t, uint64(3), frameCount)
}

func TestRun_ControlOperations(t *testing.T) {
	clock := timeutil.NewMockClock(t0)
	pub := &fakePublisher{}
	r := newRunner(t, Options{Publisher: pub, Clock: clock})

	frames := make(chan ingest.Frame)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, frames) }()

	for _, f := range entryFrames(1) {
		frames <- f
	}

	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, counting.Stats{CurrentCount: 1, TotalEntries: 1, TrackedObjects: 1}, stats)

	tracks, err := r.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	assert.True(t, tracks[0].Counted)
	assert.Equal(t, counting.Point{X: 320, Y: 150}, tracks[0].Center)

	stats, err = r.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.CurrentCount)
	assert.Equal(t, 1, stats.TotalEntries)

	tracks, err = r.Snapshot(ctx)
	require.NoError(t, err)
	assert.False(t, tracks[0].Counted)

	assert.ErrorIs(t, r.SetCapacity(ctx, 0), db.ErrInvalidCapacity)
	require.NoError(t, r.SetCapacity(ctx, 25))
	assert.Equal(t, 25, r.Capacity())

	ups := pub.published()
	require.Len(t, ups, 3) // entry, reset, capacity
	assert.NotNil(t, ups[0].Event)
	assert.Nil(t, ups[1].Event)
	assert.Equal(t, t0, ups[1].Timestamp)
	assert.Equal(t, 25, ups[2].Capacity)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}

	_, err = r.Stats(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	_, err = r.Reset(context.Background())
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, r.SetCapacity(context.Background(), 40), ErrStopped)
	assert.Equal(t, 25, r.Capacity(), "a stopped runner keeps its capacity")
}

func TestControl_ContextTimeoutBeforeRun(t *testing.T) {
	r := newRunner(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Stats(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNew_Defaults(t *testing.T) {
	r := newRunner(t, Options{})
	assert.Equal(t, db.DefaultMaxCapacity, r.Capacity())
	assert.Equal(t, counting.ModeLineCrossing, r.Config().Mode)
}

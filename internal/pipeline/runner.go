// Package pipeline drives the counting engine from a frame source. A single
// goroutine owns the Tracker; every read or control operation is executed
// inside that goroutine between frames.
package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/banshee-data/occupancy.report/internal/counting"
	"github.com/banshee-data/occupancy.report/internal/db"
	"github.com/banshee-data/occupancy.report/internal/feed"
	"github.com/banshee-data/occupancy.report/internal/ingest"
	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

// ErrStopped is returned by control operations once Run has returned.
var ErrStopped = errors.New("pipeline stopped")

// EventStore persists count events.
type EventStore interface {
	RecordCountEvent(ev counting.Event, at time.Time) (db.CountEvent, error)
}

// Publisher receives live updates.
type Publisher interface {
	Publish(feed.Update)
}

// Options configures a Runner. Store and Publisher are optional.
type Options struct {
	Store     EventStore
	Publisher Publisher
	Clock     timeutil.Clock // stamps frames that carry no timestamp
	Capacity  int
}

// Runner feeds frames into a Tracker and fans the resulting events out to
// the store and publisher.
type Runner struct {
	tracker *counting.Tracker
	opts    Options

	capacity atomic.Int64
	frames   atomic.Uint64
	events   atomic.Uint64

	reqs chan func(*counting.Tracker)
	done chan struct{}
}

// New returns a Runner that owns tracker. The caller must not use tracker
// directly afterwards.
func New(tracker *counting.Tracker, opts Options) *Runner {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Capacity < 1 {
		opts.Capacity = db.DefaultMaxCapacity
	}
	r := &Runner{
		tracker: tracker,
		opts:    opts,
		reqs:    make(chan func(*counting.Tracker)),
		done:    make(chan struct{}),
	}
	r.capacity.Store(int64(opts.Capacity))
	return r
}

// Run processes frames until the channel is closed (returning nil) or ctx
// is done (returning ctx.Err()). Run may only be called once.
func (r *Runner) Run(ctx context.Context, frames <-chan ingest.Frame) error {
	defer close(r.done)

	monitoring.Logger().WithFields(logrus.Fields{
		"mode":       r.tracker.Config().Mode,
		"entry_line": r.tracker.Config().EntryLine,
		"exit_line":  r.tracker.Config().ExitLine,
		"capacity":   r.Capacity(),
	}).Info("pipeline started")

	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("pipeline stopping: %v", ctx.Err())
			return ctx.Err()
		case fn := <-r.reqs:
			fn(r.tracker)
		case f, ok := <-frames:
			if !ok {
				monitoring.Logf("frame source closed after %d frames", r.frames.Load())
				return nil
			}
			r.process(f)
		}
	}
}

func (r *Runner) process(f ingest.Frame) {
	r.frames.Add(1)
	ts := f.Timestamp
	if ts.IsZero() {
		ts = r.opts.Clock.Now()
	}

	_, events := r.tracker.Update(f.Detections)
	if len(events) == 0 {
		return
	}
	stats := countersBefore(r.tracker.Stats(), events)
	for i := range events {
		ev := events[i]
		r.events.Add(1)
		stats = stats.After(ev)

		fields := logrus.Fields{
			"frame":      f.Seq,
			"event":      ev.Type,
			"vehicle_id": ev.VehicleID,
			"count":      ev.Count,
		}
		if ev.Size != 0 {
			fields["size"] = ev.Size
			fields["size_change_pct"] = ev.SizeChangePct
		}
		monitoring.Logger().WithFields(fields).Info("count event")

		if r.opts.Store != nil {
			if _, err := r.opts.Store.RecordCountEvent(ev, ts); err != nil {
				monitoring.Logger().WithError(err).WithField("vehicle_id", ev.VehicleID).Error("failed to record count event")
			}
		}
		r.publish(ts, stats, &ev)
	}
}

// countersBefore backs the frame's events out of final so that each
// published update carries the counters as of its own event.
func countersBefore(final counting.Stats, events []counting.Event) counting.Stats {
	for _, ev := range events {
		switch ev.Type {
		case counting.EventEntry:
			final.TotalEntries--
		case counting.EventExit:
			final.TotalExits--
		}
	}
	return final
}

func (r *Runner) publish(ts time.Time, stats counting.Stats, ev *counting.Event) {
	if r.opts.Publisher == nil {
		return
	}
	r.opts.Publisher.Publish(feed.Update{
		Timestamp: ts,
		Stats:     stats,
		Capacity:  r.Capacity(),
		Event:     ev,
	})
}

// do runs fn on the Run goroutine and waits for it to finish.
func (r *Runner) do(ctx context.Context, fn func(*counting.Tracker)) error {
	finished := make(chan struct{})
	wrapped := func(t *counting.Tracker) {
		defer close(finished)
		fn(t)
	}
	select {
	case r.reqs <- wrapped:
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	<-finished
	return nil
}

// Stats returns the tracker counters.
func (r *Runner) Stats(ctx context.Context) (counting.Stats, error) {
	var s counting.Stats
	err := r.do(ctx, func(t *counting.Tracker) { s = t.Stats() })
	return s, err
}

// Snapshot returns copies of the live tracks.
func (r *Runner) Snapshot(ctx context.Context) ([]counting.TrackSnapshot, error) {
	var tracks []counting.TrackSnapshot
	err := r.do(ctx, func(t *counting.Tracker) { tracks = t.Tracks() })
	return tracks, err
}

// Reset zeroes the current count and re-arms live tracks, then publishes
// the new state.
func (r *Runner) Reset(ctx context.Context) (counting.Stats, error) {
	var s counting.Stats
	err := r.do(ctx, func(t *counting.Tracker) {
		t.Reset()
		s = t.Stats()
	})
	if err != nil {
		return s, err
	}
	monitoring.Logger().WithField("total_entries", s.TotalEntries).WithField("total_exits", s.TotalExits).Info("occupancy reset")
	r.publish(r.opts.Clock.Now(), s, nil)
	return s, nil
}

// SetCapacity changes the capacity reported in updates and publishes the
// new state. n must be at least 1.
func (r *Runner) SetCapacity(ctx context.Context, n int) error {
	if n < 1 {
		return db.ErrInvalidCapacity
	}
	var s counting.Stats
	err := r.do(ctx, func(t *counting.Tracker) {
		r.capacity.Store(int64(n))
		s = t.Stats()
	})
	if err != nil {
		return err
	}
	r.publish(r.opts.Clock.Now(), s, nil)
	return nil
}

// Capacity returns the current maximum capacity.
func (r *Runner) Capacity() int {
	return int(r.capacity.Load())
}

// Config returns the tracker configuration. It is immutable so it is safe
// to read from any goroutine.
func (r *Runner) Config() counting.Config {
	return r.tracker.Config()
}

// Counters reports how many frames and events have been processed.
func (r *Runner) Counters() (frames, events uint64) {
	return r.frames.Load(), r.events.Load()
}

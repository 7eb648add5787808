// Package counting owns the tracking and counting engine.
//
// Responsibilities: frame-to-frame identity assignment of unidentified
// bounding-box detections (nearest centroid under a distance gate), the
// entry/exit state machine in either line-crossing or perspective
// (size-trend) mode, track lifecycle (registration, disappearance aging,
// deregistration) and the aggregate occupancy counter.
// Key types: Tracker, Detection, Event, Stats.
//
// The engine is a synchronous, pure transformation. It performs no I/O,
// never logs, and holds no lock: a Tracker must be owned by exactly one
// goroutine (see internal/pipeline for the single-consumer loop).
package counting

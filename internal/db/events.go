package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/occupancy.report/internal/counting"
)

// CountEvent is a persisted Entry or Exit.
type CountEvent struct {
	EventID       string   `db:"event_id" json:"event_id"`
	EventType     string   `db:"event_type" json:"event_type"`
	VehicleID     int      `db:"vehicle_id" json:"vehicle_id"`
	CurrentCount  int      `db:"current_count" json:"current_count"`
	Size          *int     `db:"size" json:"size,omitempty"`
	SizeChangePct *float64 `db:"size_change_pct" json:"size_change_pct,omitempty"`
	CreatedAt     int64    `db:"created_at" json:"created_at"` // unix seconds
}

// Time returns CreatedAt as a UTC time.
func (e CountEvent) Time() time.Time {
	return time.Unix(e.CreatedAt, 0).UTC()
}

// DayCounts summarises one calendar day.
type DayCounts struct {
	Entries int `db:"entries" json:"entries"`
	Exits   int `db:"exits" json:"exits"`
}

// HourlyCount is the number of events in one clock hour.
type HourlyCount struct {
	Hour    int64 `db:"hour" json:"hour"` // unix seconds at the start of the hour
	Entries int   `db:"entries" json:"entries"`
	Exits   int   `db:"exits" json:"exits"`
}

// OccupancyPoint is the occupancy recorded with an event.
type OccupancyPoint struct {
	CreatedAt    int64 `db:"created_at" json:"created_at"`
	CurrentCount int   `db:"current_count" json:"current_count"`
}

// RecordCountEvent persists ev with a fresh UUID and returns the stored row.
// Size and size change are stored only for perspective-mode events.
func (db *DB) RecordCountEvent(ev counting.Event, at time.Time) (CountEvent, error) {
	row := CountEvent{
		EventID:      uuid.NewString(),
		EventType:    string(ev.Type),
		VehicleID:    ev.VehicleID,
		CurrentCount: ev.Count,
		CreatedAt:    at.Unix(),
	}
	if ev.Size != 0 {
		size := ev.Size
		pct := ev.SizeChangePct
		row.Size = &size
		row.SizeChangePct = &pct
	}

	_, err := db.x.NamedExec(`
		INSERT INTO count_events (
			event_id, event_type, vehicle_id, current_count, size, size_change_pct, created_at
		) VALUES (
			:event_id, :event_type, :vehicle_id, :current_count, :size, :size_change_pct, :created_at
		)`, row)
	if err != nil {
		return CountEvent{}, fmt.Errorf("failed to insert count event: %w", err)
	}
	return row, nil
}

// RecentCountEvents returns up to limit events, newest first.
func (db *DB) RecentCountEvents(limit int) ([]CountEvent, error) {
	events := []CountEvent{}
	err := db.x.Select(&events, `
		SELECT event_id, event_type, vehicle_id, current_count, size, size_change_pct, created_at
		FROM count_events
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query count events: %w", err)
	}
	return events, nil
}

// CountsForDay returns the entries and exits recorded on the calendar day
// containing day, in day's location.
func (db *DB) CountsForDay(day time.Time) (DayCounts, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	var counts DayCounts
	err := db.x.Get(&counts, `
		SELECT
			COALESCE(SUM(CASE WHEN event_type = 'entry' THEN 1 ELSE 0 END), 0) AS entries,
			COALESCE(SUM(CASE WHEN event_type = 'exit' THEN 1 ELSE 0 END), 0) AS exits
		FROM count_events
		WHERE created_at >= ? AND created_at < ?`, start.Unix(), end.Unix())
	if err != nil {
		return DayCounts{}, fmt.Errorf("failed to query day counts: %w", err)
	}
	return counts, nil
}

// HourlyCounts buckets events since the given time into clock hours (UTC),
// oldest first. Hours with no events are omitted.
func (db *DB) HourlyCounts(since time.Time) ([]HourlyCount, error) {
	hours := []HourlyCount{}
	err := db.x.Select(&hours, `
		SELECT
			(created_at / 3600) * 3600 AS hour,
			SUM(CASE WHEN event_type = 'entry' THEN 1 ELSE 0 END) AS entries,
			SUM(CASE WHEN event_type = 'exit' THEN 1 ELSE 0 END) AS exits
		FROM count_events
		WHERE created_at >= ?
		GROUP BY hour
		ORDER BY hour`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query hourly counts: %w", err)
	}
	return hours, nil
}

// OccupancySeries returns the occupancy after each event since the given
// time, oldest first.
func (db *DB) OccupancySeries(since time.Time) ([]OccupancyPoint, error) {
	points := []OccupancyPoint{}
	err := db.x.Select(&points, `
		SELECT created_at, current_count
		FROM count_events
		WHERE created_at >= ?
		ORDER BY created_at, rowid`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query occupancy series: %w", err)
	}
	return points, nil
}

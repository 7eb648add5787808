// Package feed fans live occupancy updates out to SSE and gRPC watchers.
package feed

import (
	"math"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/occupancy.report/internal/counting"
)

// Update is one live occupancy notification. Event is nil for updates
// caused by a reset or a capacity change.
type Update struct {
	Timestamp time.Time       `json:"timestamp"`
	Stats     counting.Stats  `json:"stats"`
	Capacity  int             `json:"max_capacity"`
	Event     *counting.Event `json:"event,omitempty"`
}

// OccupancyPercent returns current count over capacity, rounded to one
// decimal place. It is 0 when capacity is unset.
func (u Update) OccupancyPercent() float64 {
	return OccupancyPercent(u.Stats.CurrentCount, u.Capacity)
}

// OccupancyPercent returns occupied/capacity as a percentage rounded to 0.1.
func OccupancyPercent(occupied, capacity int) float64 {
	if capacity <= 0 {
		return 0
	}
	return math.Round(float64(occupied)/float64(capacity)*1000) / 10
}

// Struct converts u to the protobuf Struct streamed by CountFeed/Watch.
func (u Update) Struct() (*structpb.Struct, error) {
	fields := map[string]any{
		"timestamp":         u.Timestamp.UTC().Format(time.RFC3339Nano),
		"current_count":     u.Stats.CurrentCount,
		"total_entries":     u.Stats.TotalEntries,
		"total_exits":       u.Stats.TotalExits,
		"tracked_objects":   u.Stats.TrackedObjects,
		"max_capacity":      u.Capacity,
		"occupancy_percent": u.OccupancyPercent(),
	}
	if ev := u.Event; ev != nil {
		event := map[string]any{
			"type":       string(ev.Type),
			"vehicle_id": ev.VehicleID,
			"count":      ev.Count,
		}
		if ev.Size != 0 {
			event["size"] = ev.Size
			event["size_change_pct"] = ev.SizeChangePct
		}
		fields["event"] = event
	}
	return structpb.NewStruct(fields)
}

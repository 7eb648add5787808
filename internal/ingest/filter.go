package ingest

import (
	"slices"

	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/counting"
)

// Filter drops detections the counter should not see.
type Filter struct {
	MinConfidence float64
	Classes       []int // empty keeps every class
}

// FilterFromSite builds a Filter from the site's detection settings.
func FilterFromSite(site *config.SiteConfig) Filter {
	return Filter{
		MinConfidence: site.GetMinConfidence(),
		Classes:       site.GetVehicleClasses(),
	}
}

// Apply returns the detections at or above MinConfidence whose class is in
// Classes. The input slice is not modified.
func (f Filter) Apply(dets []counting.Detection) []counting.Detection {
	out := make([]counting.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Confidence < f.MinConfidence {
			continue
		}
		if len(f.Classes) > 0 && !slices.Contains(f.Classes, d.ClassID) {
			continue
		}
		out = append(out, d)
	}
	return out
}

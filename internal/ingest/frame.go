// Package ingest decodes the detector's line-oriented JSON feed into frames
// of counting.Detection.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/banshee-data/occupancy.report/internal/counting"
)

var (
	// ErrNoDetections is returned when a line carries no detections array
	// and so is not a frame.
	ErrNoDetections = errors.New("payload has no detections array")
	// ErrMalformedDetection is returned for a detection with neither a
	// bbox nor a center.
	ErrMalformedDetection = errors.New("detection needs a bbox or a center")
)

// Frame is one detector output: every detection seen in a single image.
type Frame struct {
	Seq        int64
	Timestamp  time.Time // zero when the detector did not stamp the frame
	Detections []counting.Detection
}

type wireDetection struct {
	BBox       [4]int  `json:"bbox"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	Center     [2]int  `json:"center"`
	Area       int     `json:"area"`
}

type wireFrame struct {
	Seq        int64           `json:"frame"`
	Timestamp  string          `json:"ts,omitempty"`
	Detections []wireDetection `json:"detections"`
}

// Encode renders f in the wire format accepted by Decode.
func Encode(f Frame) ([]byte, error) {
	w := wireFrame{Seq: f.Seq, Detections: make([]wireDetection, 0, len(f.Detections))}
	if !f.Timestamp.IsZero() {
		w.Timestamp = f.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	for _, d := range f.Detections {
		w.Detections = append(w.Detections, wireDetection{
			BBox:       d.BBox,
			Confidence: d.Confidence,
			ClassID:    d.ClassID,
			Center:     [2]int{d.Center.X, d.Center.Y},
			Area:       d.Area,
		})
	}
	return json.Marshal(w)
}

// Decode parses one feed line. A missing center is derived from the bbox
// midpoint and a missing area from the bbox; negative areas become 0.
func Decode(line []byte) (Frame, error) {
	if !gjson.ValidBytes(line) {
		return Frame{}, fmt.Errorf("invalid JSON payload")
	}
	root := gjson.ParseBytes(line)

	dets := root.Get("detections")
	if !dets.IsArray() {
		return Frame{}, ErrNoDetections
	}

	f := Frame{Seq: root.Get("frame").Int()}
	if ts := root.Get("ts"); ts.Exists() {
		t, err := time.Parse(time.RFC3339Nano, ts.String())
		if err != nil {
			return Frame{}, fmt.Errorf("invalid frame timestamp %q: %w", ts.String(), err)
		}
		f.Timestamp = t
	}

	items := dets.Array()
	f.Detections = make([]counting.Detection, 0, len(items))
	for i, item := range items {
		d, err := decodeDetection(item)
		if err != nil {
			return Frame{}, fmt.Errorf("detection %d: %w", i, err)
		}
		f.Detections = append(f.Detections, d)
	}
	return f, nil
}

func decodeDetection(item gjson.Result) (counting.Detection, error) {
	bbox := ints(item.Get("bbox"))
	center := ints(item.Get("center"))
	hasBBox := len(bbox) == 4
	hasCenter := len(center) == 2
	if !hasBBox && !hasCenter {
		return counting.Detection{}, ErrMalformedDetection
	}

	d := counting.Detection{
		Confidence: item.Get("confidence").Float(),
		ClassID:    int(item.Get("class_id").Int()),
	}
	if hasBBox {
		copy(d.BBox[:], bbox)
		d.Center = counting.BBoxCenter(bbox[0], bbox[1], bbox[2], bbox[3])
		d.Area = counting.BBoxArea(bbox[0], bbox[1], bbox[2], bbox[3])
	}
	if hasCenter {
		d.Center = counting.Point{X: center[0], Y: center[1]}
	}
	if area := item.Get("area"); area.Exists() {
		d.Area = int(area.Int())
	}
	if d.Area < 0 {
		d.Area = 0
	}
	return d, nil
}

func ints(r gjson.Result) []int {
	if !r.IsArray() {
		return nil
	}
	var out []int
	r.ForEach(func(_, value gjson.Result) bool {
		out = append(out, int(value.Int()))
		return true
	})
	return out
}

// Package simulator generates synthetic detection frames for development
// and demos when no detector appliance is attached.
package simulator

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/banshee-data/occupancy.report/internal/counting"
	"github.com/banshee-data/occupancy.report/internal/ingest"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
)

// Config controls the synthetic scene.
type Config struct {
	Width, Height int
	Mode          counting.Mode
	EntryLine     int // line mode only
	ExitLine      int // line mode only

	Speed            int     // pixels per frame, line mode
	SpawnProbability float64 // per frame, when below MaxVehicles
	MaxVehicles      int
	ClassIDs         []int
	Seed             uint64
}

// DefaultConfig returns a scene matching the tracker's lines.
func DefaultConfig(width, height int, tc counting.Config) Config {
	return Config{
		Width:            width,
		Height:           height,
		Mode:             tc.Mode,
		EntryLine:        tc.EntryLine,
		ExitLine:         tc.ExitLine,
		Speed:            8,
		SpawnProbability: 0.05,
		MaxVehicles:      3,
		ClassIDs:         []int{2, 2, 2, 3, 5, 7}, // mostly cars
		Seed:             1,
	}
}

// Perspective-mode growth per frame and the area band a vehicle lives in.
const (
	approachGrowth = 1.15
	recedeGrowth   = 0.85
	minArea        = 800.0
	maxArea        = 12000.0
)

type vehicle struct {
	x, y    int
	w, h    int
	dy      int
	area    float64
	growth  float64
	classID int
}

// Simulator produces one frame per Step. It is not safe for concurrent use.
type Simulator struct {
	cfg      Config
	rng      *rand.Rand
	vehicles []*vehicle
	seq      int64
}

// New returns a Simulator seeded from cfg.Seed.
func New(cfg Config) *Simulator {
	if cfg.Speed <= 0 {
		cfg.Speed = 8
	}
	if cfg.MaxVehicles <= 0 {
		cfg.MaxVehicles = 1
	}
	if len(cfg.ClassIDs) == 0 {
		cfg.ClassIDs = []int{2}
	}
	return &Simulator{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
	}
}

// Step advances the scene by one frame and returns its detections.
func (s *Simulator) Step() ingest.Frame {
	if len(s.vehicles) < s.cfg.MaxVehicles && s.rng.Float64() < s.cfg.SpawnProbability {
		s.spawn()
	}

	live := s.vehicles[:0]
	for _, v := range s.vehicles {
		if s.move(v) {
			live = append(live, v)
		}
	}
	s.vehicles = live

	s.seq++
	f := ingest.Frame{Seq: s.seq, Detections: make([]counting.Detection, 0, len(s.vehicles))}
	for _, v := range s.vehicles {
		x1, y1 := v.x-v.w/2, v.y-v.h/2
		d := counting.NewDetection(x1, y1, x1+v.w, y1+v.h, 0.6+0.4*s.rng.Float64(), v.classID)
		f.Detections = append(f.Detections, d)
	}
	return f
}

func (s *Simulator) spawn() {
	v := &vehicle{
		x:       60 + s.rng.IntN(max(1, s.cfg.Width-120)),
		classID: s.cfg.ClassIDs[s.rng.IntN(len(s.cfg.ClassIDs))],
	}
	inbound := s.rng.IntN(2) == 0

	if s.cfg.Mode == counting.ModePerspective {
		v.y = s.cfg.Height / 2
		if inbound {
			v.area, v.growth, v.dy = 1500, approachGrowth, 2
		} else {
			v.area, v.growth, v.dy = 9000, recedeGrowth, -2
		}
		v.w, v.h = boxFor(v.area)
	} else {
		v.w, v.h = 60, 40
		if inbound {
			v.y, v.dy = max(0, s.cfg.EntryLine-3*s.cfg.Speed), s.cfg.Speed
		} else {
			v.y, v.dy = min(s.cfg.Height, s.cfg.ExitLine+3*s.cfg.Speed), -s.cfg.Speed
		}
	}
	s.vehicles = append(s.vehicles, v)
}

// move advances v and reports whether it is still in view.
func (s *Simulator) move(v *vehicle) bool {
	v.y += v.dy
	if s.cfg.Mode == counting.ModePerspective {
		v.area *= v.growth
		v.w, v.h = boxFor(v.area)
		return v.area >= minArea && v.area <= maxArea
	}
	return v.y >= 0 && v.y <= s.cfg.Height
}

// boxFor returns a 3:2 box of roughly the given area.
func boxFor(area float64) (int, int) {
	h := math.Sqrt(area / 1.5)
	return int(math.Round(h * 1.5)), int(math.Round(h))
}

// Run emits a frame every interval, stamped with clock, until ctx is done.
func (s *Simulator) Run(ctx context.Context, clock timeutil.Clock, interval time.Duration, out chan<- ingest.Frame) error {
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
		}

		f := s.Step()
		f.Timestamp = clock.Now()
		select {
		case out <- f:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

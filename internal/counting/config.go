package counting

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/banshee-data/occupancy.report/internal/config"
)

// Mode selects the crossing rule. It is fixed when the Tracker is built.
type Mode string

const (
	ModeLineCrossing Mode = "line_crossing"  // top-down view, two horizontal lines
	ModePerspective  Mode = "perspective_3d" // oblique view, apparent size trend
)

// Assignment selects the track-to-detection matching strategy.
type Assignment string

const (
	AssignGreedy    Assignment = "greedy"    // row-priority nearest centroid
	AssignHungarian Assignment = "hungarian" // minimum total distance
)

// Engine constants. These are not configurable.
const (
	// GateDistance is the maximum centroid distance (pixels) for a detection
	// to continue an existing track.
	GateDistance = 100.0
	// PositionHistoryLength bounds each track's position trail.
	PositionHistoryLength = 10
	// MinTrendSamples is the number of size samples needed before a
	// perspective-mode track is evaluated.
	MinTrendSamples = 3
)

// ErrInvalidConfig is wrapped by every Config validation failure.
var ErrInvalidConfig = errors.New("invalid counting config")

// Config holds the construction-time parameters of a Tracker. It is
// copied into the Tracker and never mutated afterwards.
type Config struct {
	EntryLine      int  // image Y of the entry line (line_crossing)
	ExitLine       int  // image Y of the exit line (line_crossing)
	MaxDisappeared int  // consecutive unmatched frames tolerated
	Mode           Mode // line_crossing or perspective_3d

	// Perspective params
	SizeThresholdEntry     int     // area (px²) an entering object must exceed
	SizeThresholdExit      int     // area (px²) an exiting object must fall below
	SizeTrendFrames        int     // size-trend window length, ≥ MinTrendSamples
	SizeChangeThresholdPct float64 // minimum |% change| across the window

	InitialCount int        // occupancy at start-up
	Assignment   Assignment // empty means AssignGreedy
}

// DefaultConfig returns the defaults used by the reference deployment: a
// 640x480 camera with lines at 30% and 70% of the frame height.
func DefaultConfig() Config {
	return Config{
		EntryLine:              144,
		ExitLine:               336,
		MaxDisappeared:         30,
		Mode:                   ModeLineCrossing,
		SizeThresholdEntry:     5000,
		SizeThresholdExit:      2000,
		SizeTrendFrames:        5,
		SizeChangeThresholdPct: 30.0,
		InitialCount:           0,
		Assignment:             AssignGreedy,
	}
}

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeLineCrossing, "":
		return ModeLineCrossing, nil
	case ModePerspective:
		return ModePerspective, nil
	default:
		return "", fmt.Errorf("%w: unknown tracking mode %q", ErrInvalidConfig, s)
	}
}

// ParseAssignment converts a configuration string into an Assignment.
func ParseAssignment(s string) (Assignment, error) {
	switch Assignment(strings.ToLower(strings.TrimSpace(s))) {
	case AssignGreedy, "":
		return AssignGreedy, nil
	case AssignHungarian:
		return AssignHungarian, nil
	default:
		return "", fmt.Errorf("%w: unknown assignment %q", ErrInvalidConfig, s)
	}
}

// Validate rejects configurations that would silently suppress events.
func (c Config) Validate() error {
	if c.Mode != ModeLineCrossing && c.Mode != ModePerspective {
		return fmt.Errorf("%w: unknown tracking mode %q", ErrInvalidConfig, c.Mode)
	}
	if c.Assignment != "" && c.Assignment != AssignGreedy && c.Assignment != AssignHungarian {
		return fmt.Errorf("%w: unknown assignment %q", ErrInvalidConfig, c.Assignment)
	}
	if c.EntryLine < 0 || c.ExitLine < 0 {
		return fmt.Errorf("%w: lines must be non-negative, got entry=%d exit=%d", ErrInvalidConfig, c.EntryLine, c.ExitLine)
	}
	if c.MaxDisappeared < 0 {
		return fmt.Errorf("%w: max_disappeared must be non-negative, got %d", ErrInvalidConfig, c.MaxDisappeared)
	}
	if c.SizeTrendFrames < MinTrendSamples {
		return fmt.Errorf("%w: size_trend_frames must be at least %d, got %d", ErrInvalidConfig, MinTrendSamples, c.SizeTrendFrames)
	}
	if c.SizeThresholdEntry < 0 || c.SizeThresholdExit < 0 {
		return fmt.Errorf("%w: size thresholds must be non-negative, got entry=%d exit=%d", ErrInvalidConfig, c.SizeThresholdEntry, c.SizeThresholdExit)
	}
	if c.SizeChangeThresholdPct < 0 {
		return fmt.Errorf("%w: size_change_threshold_pct must be non-negative, got %f", ErrInvalidConfig, c.SizeChangeThresholdPct)
	}
	if c.InitialCount < 0 {
		return fmt.Errorf("%w: initial_count must be non-negative, got %d", ErrInvalidConfig, c.InitialCount)
	}
	return nil
}

// ConfigFromSite builds a Config from a loaded SiteConfig. Line ratios are
// converted to the nearest pixel row of the configured camera height and the initial
// occupancy percentage is applied to maxCapacity.
func ConfigFromSite(site *config.SiteConfig, maxCapacity int) (Config, error) {
	mode, err := ParseMode(site.GetTrackingMode())
	if err != nil {
		return Config{}, err
	}
	assignment, err := ParseAssignment(site.GetAssignment())
	if err != nil {
		return Config{}, err
	}
	height := float64(site.GetCameraHeight())
	cfg := Config{
		EntryLine:              int(math.Round(height * site.GetEntryLineRatio())),
		ExitLine:               int(math.Round(height * site.GetExitLineRatio())),
		MaxDisappeared:         site.GetMaxDisappearedFrames(),
		Mode:                   mode,
		SizeThresholdEntry:     site.GetSizeThresholdEntry(),
		SizeThresholdExit:      site.GetSizeThresholdExit(),
		SizeTrendFrames:        site.GetSizeTrendFrames(),
		SizeChangeThresholdPct: site.GetSizeChangeThresholdPct(),
		InitialCount:           int(float64(maxCapacity) * site.GetInitialOccupancyPercent() / 100),
		Assignment:             assignment,
	}
	return cfg, cfg.Validate()
}

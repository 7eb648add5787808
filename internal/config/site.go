package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // appliance images ship without a zoneinfo database
)

// DefaultConfigPath is the path to the canonical site defaults file.
const DefaultConfigPath = "config/site.defaults.json"

// SiteConfig represents the deployment configuration of one counting site.
// Every field is optional; the Get* methods supply defaults for omitted
// values so partial files are safe.
type SiteConfig struct {
	// Camera geometry
	CameraWidth    *int     `json:"camera_width,omitempty"`
	CameraHeight   *int     `json:"camera_height,omitempty"`
	EntryLineRatio *float64 `json:"entry_line_ratio,omitempty"`
	ExitLineRatio  *float64 `json:"exit_line_ratio,omitempty"`

	// Tracking params
	TrackingMode         *string `json:"tracking_mode,omitempty"` // line_crossing | perspective_3d
	Assignment           *string `json:"assignment,omitempty"`    // greedy | hungarian
	MaxDisappearedFrames *int    `json:"max_disappeared_frames,omitempty"`

	// Perspective params
	SizeThresholdEntry     *int     `json:"size_threshold_entry,omitempty"`
	SizeThresholdExit      *int     `json:"size_threshold_exit,omitempty"`
	SizeTrendFrames        *int     `json:"size_trend_frames,omitempty"`
	SizeChangeThresholdPct *float64 `json:"size_change_threshold_pct,omitempty"`

	// Detection filter
	MinConfidence  *float64 `json:"min_confidence,omitempty"`
	VehicleClasses []int    `json:"vehicle_classes,omitempty"`

	// Parking
	InitialOccupancyPercent *float64 `json:"initial_occupancy_percent,omitempty"`
	DefaultMaxCapacity      *int     `json:"default_max_capacity,omitempty"`

	// Reporting
	Timezone *string `json:"timezone,omitempty"` // IANA name used for daily totals

	// Simulator
	FrameInterval *string `json:"frame_interval,omitempty"` // duration string like "100ms"
}

// EmptySiteConfig returns a SiteConfig with all fields unset.
func EmptySiteConfig() *SiteConfig {
	return &SiteConfig{}
}

// LoadSiteConfig loads a SiteConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadSiteConfig(path string) (*SiteConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySiteConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents up to the repository root.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *SiteConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadSiteConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configured values are usable.
func (c *SiteConfig) Validate() error {
	if c.CameraWidth != nil && *c.CameraWidth <= 0 {
		return fmt.Errorf("camera_width must be positive, got %d", *c.CameraWidth)
	}
	if c.CameraHeight != nil && *c.CameraHeight <= 0 {
		return fmt.Errorf("camera_height must be positive, got %d", *c.CameraHeight)
	}
	for name, ratio := range map[string]*float64{
		"entry_line_ratio": c.EntryLineRatio,
		"exit_line_ratio":  c.ExitLineRatio,
	} {
		if ratio != nil && (*ratio < 0 || *ratio > 1) {
			return fmt.Errorf("%s must be between 0 and 1, got %f", name, *ratio)
		}
	}

	if c.TrackingMode != nil {
		switch strings.ToLower(*c.TrackingMode) {
		case "line_crossing", "perspective_3d":
		default:
			return fmt.Errorf("tracking_mode must be line_crossing or perspective_3d, got %q", *c.TrackingMode)
		}
	}
	if c.Assignment != nil {
		switch strings.ToLower(*c.Assignment) {
		case "greedy", "hungarian":
		default:
			return fmt.Errorf("assignment must be greedy or hungarian, got %q", *c.Assignment)
		}
	}

	if c.MaxDisappearedFrames != nil && *c.MaxDisappearedFrames < 0 {
		return fmt.Errorf("max_disappeared_frames must be non-negative, got %d", *c.MaxDisappearedFrames)
	}
	if c.SizeTrendFrames != nil && *c.SizeTrendFrames < 3 {
		return fmt.Errorf("size_trend_frames must be at least 3, got %d", *c.SizeTrendFrames)
	}
	if c.SizeThresholdEntry != nil && *c.SizeThresholdEntry < 0 {
		return fmt.Errorf("size_threshold_entry must be non-negative, got %d", *c.SizeThresholdEntry)
	}
	if c.SizeThresholdExit != nil && *c.SizeThresholdExit < 0 {
		return fmt.Errorf("size_threshold_exit must be non-negative, got %d", *c.SizeThresholdExit)
	}
	if c.SizeChangeThresholdPct != nil && *c.SizeChangeThresholdPct < 0 {
		return fmt.Errorf("size_change_threshold_pct must be non-negative, got %f", *c.SizeChangeThresholdPct)
	}

	if c.MinConfidence != nil && (*c.MinConfidence < 0 || *c.MinConfidence > 1) {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %f", *c.MinConfidence)
	}
	if c.InitialOccupancyPercent != nil && (*c.InitialOccupancyPercent < 0 || *c.InitialOccupancyPercent > 100) {
		return fmt.Errorf("initial_occupancy_percent must be between 0 and 100, got %f", *c.InitialOccupancyPercent)
	}
	if c.DefaultMaxCapacity != nil && *c.DefaultMaxCapacity < 1 {
		return fmt.Errorf("default_max_capacity must be at least 1, got %d", *c.DefaultMaxCapacity)
	}

	if c.Timezone != nil && *c.Timezone != "" {
		if _, err := time.LoadLocation(*c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", *c.Timezone, err)
		}
	}

	if c.FrameInterval != nil && *c.FrameInterval != "" {
		if _, err := time.ParseDuration(*c.FrameInterval); err != nil {
			return fmt.Errorf("invalid frame_interval '%s': %w", *c.FrameInterval, err)
		}
	}

	return nil
}

// GetCameraWidth returns the camera_width value or the default.
func (c *SiteConfig) GetCameraWidth() int {
	if c.CameraWidth == nil {
		return 640
	}
	return *c.CameraWidth
}

// GetCameraHeight returns the camera_height value or the default.
func (c *SiteConfig) GetCameraHeight() int {
	if c.CameraHeight == nil {
		return 480
	}
	return *c.CameraHeight
}

// GetEntryLineRatio returns the entry_line_ratio value or the default.
func (c *SiteConfig) GetEntryLineRatio() float64 {
	if c.EntryLineRatio == nil {
		return 0.3
	}
	return *c.EntryLineRatio
}

// GetExitLineRatio returns the exit_line_ratio value or the default.
func (c *SiteConfig) GetExitLineRatio() float64 {
	if c.ExitLineRatio == nil {
		return 0.7
	}
	return *c.ExitLineRatio
}

// GetTrackingMode returns the tracking_mode value or the default.
func (c *SiteConfig) GetTrackingMode() string {
	if c.TrackingMode == nil || *c.TrackingMode == "" {
		return "line_crossing"
	}
	return *c.TrackingMode
}

// GetAssignment returns the assignment value or the default.
func (c *SiteConfig) GetAssignment() string {
	if c.Assignment == nil || *c.Assignment == "" {
		return "greedy"
	}
	return *c.Assignment
}

// GetMaxDisappearedFrames returns the max_disappeared_frames value or the default.
func (c *SiteConfig) GetMaxDisappearedFrames() int {
	if c.MaxDisappearedFrames == nil {
		return 30
	}
	return *c.MaxDisappearedFrames
}

// GetSizeThresholdEntry returns the size_threshold_entry value or the default.
func (c *SiteConfig) GetSizeThresholdEntry() int {
	if c.SizeThresholdEntry == nil {
		return 5000
	}
	return *c.SizeThresholdEntry
}

// GetSizeThresholdExit returns the size_threshold_exit value or the default.
func (c *SiteConfig) GetSizeThresholdExit() int {
	if c.SizeThresholdExit == nil {
		return 2000
	}
	return *c.SizeThresholdExit
}

// GetSizeTrendFrames returns the size_trend_frames value or the default.
func (c *SiteConfig) GetSizeTrendFrames() int {
	if c.SizeTrendFrames == nil {
		return 5
	}
	return *c.SizeTrendFrames
}

// GetSizeChangeThresholdPct returns the size_change_threshold_pct value or the default.
func (c *SiteConfig) GetSizeChangeThresholdPct() float64 {
	if c.SizeChangeThresholdPct == nil {
		return 30.0
	}
	return *c.SizeChangeThresholdPct
}

// GetMinConfidence returns the min_confidence value or the default.
func (c *SiteConfig) GetMinConfidence() float64 {
	if c.MinConfidence == nil {
		return 0.5
	}
	return *c.MinConfidence
}

// GetVehicleClasses returns the vehicle_classes value or the COCO vehicle
// classes (car, motorcycle, bus, truck).
func (c *SiteConfig) GetVehicleClasses() []int {
	if len(c.VehicleClasses) == 0 {
		return []int{2, 3, 5, 7}
	}
	return c.VehicleClasses
}

// GetInitialOccupancyPercent returns the initial_occupancy_percent value or the default.
func (c *SiteConfig) GetInitialOccupancyPercent() float64 {
	if c.InitialOccupancyPercent == nil {
		return 0
	}
	return *c.InitialOccupancyPercent
}

// GetDefaultMaxCapacity returns the default_max_capacity value or the default.
func (c *SiteConfig) GetDefaultMaxCapacity() int {
	if c.DefaultMaxCapacity == nil {
		return 100
	}
	return *c.DefaultMaxCapacity
}

// GetTimezone returns the timezone value or "UTC".
func (c *SiteConfig) GetTimezone() string {
	if c.Timezone == nil || *c.Timezone == "" {
		return "UTC"
	}
	return *c.Timezone
}

// GetLocation loads GetTimezone. An unloadable name falls back to UTC;
// Validate reports it.
func (c *SiteConfig) GetLocation() *time.Location {
	loc, err := time.LoadLocation(c.GetTimezone())
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetFrameInterval parses and returns the FrameInterval as a time.Duration.
func (c *SiteConfig) GetFrameInterval() time.Duration {
	if c.FrameInterval == nil || *c.FrameInterval == "" {
		return 100 * time.Millisecond
	}
	d, err := time.ParseDuration(*c.FrameInterval)
	if err != nil {
		return 100 * time.Millisecond // default on parse error
	}
	return d
}

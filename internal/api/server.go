// Package api serves the occupancy HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/banshee-data/occupancy.report/internal/counting"
	"github.com/banshee-data/occupancy.report/internal/db"
	"github.com/banshee-data/occupancy.report/internal/feed"
	"github.com/banshee-data/occupancy.report/internal/httputil"
	"github.com/banshee-data/occupancy.report/internal/monitoring"
	"github.com/banshee-data/occupancy.report/internal/overlay"
	"github.com/banshee-data/occupancy.report/internal/pipeline"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
	"github.com/banshee-data/occupancy.report/internal/version"
)

// Event listing limits.
const (
	DefaultEventLimit = 100
	MaxEventLimit     = 1000
)

// Engine is the live counting state, normally a *pipeline.Runner.
type Engine interface {
	Stats(ctx context.Context) (counting.Stats, error)
	Snapshot(ctx context.Context) ([]counting.TrackSnapshot, error)
	Reset(ctx context.Context) (counting.Stats, error)
	SetCapacity(ctx context.Context, n int) error
	Capacity() int
	Config() counting.Config
}

// Store is the persisted history, normally a *db.DB.
type Store interface {
	RecentCountEvents(limit int) ([]db.CountEvent, error)
	CountsForDay(day time.Time) (db.DayCounts, error)
	HourlyCounts(since time.Time) ([]db.HourlyCount, error)
	OccupancySeries(since time.Time) ([]db.OccupancyPoint, error)
	SetMaxCapacity(n int) error
}

// Options holds presentation settings.
type Options struct {
	Width, Height int // camera frame size used for the overlay
	Clock         timeutil.Clock
	Location      *time.Location // day boundary for /api/stats/today
}

type Server struct {
	engine Engine
	store  Store
	hub    *feed.Hub
	opts   Options
}

func NewServer(engine Engine, store Store, hub *feed.Hub, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Width <= 0 {
		opts.Width = 640
	}
	if opts.Height <= 0 {
		opts.Height = 480
	}
	return &Server{engine: engine, store: store, hub: hub, opts: opts}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// LoggingMiddleware logs method, path, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logger().WithFields(logrus.Fields{
			"method":      r.Method,
			"uri":         r.RequestURI,
			"status":      lrw.statusCode,
			"duration_ms": float64(time.Since(start).Nanoseconds()) / 1e6,
		}).Info("http request")
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/stats/today", s.showToday)
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/reset", s.resetCount)
	mux.HandleFunc("/api/events", s.listEvents)
	mux.HandleFunc("/api/tracks", s.listTracks)
	mux.HandleFunc("/api/stream", s.streamUpdates)
	mux.HandleFunc("/api/overlay.png", s.overlayPNG)
	mux.HandleFunc("/api/report/occupancy.png", s.occupancyReport)
	mux.HandleFunc("/api/version", s.showVersion)
	mux.HandleFunc("/debug/charts/hourly", s.hourlyChart)
	return mux
}

// StatsResponse is the body of GET /api/stats.
type StatsResponse struct {
	MaxCapacity      int       `json:"max_capacity"`
	Occupied         int       `json:"occupied"`
	Available        int       `json:"available"`
	OccupancyPercent float64   `json:"occupancy_percent"`
	TotalEntries     int       `json:"total_entries"`
	TotalExits       int       `json:"total_exits"`
	TrackedObjects   int       `json:"tracked_objects"`
	Timestamp        time.Time `json:"timestamp"`
}

func newStatsResponse(stats counting.Stats, capacity int, at time.Time) StatsResponse {
	return StatsResponse{
		MaxCapacity:      capacity,
		Occupied:         stats.CurrentCount,
		Available:        max(0, capacity-stats.CurrentCount),
		OccupancyPercent: feed.OccupancyPercent(stats.CurrentCount, capacity),
		TotalEntries:     stats.TotalEntries,
		TotalExits:       stats.TotalExits,
		TrackedObjects:   stats.TrackedObjects,
		Timestamp:        at,
	}
}

// engineError maps pipeline failures onto HTTP statuses.
func engineError(w http.ResponseWriter, err error) {
	if errors.Is(err, pipeline.ErrStopped) {
		httputil.ServiceUnavailable(w, "counting pipeline is not running")
		return
	}
	httputil.InternalServerError(w, fmt.Sprintf("counting pipeline: %v", err))
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		engineError(w, err)
		return
	}
	httputil.WriteJSONOK(w, newStatsResponse(stats, s.engine.Capacity(), s.opts.Clock.Now()))
}

func (s *Server) showToday(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	today := s.opts.Clock.Now().In(s.opts.Location)
	counts, err := s.store.CountsForDay(today)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve today's counts: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"date":    today.Format("2006-01-02"),
		"entries": counts.Entries,
		"exits":   counts.Exits,
	})
}

type configRequest struct {
	MaxCapacity *int `json:"max_capacity"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.showConfig(w)
	case http.MethodPost:
		s.updateConfig(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) showConfig(w http.ResponseWriter) {
	cfg := s.engine.Config()
	httputil.WriteJSONOK(w, map[string]interface{}{
		"max_capacity":  s.engine.Capacity(),
		"tracking_mode": cfg.Mode,
		"entry_line":    cfg.EntryLine,
		"exit_line":     cfg.ExitLine,
		"camera_width":  s.opts.Width,
		"camera_height": s.opts.Height,
	})
}

func (s *Server) updateConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		httputil.BadRequest(w, "Invalid JSON body")
		return
	}
	if req.MaxCapacity == nil {
		httputil.BadRequest(w, "max_capacity is required")
		return
	}
	n := *req.MaxCapacity
	if n < 1 {
		httputil.BadRequest(w, "max_capacity must be at least 1")
		return
	}

	prev := s.engine.Capacity()
	if err := s.engine.SetCapacity(r.Context(), n); err != nil {
		engineError(w, err)
		return
	}
	if err := s.store.SetMaxCapacity(n); err != nil {
		if rerr := s.engine.SetCapacity(r.Context(), prev); rerr != nil {
			monitoring.Logf("failed to restore max_capacity %d: %v", prev, rerr)
		}
		httputil.InternalServerError(w, fmt.Sprintf("Failed to save max_capacity: %v", err))
		return
	}
	monitoring.Logger().WithField("max_capacity", n).Info("capacity updated")
	httputil.WriteJSONOK(w, map[string]int{"max_capacity": n})
}

func (s *Server) resetCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	stats, err := s.engine.Reset(r.Context())
	if err != nil {
		engineError(w, err)
		return
	}
	httputil.WriteJSONOK(w, newStatsResponse(stats, s.engine.Capacity(), s.opts.Clock.Now()))
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := DefaultEventLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			httputil.BadRequest(w, "Invalid 'limit' parameter")
			return
		}
		limit = min(parsed, MaxEventLimit)
	}

	events, err := s.store.RecentCountEvents(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve events: %v", err))
		return
	}
	httputil.WriteJSONOK(w, events)
}

func (s *Server) listTracks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	tracks, err := s.engine.Snapshot(r.Context())
	if err != nil {
		engineError(w, err)
		return
	}
	if tracks == nil {
		tracks = []counting.TrackSnapshot{}
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"count":  len(tracks),
		"tracks": tracks,
	})
}

func (s *Server) overlayPNG(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	tracks, err := s.engine.Snapshot(r.Context())
	if err != nil {
		engineError(w, err)
		return
	}

	entry, exit := -1, -1
	if cfg := s.engine.Config(); cfg.Mode == counting.ModeLineCrossing {
		entry, exit = cfg.EntryLine, cfg.ExitLine
	}
	img := overlay.Render(s.opts.Width, s.opts.Height, entry, exit, tracks)

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := png.Encode(w, img); err != nil {
		monitoring.Logf("failed to encode overlay: %v", err)
	}
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Info())
}

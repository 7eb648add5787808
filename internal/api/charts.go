package api

import (
	"bytes"
	"fmt"
	"image/color"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/occupancy.report/internal/httputil"
)

const maxReportHours = 7 * 24

// hoursParam reads ?hours=, defaulting to 24 and rejecting values outside
// 1..maxReportHours.
func hoursParam(r *http.Request) (int, error) {
	h := r.URL.Query().Get("hours")
	if h == "" {
		return 24, nil
	}
	v, err := strconv.Atoi(h)
	if err != nil || v < 1 || v > maxReportHours {
		return 0, fmt.Errorf("invalid 'hours' parameter")
	}
	return v, nil
}

// occupancyReport renders occupancy over time as a PNG step chart with the
// capacity drawn as a reference line.
func (s *Server) occupancyReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	hours, err := hoursParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	stats, err := s.engine.Stats(r.Context())
	if err != nil {
		engineError(w, err)
		return
	}

	now := s.opts.Clock.Now()
	since := now.Add(-time.Duration(hours) * time.Hour)
	series, err := s.store.OccupancySeries(since)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve occupancy: %v", err))
		return
	}

	pts := make(plotter.XYs, 0, len(series)+1)
	for _, p := range series {
		pts = append(pts, plotter.XY{X: float64(p.CreatedAt), Y: float64(p.CurrentCount)})
	}
	pts = append(pts, plotter.XY{X: float64(now.Unix()), Y: float64(stats.CurrentCount)})

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Occupancy, last %dh", hours)
	p.X.Label.Text = "Time"
	p.Y.Label.Text = "Vehicles"
	p.X.Tick.Marker = plot.TimeTicks{Format: "Jan 2 15:04", Time: plot.UnixTimeIn(s.opts.Location)}
	p.Y.Min = 0
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(pts)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to build chart: %v", err))
		return
	}
	line.StepStyle = plotter.PostStep
	line.Width = vg.Points(1.5)
	line.Color = color.RGBA{B: 200, A: 255}
	p.Add(line)
	p.Legend.Add("occupied", line)

	capacity := float64(s.engine.Capacity())
	capLine, err := plotter.NewLine(plotter.XYs{
		{X: float64(since.Unix()), Y: capacity},
		{X: float64(now.Unix()), Y: capacity},
	})
	if err == nil {
		capLine.Color = color.RGBA{R: 200, A: 255}
		capLine.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		p.Add(capLine)
		p.Legend.Add("capacity", capLine)
	}

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to render chart: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

// hourlyChart renders an HTML bar chart of entries and exits per hour.
// This is a debugging-only endpoint.
func (s *Server) hourlyChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	hours, err := hoursParam(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	since := s.opts.Clock.Now().Add(-time.Duration(hours) * time.Hour)
	buckets, err := s.store.HourlyCounts(since)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve hourly counts: %v", err))
		return
	}

	labels := make([]string, 0, len(buckets))
	entries := make([]opts.BarData, 0, len(buckets))
	exits := make([]opts.BarData, 0, len(buckets))
	for _, b := range buckets {
		labels = append(labels, time.Unix(b.Hour, 0).In(s.opts.Location).Format("Jan 2 15:00"))
		entries = append(entries, opts.BarData{Value: b.Entries})
		exits = append(exits, opts.BarData{Value: b.Exits})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Hourly Entries / Exits", Theme: "dark", Width: "1100px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Hourly Entries / Exits", Subtitle: fmt.Sprintf("last %dh, %d active hours", hours, len(buckets))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Vehicles"}),
	)
	bar.SetXAxis(labels).
		AddSeries("entries", entries, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#2ecc71"})).
		AddSeries("exits", exits, charts.WithItemStyleOpts(opts.ItemStyle{Color: "#e74c3c"}))

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// Package overlay renders a schematic view of the counting lines and live
// tracks, the same annotations the detector draws over camera frames.
package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"

	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/opentype"
	"gonum.org/v1/plot/font"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/occupancy.report/internal/counting"
	"github.com/banshee-data/occupancy.report/internal/monitoring"
)

// Colours used for each annotation.
var (
	Background = color.RGBA{R: 24, G: 24, B: 24, A: 255}
	EntryColor = color.RGBA{G: 255, A: 255}
	ExitColor  = color.RGBA{R: 255, A: 255}
	TrackColor = color.RGBA{R: 64, G: 128, B: 255, A: 255}
	TrailColor = color.RGBA{R: 255, G: 255, A: 255}
	LabelColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

const (
	lineThickness = 2
	centerRadius  = 4
	labelSize     = 11

	// One vg point per pixel.
	dpi = 72
)

var labelFace = sync.OnceValues(func() (font.Face, error) {
	ttf, err := opentype.Parse(gomono.TTF)
	if err != nil {
		return font.Face{}, fmt.Errorf("failed to parse label font: %w", err)
	}
	return font.Face{
		Font: font.Font{Typeface: "Go", Variant: "Mono", Size: labelSize},
		Face: ttf,
	}, nil
})

// Render draws the entry and exit lines and every track's center, label and
// trajectory onto a w x h image. A negative line row is not drawn.
func Render(w, h, entryLine, exitLine int, tracks []counting.TrackSnapshot) *image.RGBA {
	c := canvas{
		Canvas: vgimg.NewWith(vgimg.UseWH(vg.Length(w), vg.Length(h)), vgimg.UseDPI(dpi)),
		h:      vg.Length(h),
	}
	c.fillRect(0, 0, vg.Length(w), vg.Length(h), Background)

	face, err := labelFace()
	if err != nil {
		monitoring.Logf("overlay labels disabled: %v", err)
	}
	label := func(x, y int, s string, col color.Color) {
		if err == nil {
			c.text(face, x, y, s, col)
		}
	}

	if entryLine >= 0 {
		c.hline(entryLine, vg.Length(w), EntryColor)
		label(10, entryLine-6, "ENTRY", EntryColor)
	}
	if exitLine >= 0 {
		c.hline(exitLine, vg.Length(w), ExitColor)
		label(10, exitLine-6, "EXIT", ExitColor)
	}

	for _, t := range tracks {
		trail := append(append([]counting.Point(nil), t.Positions...), t.Center)
		c.polyline(trail, TrailColor)
		c.disc(t.Center, centerRadius, TrackColor)
		label(t.Center.X-10, t.Center.Y-10, fmt.Sprintf("ID:%d", t.ID), LabelColor)
	}

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(out, out.Bounds(), c.Image(), image.Point{}, draw.Src)
	return out
}

// canvas maps image coordinates (origin top left, y down) onto a vgimg
// canvas (origin bottom left, y up).
type canvas struct {
	*vgimg.Canvas
	h vg.Length
}

// center returns the middle of pixel p.
func (c canvas) center(p counting.Point) vg.Point {
	return vg.Point{X: vg.Length(p.X) + 0.5, Y: c.h - vg.Length(p.Y) - 0.5}
}

func (c canvas) fillRect(x0, y0, x1, y1 vg.Length, col color.Color) {
	var p vg.Path
	p.Move(vg.Point{X: x0, Y: y0})
	p.Line(vg.Point{X: x1, Y: y0})
	p.Line(vg.Point{X: x1, Y: y1})
	p.Line(vg.Point{X: x0, Y: y1})
	p.Close()
	c.SetColor(col)
	c.Fill(p)
}

// hline covers pixel rows y-1 and y across the full width.
func (c canvas) hline(y int, w vg.Length, col color.Color) {
	top := c.h - vg.Length(y) + lineThickness/2
	c.fillRect(0, top-lineThickness, w, top, col)
}

func (c canvas) polyline(pts []counting.Point, col color.Color) {
	if len(pts) < 2 {
		return
	}
	var p vg.Path
	p.Move(c.center(pts[0]))
	for _, pt := range pts[1:] {
		p.Line(c.center(pt))
	}
	c.SetLineWidth(1)
	c.SetColor(col)
	c.Stroke(p)
}

func (c canvas) disc(at counting.Point, r vg.Length, col color.Color) {
	ctr := c.center(at)
	var p vg.Path
	p.Move(vg.Point{X: ctr.X + r, Y: ctr.Y})
	p.Arc(ctr, r, 0, 2*math.Pi)
	p.Close()
	c.SetColor(col)
	c.Fill(p)
}

// text draws s with its baseline starting at pixel (x, y).
func (c canvas) text(face font.Face, x, y int, s string, col color.Color) {
	c.SetColor(col)
	c.FillString(face, vg.Point{X: vg.Length(x), Y: c.h - vg.Length(y)}, s)
}

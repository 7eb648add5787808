package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/occupancy.report/internal/counting"
)

// assertColor allows for antialiasing at shape edges.
func assertColor(t *testing.T, img *image.RGBA, x, y int, want color.RGBA) {
	t.Helper()
	got := img.RGBAAt(x, y)
	near := func(a, b uint8) bool {
		d := int(a) - int(b)
		return d >= -8 && d <= 8
	}
	if !near(got.R, want.R) || !near(got.G, want.G) || !near(got.B, want.B) {
		t.Errorf("pixel (%d,%d) = %v, want %v", x, y, got, want)
	}
}

func TestRender_Lines(t *testing.T) {
	img := Render(640, 480, 144, 336, nil)
	require.Equal(t, 640, img.Bounds().Dx())
	require.Equal(t, 480, img.Bounds().Dy())

	assertColor(t, img, 320, 143, EntryColor)
	assertColor(t, img, 320, 144, EntryColor)
	assertColor(t, img, 320, 336, ExitColor)
	assertColor(t, img, 320, 240, Background)
	assertColor(t, img, 320, 146, Background)
}

func TestRender_NegativeLineSkipped(t *testing.T) {
	img := Render(100, 100, -1, -1, nil)
	for y := 0; y < 100; y++ {
		assertColor(t, img, 50, y, Background)
	}
}

func TestRender_Tracks(t *testing.T) {
	tracks := []counting.TrackSnapshot{{
		ID:        3,
		Center:    counting.Point{X: 300, Y: 200},
		Positions: []counting.Point{{X: 300, Y: 100}, {X: 300, Y: 150}},
	}}
	img := Render(640, 480, 144, 336, tracks)

	assertColor(t, img, 300, 200, TrackColor)
	assertColor(t, img, 302, 200, TrackColor)
	// Trail pixels between the recorded positions.
	assertColor(t, img, 300, 120, TrailColor)
	assertColor(t, img, 300, 175, TrailColor)
	// Nothing drawn far from the track.
	assertColor(t, img, 600, 50, Background)

	// The ID label puts some white pixels above and left of the center.
	white := 0
	for y := 178; y < 194; y++ {
		for x := 288; x < 340; x++ {
			if c := img.RGBAAt(x, y); c.R > 160 && c.G > 160 && c.B > 160 {
				white++
			}
		}
	}
	assert.Greater(t, white, 0)
}

func TestRender_DiagonalTrail(t *testing.T) {
	tracks := []counting.TrackSnapshot{{
		ID:        0,
		Center:    counting.Point{X: 80, Y: 80},
		Positions: []counting.Point{{X: 20, Y: 20}},
	}}
	img := Render(100, 100, -1, -1, tracks)

	c := img.RGBAAt(50, 50)
	assert.Greater(t, c.R, Background.R, "trail should brighten the midpoint")
	assert.Greater(t, c.G, Background.G)
}

func TestRender_OffscreenTrack(t *testing.T) {
	tracks := []counting.TrackSnapshot{{ID: 1, Center: counting.Point{X: -50, Y: 900}}}
	img := Render(64, 48, 10, 30, tracks)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	assert.NotZero(t, buf.Len())
}

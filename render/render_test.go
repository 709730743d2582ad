package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetColor(t *testing.T) {
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, GetColor(0))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, GetColor(math.MaxUint16))
	assert.Equal(t, color.RGBA{0, 255, 0, 255}, GetColor(math.MaxUint16/2))
}

func TestLevel(t *testing.T) {
	assert.Equal(t, uint16(0), level(1, 1, 3))
	assert.Equal(t, uint16(math.MaxUint16), level(3, 1, 3))
	assert.Equal(t, uint16(0), level(5, 2, 2))
	assert.Equal(t, uint16(0), level(-1, 0, 1))
}

func TestHeatmap(t *testing.T) {
	img, err := Heatmap([][]float64{
		{0, 1, 2},
		{2, 2},
	})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())
	assert.Equal(t, GetColor(0), img.RGBAAt(0, 0))
	assert.Equal(t, GetColor(math.MaxUint16), img.RGBAAt(2, 0))
	assert.Equal(t, GetColor(math.MaxUint16), img.RGBAAt(0, 1))
	// Missing values stay at the coldest color.
	assert.Equal(t, colors[0], img.RGBAAt(2, 1))

	_, err = Heatmap(nil)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestSpectrum(t *testing.T) {
	img, err := Spectrum([]Series{{Values: []float64{0, 0, 10, 0, 0}}}, PlotOptions{Width: 100, Height: 50})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 50), img.Bounds())
	assert.Equal(t, lineColors[0], img.RGBAAt(49, 0), "peak")
	assert.Equal(t, lineColors[0], img.RGBAAt(0, 49), "first bin")
	assert.Equal(t, lineColors[0], img.RGBAAt(99, 49), "last bin")
	assert.Equal(t, gridBackgroundColor, img.RGBAAt(10, 0))

	grid, err := Spectrum([]Series{
		{Label: "chan 0", Values: []float64{1, 2, 3}},
		{Label: "chan 1", Values: []float64{0, 0, 0}},
	}, PlotOptions{Width: 100, Height: 50, Log: true, AddGrid: true})
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100+gridMarginLeft, 50+gridMarginTop), grid.Bounds())

	_, err = Spectrum(nil, PlotOptions{})
	assert.ErrorIs(t, err, ErrNoData)
}

func TestDrawLine(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	c := color.RGBA{1, 2, 3, 255}
	drawLine(img, image.Point{0, 0}, image.Point{5, 3}, c)
	drawLine(img, image.Point{9, 9}, image.Point{9, 2}, c)
	assert.Equal(t, c, img.RGBAAt(0, 0))
	assert.Equal(t, c, img.RGBAAt(5, 3))
	for y := 2; y <= 9; y++ {
		assert.Equal(t, c, img.RGBAAt(9, y))
	}
}

func TestAxisLabel(t *testing.T) {
	a := Axis{From: 10, To: 0}
	assert.Equal(t, "10", a.label(0, 11))
	assert.Equal(t, "5", a.label(5, 11))
	assert.Equal(t, "0", a.label(10, 11))
}

func TestEncode(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 3))
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, img, "plot.PNG"))
	decoded, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())

	buf.Reset()
	require.NoError(t, Encode(&buf, img, "plot.jpg"))
	assert.NotZero(t, buf.Len())
	assert.Error(t, Encode(&buf, img, "plot.gif"))

	path := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, Save(path, img))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}

// Package render draws accumulated fine spectra as line plots and the
// evolution of a channel over rounds as a waterfall heatmap.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	// Colors defining the gradient in the heatmap. The higher the index, the warmer.
	colors = []color.RGBA{
		{0, 0, 0, 255},       // black
		{0, 0, 255, 255},     // blue
		{0, 255, 255, 255},   // cyan
		{0, 255, 0, 255},     // green
		{255, 255, 0, 255},   // yellow
		{255, 0, 0, 255},     // red
		{255, 255, 255, 255}, // white
	}

	// Line colors of a spectrum plot, cycled per channel.
	lineColors = []color.RGBA{
		{0, 0, 200, 255},
		{200, 0, 0, 255},
		{0, 140, 0, 255},
		{230, 120, 0, 255},
		{120, 0, 140, 255},
		{0, 140, 140, 255},
	}

	gridColor           = color.RGBA{0, 0, 0, 255}
	gridBackgroundColor = color.RGBA{255, 255, 255, 255}

	ErrNoData = errors.New("nothing to render")
)

const (
	gridMarginTop  = 20 // pixels
	gridMarginLeft = 80 // pixels
	gridTickLen    = 10 // pixel
	gridMinStepX   = 100
	gridMinStepY   = 20

	// Floor applied to magnitudes before taking the logarithm.
	minMagnitude = 1e-12

	DefaultWidth  = 800
	DefaultHeight = 400
)

// GetColor interpolates the heatmap gradient at lvl.
// http://www.andrewnoske.com/wiki/Code_-_heatmaps_and_color_gradients
func GetColor(lvl uint16) color.RGBA {
	step := float64(math.MaxUint16) / float64(len(colors)-1)
	pos := float64(lvl) / step
	i := int(pos)
	if i >= len(colors)-1 {
		return colors[len(colors)-1]
	}
	fract := pos - float64(i)
	prevC, nextC := colors[i], colors[i+1]
	return color.RGBA{
		mix(prevC.R, nextC.R, fract),
		mix(prevC.G, nextC.G, fract),
		mix(prevC.B, nextC.B, fract),
		255,
	}
}

func mix(a, b uint8, fract float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*fract))
}

// level maps v from [min, max] onto the full uint16 range.
func level(v, min, max float64) uint16 {
	if max <= min {
		return 0
	}
	f := (v - min) / (max - min)
	switch {
	case f <= 0:
		return 0
	case f >= 1:
		return math.MaxUint16
	}
	return uint16(f * math.MaxUint16)
}

func bounds(rows ...[]float64) (float64, float64) {
	min, max := math.Inf(1), math.Inf(-1)
	for _, row := range rows {
		for _, v := range row {
			min = math.Min(min, v)
			max = math.Max(max, v)
		}
	}
	return min, max
}

// Heatmap renders one pixel per value, rows from top to bottom.
func Heatmap(rows [][]float64) (*image.RGBA, error) {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	if width == 0 {
		return nil, ErrNoData
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, len(rows)))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{colors[0]}, image.Point{}, draw.Src)
	min, max := bounds(rows...)
	for rowIdx, row := range rows {
		for columnIdx, v := range row {
			canvas.SetRGBA(columnIdx, rowIdx, GetColor(level(v, min, max)))
		}
	}
	return canvas, nil
}

type Series struct {
	Label  string
	Values []float64
}

type PlotOptions struct {
	Width  int
	Height int
	// Log plots 20*log10 of the magnitudes.
	Log     bool
	AddGrid bool
}

func (o PlotOptions) size() (int, int) {
	w, h := o.Width, o.Height
	if w <= 0 {
		w = DefaultWidth
	}
	if h <= 0 {
		h = DefaultHeight
	}
	return w, h
}

// Spectrum draws every series as a line over the fine channel index. All
// series share one vertical scale.
func Spectrum(series []Series, opts PlotOptions) (*image.RGBA, error) {
	n := 0
	var values [][]float64
	for _, s := range series {
		v := s.Values
		if opts.Log {
			v = make([]float64, len(s.Values))
			for i, m := range s.Values {
				v[i] = 20 * math.Log10(math.Max(m, minMagnitude))
			}
		}
		values = append(values, v)
		if len(v) > n {
			n = len(v)
		}
	}
	if n == 0 {
		return nil, ErrNoData
	}

	width, height := opts.size()
	min, max := bounds(values...)
	if max <= min {
		max = min + 1
	}
	x := func(i int) int {
		if n == 1 {
			return 0
		}
		return i * (width - 1) / (n - 1)
	}
	y := func(v float64) int {
		return (height - 1) - int(math.Round((v-min)/(max-min)*float64(height-1)))
	}

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{gridBackgroundColor}, image.Point{}, draw.Src)
	for idx, v := range values {
		c := lineColors[idx%len(lineColors)]
		for i := range v {
			if i == 0 {
				canvas.SetRGBA(x(0), y(v[0]), c)
				continue
			}
			drawLine(canvas, image.Point{x(i - 1), y(v[i-1])}, image.Point{x(i), y(v[i])}, c)
		}
		if series[idx].Label != "" {
			drawString(canvas, image.Point{width - 8*len(series[idx].Label) - 5, 15 + 15*idx}, series[idx].Label, c)
		}
	}

	if !opts.AddGrid {
		return canvas, nil
	}
	unit := "%.3g"
	if opts.Log {
		unit = "%.1f dB"
	}
	return DrawGrid(canvas,
		Axis{From: 0, To: float64(n - 1), Format: func(v float64) string { return fmt.Sprintf("%.0f", v) }},
		Axis{From: max, To: min, Format: func(v float64) string { return fmt.Sprintf(unit, v) }},
	), nil
}

// drawLine uses Bresenham's algorithm.
func drawLine(canvas *image.RGBA, from, to image.Point, c color.RGBA) {
	dx := abs(to.X - from.X)
	dy := -abs(to.Y - from.Y)
	sx, sy := 1, 1
	if from.X > to.X {
		sx = -1
	}
	if from.Y > to.Y {
		sy = -1
	}
	e := dx + dy
	for p := from; ; {
		canvas.SetRGBA(p.X, p.Y, c)
		if p == to {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			p.X += sx
		}
		if e2 <= dx {
			e += dx
			p.Y += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func drawString(canvas *image.RGBA, at image.Point, s string, c color.Color) {
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(at.X, at.Y),
	}
	d.DrawString(s)
}

// Axis describes the values along one edge of an image: From at the first
// pixel, To at the last one.
type Axis struct {
	From   float64
	To     float64
	Format func(float64) string
}

func (a Axis) label(i, size int) string {
	v := a.From
	if size > 1 {
		v += float64(i) * (a.To - a.From) / float64(size-1)
	}
	if a.Format == nil {
		return fmt.Sprintf("%g", v)
	}
	return a.Format(v)
}

func drawTick(canvas *image.RGBA, start image.Point, length int, horizontal bool) {
	for i := 0; i <= length; i++ {
		if horizontal {
			canvas.SetRGBA(start.X+i, start.Y, gridColor)
		} else {
			canvas.SetRGBA(start.X, start.Y+i, gridColor)
		}
	}
}

func findGridStepSize(step int, horizontal bool) int {
	gridMinStep := gridMinStepY
	if horizontal {
		gridMinStep = gridMinStepX
	}
	for step > gridMinStep {
		n := step / 2
		if n < gridMinStep {
			return step
		}
		step = n
	}
	if step < 1 {
		return 1
	}
	return step
}

// DrawGrid returns a copy of source enlarged by a top and left margin holding
// ticks and labels for both axes.
func DrawGrid(source *image.RGBA, xAxis, yAxis Axis) *image.RGBA {
	b := source.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx()+gridMarginLeft, b.Dy()+gridMarginTop))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{gridBackgroundColor}, image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(gridMarginLeft, gridMarginTop, canvas.Bounds().Max.X, canvas.Bounds().Max.Y), source, b.Min, draw.Src)

	// Draw X ticks.
	xStep := findGridStepSize(b.Dx(), true)
	for i := 0; i < b.Dx(); i += xStep {
		drawTick(canvas, image.Point{gridMarginLeft + i, gridMarginTop - gridTickLen}, gridTickLen, false)
		drawString(canvas, image.Point{gridMarginLeft + i + 5, gridMarginTop - 2}, xAxis.label(i, b.Dx()), gridColor)
	}

	// Draw Y ticks.
	yStep := findGridStepSize(b.Dy(), false)
	for i := 0; i < b.Dy(); i += yStep {
		drawTick(canvas, image.Point{gridMarginLeft - gridTickLen, gridMarginTop + i}, gridTickLen, true)
		drawString(canvas, image.Point{5, gridMarginTop + i + 5}, yAxis.label(i, b.Dy()), gridColor)
	}

	return canvas
}

// Encode writes img in the format implied by the suffix of name.
func Encode(w io.Writer, img image.Image, name string) error {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".png":
		return png.Encode(w, img)
	case ".jpg", ".jpeg":
		return jpeg.Encode(w, img, &jpeg.Options{Quality: jpeg.DefaultQuality})
	default:
		return fmt.Errorf("unsupported image format %q, use .png or .jpg", ext)
	}
}

func Save(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("unable to create image file %q: %w", path, err)
	}
	if err := Encode(f, img, path); err != nil {
		f.Close()
		return fmt.Errorf("unable to write image to %q: %w", path, err)
	}
	return f.Close()
}

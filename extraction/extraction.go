// Package extraction renders waterfall quicklooks of the spectra stored in a
// spectral archive.
package extraction

import (
	"database/sql"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"time"

	"github.com/golang/glog"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/hb9tf/phenocart/export"
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

	gridColor           = color.RGBA{0, 0, 0, 255}       // black
	gridBackgroundColor = color.RGBA{255, 255, 255, 255} // white
)

const (
	timeFmt        = "2006-01-02T15:04:05"
	gridMarginTop  = 20  // pixels
	gridMarginLeft = 150 // pixels
	gridTickLen    = 10  // pixel
	gridMinStepX   = 100 // pixels
	gridMinStepY   = 20  // pixels

	getWavelengthsTmpl = `SELECT Wavelengths FROM spectrometers WHERE Serial = ?;`
	getSpectraTmpl     = `SELECT
			Timestamp,
			Spectrum
		FROM
			raw
		WHERE
			Serial = ?
			AND Timestamp >= ?
			AND Timestamp <= ?
		ORDER BY
			Timestamp ASC;`
)

// GetColor maps a level onto the heatmap gradient.
// http://www.andrewnoske.com/wiki/Code_-_heatmaps_and_color_gradients
func GetColor(lvl uint16) color.RGBA {
	pos := float64(lvl) / math.MaxUint16 * float64(len(colors)-1)
	i := int(pos)
	if i >= len(colors)-1 {
		return colors[len(colors)-1]
	}
	fract := pos - float64(i)
	lo, hi := colors[i], colors[i+1]
	mix := func(a, b uint8) uint8 {
		return uint8(math.Round(float64(a) + (float64(b)-float64(a))*fract))
	}
	return color.RGBA{mix(lo.R, hi.R), mix(lo.G, hi.G), mix(lo.B, hi.B), mix(lo.A, hi.A)}
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
	return step
}

func drawLabel(canvas *image.RGBA, x, y int, s string) {
	d := &font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(gridColor),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// DrawGrid frames the waterfall with wavelength ticks on top and time ticks
// on the left.
func DrawGrid(source *image.RGBA, lowWL, highWL float64, startTime, endTime time.Time) *image.RGBA {
	// Enlarge existing image.
	canvas := image.NewRGBA(image.Rectangle{
		Min: source.Bounds().Min,
		Max: image.Point{source.Bounds().Max.X + gridMarginLeft, source.Bounds().Max.Y + gridMarginTop},
	})
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{gridBackgroundColor}, canvas.Bounds().Min, draw.Src)
	r := canvas.Bounds()
	r.Min.X += gridMarginLeft
	r.Min.Y += gridMarginTop
	draw.Draw(canvas, r, source, source.Bounds().Min, draw.Src)

	width := source.Bounds().Dx()
	height := source.Bounds().Dy()
	origin := canvas.Bounds().Min

	xStep := findGridStepSize(width, true)
	for i := 0; i < width; i += xStep {
		x := origin.X + gridMarginLeft + i
		drawTick(canvas, image.Point{x, origin.Y + gridMarginTop - gridTickLen}, gridTickLen, false)
		wl := lowWL + float64(i)*(highWL-lowWL)/float64(width)
		drawLabel(canvas, x+5, origin.Y+gridMarginTop-2, fmt.Sprintf("%.1f nm", wl))
	}

	yStep := findGridStepSize(height, false)
	for i := 0; i < height; i += yStep {
		y := origin.Y + gridMarginTop + i
		drawTick(canvas, image.Point{origin.X + gridMarginLeft - gridTickLen, y}, gridTickLen, true)
		dur := time.Duration(int64(i)*endTime.Sub(startTime).Milliseconds()/int64(height)) * time.Millisecond
		drawLabel(canvas, origin.X+5, y+5, dur.String())
		drawLabel(canvas, origin.X+5, y+17, startTime.Add(dur).Format(timeFmt))
	}

	return canvas
}

type FilterOptions struct {
	Serial    string
	StartTime time.Time
	EndTime   time.Time
	// Wavelength window in nm. Zero values select the full detector.
	LowWavelength  float64
	HighWavelength float64
}

type ImageOptions struct {
	Height int
	Width  int

	AddGrid bool
}

type RenderRequest struct {
	Filter *FilterOptions
	Image  *ImageOptions
}

type SourceMetadata struct {
	LowWavelength  float64
	HighWavelength float64
	StartTime      time.Time
	EndTime        time.Time
	Spectra        int
}

type RenderMetadata struct {
	ImageHeight int
	ImageWidth  int
	NMPerPixel  float64
	SecPerPixel float64
}

type RenderResult struct {
	Image image.Image

	SourceMeta *SourceMetadata
	ImageMeta  *RenderMetadata
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

func fromUnixSeconds(s float64) time.Time {
	return time.UnixMicro(int64(math.Round(s * 1e6)))
}

// pixelWindow returns the detector pixel range [lo, hi) inside [low, high] nm.
func pixelWindow(wavelengths []float64, low, high float64) (int, int) {
	if high <= 0 {
		high = math.Inf(1)
	}
	lo, hi := -1, -1
	for i, wl := range wavelengths {
		if wl < low || wl > high {
			continue
		}
		if lo < 0 {
			lo = i
		}
		hi = i + 1
	}
	if lo < 0 {
		return 0, 0
	}
	return lo, hi
}

// Render draws one row per time bucket and one column per wavelength bucket,
// each pixel showing the highest count in its bucket.
func Render(db *sql.DB, req *RenderRequest) (*RenderResult, error) {
	var blob []byte
	if err := db.QueryRow(getWavelengthsTmpl, req.Filter.Serial).Scan(&blob); err != nil {
		return nil, fmt.Errorf("unable to read wavelengths of %q: %w", req.Filter.Serial, err)
	}
	wavelengths, err := export.DecodeFloats(blob)
	if err != nil {
		return nil, err
	}
	lo, hi := pixelWindow(wavelengths, req.Filter.LowWavelength, req.Filter.HighWavelength)
	if hi-lo == 0 {
		return nil, errors.New("no detector pixels in the selected wavelength window")
	}

	rows, err := db.Query(getSpectraTmpl, req.Filter.Serial, unixSeconds(req.Filter.StartTime), unixSeconds(req.Filter.EndTime))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var spectra [][]float64
	var sTime, eTime time.Time
	for rows.Next() {
		var ts float64
		var b []byte
		if err := rows.Scan(&ts, &b); err != nil {
			glog.Warningf("unable to get spectrum from DB: %s\n", err)
			continue
		}
		spectrum, err := export.DecodeFloats(b)
		if err != nil || len(spectrum) < hi {
			glog.Warningf("skipping malformed spectrum at %f: %v\n", ts, err)
			continue
		}
		t := fromUnixSeconds(ts)
		if len(spectra) == 0 {
			sTime = t
		}
		eTime = t
		spectra = append(spectra, spectrum[lo:hi])
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(spectra) == 0 {
		return nil, fmt.Errorf("no spectra of %q in the selected time range", req.Filter.Serial)
	}

	maxHeight, maxWidth := len(spectra), hi-lo
	switch {
	case req.Image.Height == 0:
		req.Image.Height = maxHeight
	case req.Image.Height > maxHeight:
		glog.Warningf("-imgHeight is set to %d which is more than what the archive can provide. Reducing image height to %d pixels\n", req.Image.Height, maxHeight)
		req.Image.Height = maxHeight
	}
	switch {
	case req.Image.Width == 0:
		req.Image.Width = maxWidth
	case req.Image.Width > maxWidth:
		glog.Warningf("-imgWidth is set to %d which is more than what the archive can provide. Reducing image width to %d pixels\n", req.Image.Width, maxWidth)
		req.Image.Width = maxWidth
	}

	// Bucket maxima, like NTILE over time and wavelength.
	img := make([][]float64, req.Image.Height)
	for y := range img {
		img[y] = make([]float64, req.Image.Width)
		for x := range img[y] {
			img[y][x] = math.Inf(-1)
		}
	}
	globalMin, globalMax := math.Inf(1), math.Inf(-1)
	for i, spectrum := range spectra {
		y := i * req.Image.Height / len(spectra)
		for j, v := range spectrum {
			x := j * req.Image.Width / len(spectrum)
			img[y][x] = math.Max(img[y][x], v)
			globalMin = math.Min(globalMin, v)
			globalMax = math.Max(globalMax, v)
		}
	}

	// Create image canvas.
	canvas := image.NewRGBA(image.Rect(0, 0, req.Image.Width, req.Image.Height))
	countRange := globalMax - globalMin
	for y, row := range img {
		for x, v := range row {
			var lvl uint16
			if countRange > 0 {
				lvl = uint16((v - globalMin) * math.MaxUint16 / countRange)
			}
			canvas.SetRGBA(x, y, GetColor(lvl))
		}
	}

	lowWL, highWL := wavelengths[lo], wavelengths[hi-1]
	if req.Image.AddGrid {
		canvas = DrawGrid(canvas, lowWL, highWL, sTime, eTime)
	}

	return &RenderResult{
		Image: canvas,
		SourceMeta: &SourceMetadata{
			LowWavelength:  lowWL,
			HighWavelength: highWL,
			StartTime:      sTime,
			EndTime:        eTime,
			Spectra:        len(spectra),
		},
		ImageMeta: &RenderMetadata{
			ImageHeight: req.Image.Height,
			ImageWidth:  req.Image.Width,
			NMPerPixel:  (highWL - lowWL) / float64(req.Image.Width),
			SecPerPixel: eTime.Sub(sTime).Seconds() / float64(req.Image.Height),
		},
	}, nil
}

package extraction

import (
	"context"
	"database/sql"
	"image"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/hb9tf/phenocart/export"
	"github.com/hb9tf/phenocart/sensor"

	_ "github.com/mattn/go-sqlite3"
)

func TestGetColor(t *testing.T) {
	if got := GetColor(0); got != colors[0] {
		t.Errorf("GetColor(0) = %v, want black", got)
	}
	if got := GetColor(math.MaxUint16); got != colors[len(colors)-1] {
		t.Errorf("GetColor(max) = %v, want white", got)
	}
	// Half way between blue and cyan.
	if got := GetColor(math.MaxUint16 / 4); got.B != 255 || got.R != 0 || got.G < 120 || got.G > 135 {
		t.Errorf("GetColor(max/4) = %v, want a blue-cyan mix", got)
	}
}

func TestPixelWindow(t *testing.T) {
	wl := []float64{400, 410, 420, 430, 440}
	for _, tc := range []struct {
		low, high      float64
		wantLo, wantHi int
	}{
		{0, 0, 0, 5},
		{405, 435, 1, 4},
		{420, 420, 2, 3},
		{500, 600, 0, 0},
	} {
		lo, hi := pixelWindow(wl, tc.low, tc.high)
		if lo != tc.wantLo || hi != tc.wantHi {
			t.Errorf("pixelWindow(%f, %f) = %d, %d, want %d, %d", tc.low, tc.high, lo, hi, tc.wantLo, tc.wantHi)
		}
	}
}

func archive(t *testing.T, spectra ...[]float64) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	records := make(chan sensor.Record, len(spectra))
	start := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	for i, s := range spectra {
		records <- sensor.Record{
			Source:    "spectral",
			Sequence:  int64(i),
			Timestamp: start.Add(time.Duration(i) * time.Second),
			Measurement: sensor.Measurement{
				SensorID: "HDX1",
				Position: sensor.PositionLeft,
				Kind:     sensor.KindSpectrum,
				Spectrum: &sensor.Spectrum{
					Wavelengths: []float64{400, 410, 420, 430},
					Intensities: s,
					Orientation: sensor.Downlooking,
				},
			},
		}
	}
	close(records)
	if err := (&export.Archive{DB: db}).Write(context.Background(), records); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestRender(t *testing.T) {
	db := archive(t,
		[]float64{1000, 2000, 3000, 4000},
		[]float64{1000, 2000, 3000, 5000},
		[]float64{1000, 2000, 3000, 4000},
	)
	res, err := Render(db, &RenderRequest{
		Filter: &FilterOptions{
			Serial:    "HDX1",
			StartTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			EndTime:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		Image: &ImageOptions{Width: 10},
	})
	if err != nil {
		t.Fatalf("Render() failed: %s", err)
	}
	if res.ImageMeta.ImageWidth != 4 || res.ImageMeta.ImageHeight != 3 {
		t.Errorf("image is %dx%d, want 4x3", res.ImageMeta.ImageWidth, res.ImageMeta.ImageHeight)
	}
	if res.SourceMeta.Spectra != 3 || res.SourceMeta.LowWavelength != 400 || res.SourceMeta.HighWavelength != 430 {
		t.Errorf("source metadata = %+v", res.SourceMeta)
	}
	if got := res.SourceMeta.EndTime.Sub(res.SourceMeta.StartTime); got != 2*time.Second {
		t.Errorf("time span = %s, want 2s", got)
	}
	img := res.Image.(*image.RGBA)
	if got := img.RGBAAt(0, 0); got != colors[0] {
		t.Errorf("minimum pixel = %v, want black", got)
	}
	if got := img.RGBAAt(3, 1); got != colors[len(colors)-1] {
		t.Errorf("maximum pixel = %v, want white", got)
	}
}

func TestRenderWithGrid(t *testing.T) {
	db := archive(t, []float64{1, 2, 3, 4}, []float64{4, 3, 2, 1})
	res, err := Render(db, &RenderRequest{
		Filter: &FilterOptions{
			Serial:        "HDX1",
			StartTime:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			EndTime:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			LowWavelength: 410,
		},
		Image: &ImageOptions{AddGrid: true},
	})
	if err != nil {
		t.Fatalf("Render() failed: %s", err)
	}
	b := res.Image.Bounds()
	if b.Dx() != 3+gridMarginLeft || b.Dy() != 2+gridMarginTop {
		t.Errorf("grid image is %dx%d", b.Dx(), b.Dy())
	}
}

func TestRenderUnknownSerial(t *testing.T) {
	db := archive(t, []float64{1, 2, 3, 4})
	_, err := Render(db, &RenderRequest{Filter: &FilterOptions{Serial: "nope"}, Image: &ImageOptions{}})
	if err == nil {
		t.Error("Render() succeeded for an unknown spectrometer")
	}
}

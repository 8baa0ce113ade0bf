package main

/*
This application renders waterfall quicklooks of the spectra recorded into a
spectral archive by the collection tool.
*/

import (
	"database/sql"
	"flag"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/phenocart/extraction"

	// Blind import support for sqlite3 used by the archive.
	_ "github.com/mattn/go-sqlite3"
)

// Flags
var (
	archiveFile    = flag.String("archiveFile", "", "File path of the spectral archive (sqlite) to read.")
	serial         = flag.String("serial", "", "Serial number of the spectrometer to render.")
	lowWavelength  = flag.Float64("lowWavelength", 0, "Render pixels from this wavelength in nm.")
	highWavelength = flag.Float64("highWavelength", 0, "Render pixels up to this wavelength in nm (0 for the whole detector).")
	startTimeRaw   = flag.String("startTime", "2000-01-02T15:04:05", "Select spectra recorded after this time. Format: 2006-01-02T15:04:05")
	endTimeRaw     = flag.String("endTime", "2100-01-02T15:04:05", "Select spectra recorded before this time. Format: 2006-01-02T15:04:05")
	imgPath        = flag.String("imgPath", "/tmp/out.png", "Path where the rendered image should be written to (.png or .jpg).")
	imgWidth       = flag.Int("imgWidth", 0, "Width of output image in pixels (0 for one column per detector pixel).")
	imgHeight      = flag.Int("imgHeight", 0, "Height of output image in pixels (0 for one row per spectrum).")
	addGrid        = flag.Bool("grid", true, "Draw wavelength and time axes.")
)

const timeFmt = "2006-01-02T15:04:05"

func writeImage(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	switch {
	case strings.HasSuffix(path, ".png"):
		return png.Encode(f, img)
	case strings.HasSuffix(path, ".jpg"), strings.HasSuffix(path, ".jpeg"):
		return jpeg.Encode(f, img, &jpeg.Options{Quality: jpeg.DefaultQuality})
	}
	return fmt.Errorf("unsupported image format of %q, use .png or .jpg", path)
}

func main() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()
	defer glog.Flush()

	startTime, err := time.ParseInLocation(timeFmt, *startTimeRaw, time.Local)
	if err != nil {
		glog.Exitf("unable to parse startTime (value: %q, format: %q): %s", *startTimeRaw, timeFmt, err)
	}
	endTime, err := time.ParseInLocation(timeFmt, *endTimeRaw, time.Local)
	if err != nil {
		glog.Exitf("unable to parse endTime (value: %q, format: %q): %s", *endTimeRaw, timeFmt, err)
	}

	db, err := sql.Open("sqlite3", *archiveFile)
	if err != nil {
		glog.Exitf("unable to open archive %q: %s", *archiveFile, err)
	}
	defer db.Close()

	res, err := extraction.Render(db, &extraction.RenderRequest{
		Filter: &extraction.FilterOptions{
			Serial:         *serial,
			StartTime:      startTime,
			EndTime:        endTime,
			LowWavelength:  *lowWavelength,
			HighWavelength: *highWavelength,
		},
		Image: &extraction.ImageOptions{
			Height:  *imgHeight,
			Width:   *imgWidth,
			AddGrid: *addGrid,
		},
	})
	if err != nil {
		glog.Exitf("unable to render %s: %s", *serial, err)
	}

	fmt.Println("Selected source metadata:")
	fmt.Printf("  - Wavelengths: %.1f - %.1f nm\n", res.SourceMeta.LowWavelength, res.SourceMeta.HighWavelength)
	fmt.Printf("  - Start time: %s (%d)\n", res.SourceMeta.StartTime.Format(timeFmt), res.SourceMeta.StartTime.Unix())
	fmt.Printf("  - End time: %s (%d)\n", res.SourceMeta.EndTime.Format(timeFmt), res.SourceMeta.EndTime.Unix())
	fmt.Printf("  - Duration: %s\n", res.SourceMeta.EndTime.Sub(res.SourceMeta.StartTime))
	fmt.Printf("  - Spectra: %d\n", res.SourceMeta.Spectra)
	fmt.Printf("Rendered image (%d x %d, %.2f nm/px, %.2f s/px)\n", res.ImageMeta.ImageWidth, res.ImageMeta.ImageHeight, res.ImageMeta.NMPerPixel, res.ImageMeta.SecPerPixel)

	fmt.Printf("Writing image to %q\n", *imgPath)
	if err := writeImage(*imgPath, res.Image); err != nil {
		glog.Exitf("unable to write image: %s", err)
	}
}

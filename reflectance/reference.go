package reflectance

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
)

// nearZero is the magnitude below which a denominator is treated as zero.
const nearZero = 1e-9

// Reference holds the four calibration captures of a pair and the derived
// correction factors on the band centre axis.
type Reference struct {
	Time        time.Time
	BandCenters []float64

	UpWavelengths     []float64
	UpWhite           []float64
	UpDark            []float64
	UpIntegrationMS   int
	DownWavelengths   []float64
	DownWhite         []float64
	DownDark          []float64
	DownIntegrationMS int

	// Incident and Upwelling are the dark corrected white captures resampled
	// onto BandCenters.
	Incident  []float64
	Upwelling []float64
	// CorrectionFactors is Incident/Upwelling. Bands where the upwelling
	// radiance is close to zero are NaN.
	CorrectionFactors []float64
}

// NewReference derives the correction factors from the calibration captures.
// Captures are on their channel's native axis.
func NewReference(bandCenters, upWL, upWhite, upDark, downWL, downWhite, downDark []float64) (*Reference, error) {
	incident, err := darkCorrected(bandCenters, upWL, upWhite, upDark)
	if err != nil {
		return nil, fmt.Errorf("uplooking: %w", err)
	}
	upwelling, err := darkCorrected(bandCenters, downWL, downWhite, downDark)
	if err != nil {
		return nil, fmt.Errorf("downlooking: %w", err)
	}
	return &Reference{
		BandCenters:       bandCenters,
		UpWavelengths:     upWL,
		UpWhite:           upWhite,
		UpDark:            upDark,
		DownWavelengths:   downWL,
		DownWhite:         downWhite,
		DownDark:          downDark,
		Incident:          incident,
		Upwelling:         upwelling,
		CorrectionFactors: ratio(incident, upwelling, 1),
	}, nil
}

// InvalidBands returns the indices of bands without a usable correction factor.
func (r *Reference) InvalidBands() []int {
	var idx []int
	for i, cf := range r.CorrectionFactors {
		if math.IsNaN(cf) {
			idx = append(idx, i)
		}
	}
	return idx
}

// Reflectance converts a simultaneous uplooking and downlooking capture to
// percent reflectance on the band centres.
func (r *Reference) Reflectance(up, down []float64) ([]float64, error) {
	incident, err := darkCorrected(r.BandCenters, r.UpWavelengths, up, r.UpDark)
	if err != nil {
		return nil, fmt.Errorf("uplooking: %w", err)
	}
	upwelling, err := darkCorrected(r.BandCenters, r.DownWavelengths, down, r.DownDark)
	if err != nil {
		return nil, fmt.Errorf("downlooking: %w", err)
	}
	refl := ratio(upwelling, incident, 100)
	floats.Mul(refl, r.CorrectionFactors)
	return refl, nil
}

// darkCorrected subtracts dark from white and resamples the result from the
// axis wl onto at.
func darkCorrected(at, wl, white, dark []float64) ([]float64, error) {
	if len(white) != len(wl) || len(dark) != len(wl) {
		return nil, fmt.Errorf("capture lengths %d/%d do not match %d wavelengths", len(white), len(dark), len(wl))
	}
	diff := make([]float64, len(wl))
	floats.SubTo(diff, white, dark)
	return Resample(at, wl, diff)
}

// ratio returns scale*num/den elementwise, NaN where den is close to zero.
func ratio(num, den []float64, scale float64) []float64 {
	out := make([]float64, len(num))
	for i := range num {
		if math.Abs(den[i]) < nearZero {
			out[i] = math.NaN()
			continue
		}
		out[i] = scale * num[i] / den[i]
	}
	return out
}

// Resample linearly interpolates the curve (xs, ys) at the points at. Points
// outside the curve take the nearest end value.
func Resample(at, xs, ys []float64) ([]float64, error) {
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("curve has %d x and %d y values", len(xs), len(ys))
	}
	if len(xs) < 2 {
		return nil, fmt.Errorf("curve needs at least 2 points, got %d", len(xs))
	}
	for i := 1; i < len(xs); i++ {
		if xs[i] <= xs[i-1] {
			return nil, fmt.Errorf("curve axis is not strictly increasing at index %d", i)
		}
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil, err
	}
	out := make([]float64, len(at))
	for i, x := range at {
		out[i] = pl.Predict(x)
	}
	return out, nil
}

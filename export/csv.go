package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/glog"

	"github.com/hb9tf/phenocart/sensor"
)

var (
	csvCommonHeader = []string{
		"timestamp",
		"datetime_iso",
		"quality_fix",
		"lat",
		"long",
		"alt",
		"sensor_id",
		"sensor_position",
	}
	csvKindHeader = map[sensor.Kind][]string{
		sensor.KindTemperature: {"sensorbody_temp_C", "target_temp_C"},
		sensor.KindIndex:       {"type", "index_value"},
		sensor.KindSpectrum:    {"orientation", "integration_time_ms", "spectrum"},
		sensor.KindReflectance: {"orientation", "integration_time_ms", "reflectance"},
	}
)

// CSV writes one line per record. A file only holds records of one Kind,
// which picks the trailing columns. When Kind is empty it is taken from the
// first record.
type CSV struct {
	// Out defaults to os.Stdout.
	Out  io.Writer
	Kind sensor.Kind
}

func (c *CSV) Write(ctx context.Context, records <-chan sensor.Record) error {
	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	w := csv.NewWriter(out)

	kind := c.Kind
	if kind != "" {
		if err := writeCSVHeader(w, kind); err != nil {
			return err
		}
	}

	for r := range records {
		if kind == "" {
			kind = r.Kind
			if err := writeCSVHeader(w, kind); err != nil {
				return err
			}
		}
		if r.Kind != kind {
			glog.Warningf("dropping %s record of %s from %s CSV", r.Kind, r.SensorID, kind)
			continue
		}
		if err := w.Write(csvRow(r)); err != nil {
			glog.Warningf("error while writing CSV line: %s\n", err)
		}

		w.Flush()
		if err := w.Error(); err != nil {
			glog.Warningf("error flushing CSV: %s\n", err)
		}
	}
	// Header only, when no record arrived.
	w.Flush()
	return w.Error()
}

func writeCSVHeader(w *csv.Writer, kind sensor.Kind) error {
	cols, ok := csvKindHeader[kind]
	if !ok {
		return fmt.Errorf("no CSV layout for %q records", kind)
	}
	if err := w.Write(append(append([]string{}, csvCommonHeader...), cols...)); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func csvRow(r sensor.Record) []string {
	row := []string{
		fmt.Sprintf("%.6f", float64(r.Timestamp.UnixMicro())/1e6),
		r.Fix.Time,
		strconv.Itoa(int(r.Fix.Quality)),
		formatFloat(r.Fix.Latitude),
		formatFloat(r.Fix.Longitude),
		formatFloat(r.Fix.Altitude),
		r.SensorID,
		string(r.Position),
	}
	switch {
	case r.Temperature != nil:
		row = append(row, fmt.Sprintf("%.6f", r.Temperature.BodyC), fmt.Sprintf("%.6f", r.Temperature.TargetC))
	case r.Index != nil:
		row = append(row, r.Index.Type, formatFloat(r.Index.Value))
	case r.Spectrum != nil:
		values := make([]string, len(r.Spectrum.Intensities))
		for i, v := range r.Spectrum.Intensities {
			values[i] = formatFloat(v)
		}
		row = append(row, string(r.Spectrum.Orientation), strconv.Itoa(r.Spectrum.IntegrationTimeMS), strings.Join(values, ";"))
	}
	return row
}

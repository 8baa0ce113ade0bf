package gps

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeFmt is the layout of Fix.Time.
const TimeFmt = "2006-01-02 15:04:05.000"

// Quality is the solution quality reported by the receiver.
type Quality int

const (
	QualityNone   Quality = 0
	QualityFix    Quality = 1
	QualityFloat  Quality = 2
	QualityDGPS   Quality = 4
	QualitySingle Quality = 5
)

// Status is the display colour derived from a Quality.
type Status int

const (
	StatusRed Status = iota
	StatusGreen
	StatusYellow
	StatusLightBlue
	StatusOrange
	StatusLightGrey
)

// StatusWaiting is reported while no feed delivers fixes.
const StatusWaiting = StatusLightGrey

var (
	qualityStatus = map[Quality]Status{
		QualityNone:   StatusRed,
		QualityFix:    StatusGreen,
		QualityFloat:  StatusYellow,
		QualityDGPS:   StatusLightBlue,
		QualitySingle: StatusOrange,
	}
	statusNames = map[Status]string{
		StatusRed:       "red",
		StatusGreen:     "green",
		StatusYellow:    "yellow",
		StatusLightBlue: "lightblue",
		StatusOrange:    "orange",
		StatusLightGrey: "lightgrey",
	}
)

// Status maps the quality to its display colour. Unknown codes are red.
func (q Quality) Status() Status {
	if s, ok := qualityStatus[q]; ok {
		return s
	}
	return StatusRed
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", int(s))
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Fix is a single position solution. The zero value is the unset fix.
type Fix struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"long"`
	Altitude  float64 `json:"alt"`
	Time      string  `json:"datetime_iso"`
	Quality   Quality `json:"quality_fix"`
	Valid     bool    `json:"valid"`
}

// Placeholder returns the zeroed fix used when no receiver is attached.
func Placeholder(t time.Time) Fix {
	return Fix{Time: t.Format(TimeFmt)}
}

// ParseLine parses one receiver line of the form
//
//	<date> <time> <lat> <lon> <alt> <quality> ...
//
// Trailing fields are ignored.
func ParseLine(line string) (Fix, error) {
	fields := strings.Fields(line)
	if len(fields) < 6 {
		return Fix{}, fmt.Errorf("expected at least 6 fields, got %d", len(fields))
	}
	lat, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return Fix{}, fmt.Errorf("invalid latitude %q: %w", fields[2], err)
	}
	lon, err := strconv.ParseFloat(fields[3], 64)
	if err != nil {
		return Fix{}, fmt.Errorf("invalid longitude %q: %w", fields[3], err)
	}
	alt, err := strconv.ParseFloat(fields[4], 64)
	if err != nil {
		return Fix{}, fmt.Errorf("invalid altitude %q: %w", fields[4], err)
	}
	q, err := strconv.Atoi(fields[5])
	if err != nil {
		return Fix{}, fmt.Errorf("invalid quality %q: %w", fields[5], err)
	}
	return Fix{
		Latitude:  lat,
		Longitude: lon,
		Altitude:  alt,
		Time:      strings.ReplaceAll(fields[0], "/", "-") + " " + fields[1],
		Quality:   Quality(q),
		Valid:     true,
	}, nil
}

package export

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/segmentio/kafka-go"

	"github.com/hb9tf/phenocart/filter"
	"github.com/hb9tf/phenocart/gps"
	"github.com/hb9tf/phenocart/reflectance"
	"github.com/hb9tf/phenocart/sensor"

	_ "github.com/mattn/go-sqlite3"
)

var (
	testTime = time.Unix(1717407200, 500000000)
	testFix  = gps.Fix{Latitude: 47.5, Longitude: 8.25, Altitude: 440, Time: "2024-06-03 09:33:20.500", Quality: gps.QualityFix, Valid: true}
)

func temperatureRecord(id string, seq int64) sensor.Record {
	return sensor.Record{
		Identifier: "cart-1",
		Source:     "thermal",
		Sequence:   seq,
		Timestamp:  testTime,
		Fix:        testFix,
		Measurement: sensor.Measurement{
			SensorID:    id,
			Position:    sensor.PositionLeft,
			Kind:        sensor.KindTemperature,
			Temperature: &sensor.Temperature{BodyC: 25, TargetC: 31.5},
		},
	}
}

func indexRecord() sensor.Record {
	return sensor.Record{
		Identifier: "cart-1",
		Source:     "NDVI-1",
		Timestamp:  testTime,
		Fix:        testFix,
		Measurement: sensor.Measurement{
			SensorID: "1",
			Position: sensor.PositionCenter,
			Kind:     sensor.KindIndex,
			Index:    &sensor.Index{Type: "NDVI", Value: 0.5},
		},
	}
}

func spectrumRecord(serial string, seq int64) sensor.Record {
	return sensor.Record{
		Identifier: "cart-1",
		Source:     "spectral",
		Sequence:   seq,
		Timestamp:  testTime,
		Fix:        testFix,
		Measurement: sensor.Measurement{
			SensorID: serial,
			Position: sensor.PositionRight,
			Kind:     sensor.KindSpectrum,
			Spectrum: &sensor.Spectrum{
				Wavelengths:       []float64{400, 410, 420},
				Intensities:       []float64{1000, 1500.5, 2000},
				IntegrationTimeMS: 120,
				Orientation:       sensor.Downlooking,
			},
		},
	}
}

// reflectanceRecord has no usable correction factor in its middle band.
func reflectanceRecord(serial string, seq int64) sensor.Record {
	r := spectrumRecord(serial, seq)
	r.Kind = sensor.KindReflectance
	r.Spectrum.Intensities = sensor.Floats{41.5, math.NaN(), 43}
	return r
}

func feed(records ...sensor.Record) <-chan sensor.Record {
	c := make(chan sensor.Record, len(records))
	for _, r := range records {
		c <- r
	}
	close(c)
	return c
}

func TestCSVTemperature(t *testing.T) {
	var buf bytes.Buffer
	c := &CSV{Out: &buf, Kind: sensor.KindTemperature}
	if err := c.Write(context.Background(), feed(temperatureRecord("1137", 0), indexRecord())); err != nil {
		t.Fatalf("Write() failed: %s", err)
	}
	want := "timestamp,datetime_iso,quality_fix,lat,long,alt,sensor_id,sensor_position,sensorbody_temp_C,target_temp_C\n" +
		"1717407200.500000,2024-06-03 09:33:20.500,1,47.5,8.25,440,1137,LEFT,25.000000,31.500000\n"
	if got := buf.String(); got != want {
		t.Errorf("CSV output:\n%s\nwant:\n%s", got, want)
	}
}

func TestCSVInfersKind(t *testing.T) {
	var buf bytes.Buffer
	c := &CSV{Out: &buf}
	if err := c.Write(context.Background(), feed(indexRecord(), temperatureRecord("1137", 0))); err != nil {
		t.Fatalf("Write() failed: %s", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want header and one index row:\n%s", len(lines), buf.String())
	}
	if !strings.HasSuffix(lines[0], ",type,index_value") || !strings.HasSuffix(lines[1], ",1,CENTER,NDVI,0.5") {
		t.Errorf("unexpected CSV:\n%s", buf.String())
	}
}

func TestCSVSpectrum(t *testing.T) {
	var buf bytes.Buffer
	if err := (&CSV{Out: &buf, Kind: sensor.KindSpectrum}).Write(context.Background(), feed(spectrumRecord("HDX1", 0))); err != nil {
		t.Fatalf("Write() failed: %s", err)
	}
	if !strings.Contains(buf.String(), ",HDX1,RIGHT,DOWNLOOKING,120,1000;1500.5;2000\n") {
		t.Errorf("unexpected CSV:\n%s", buf.String())
	}
}

func TestCSVUnknownKind(t *testing.T) {
	if err := (&CSV{Out: &bytes.Buffer{}, Kind: "humidity"}).Write(context.Background(), feed()); err == nil {
		t.Error("Write() accepted an unknown kind")
	}
}

func TestFloatsBlob(t *testing.T) {
	in := []float64{400, -2, 1.5, 65535}
	b := EncodeFloats(in)
	if len(b) != 16 {
		t.Fatalf("EncodeFloats() gave %d bytes, want 16", len(b))
	}
	out, err := DecodeFloats(b)
	if err != nil {
		t.Fatalf("DecodeFloats() failed: %s", err)
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("value %d = %f, want %f", i, out[i], in[i])
		}
	}
	if _, err := DecodeFloats(b[:5]); err == nil {
		t.Error("DecodeFloats() accepted a truncated blob")
	}
}

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "phenocart.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQL(t *testing.T) {
	db := openSQLite(t)
	s := &SQL{DB: db, Dialect: DialectSQLite}
	if err := s.Write(context.Background(), feed(temperatureRecord("1137", 0), indexRecord(), spectrumRecord("HDX1", 3))); err != nil {
		t.Fatalf("Write() failed: %s", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM records`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 3 {
		t.Errorf("stored %d records, want 3", count)
	}

	var target float64
	var indexValue sql.NullFloat64
	if err := db.QueryRow(`SELECT TargetTempC, IndexValue FROM records WHERE SensorID = ?`, "1137").Scan(&target, &indexValue); err != nil {
		t.Fatal(err)
	}
	if target != 31.5 || indexValue.Valid {
		t.Errorf("temperature row: target %f, index %v", target, indexValue)
	}

	var ts int64
	var blob []byte
	if err := db.QueryRow(`SELECT Timestamp, Intensities FROM records WHERE Kind = 'spectrum'`).Scan(&ts, &blob); err != nil {
		t.Fatal(err)
	}
	values, err := DecodeFloats(blob)
	if err != nil || len(values) != 3 || values[1] != 1500.5 {
		t.Errorf("stored spectrum = %v (%v)", values, err)
	}
	if ts != testTime.UnixMilli() {
		t.Errorf("timestamp = %d, want %d", ts, testTime.UnixMilli())
	}
}

func TestArchive(t *testing.T) {
	wl := []float64{400, 410, 420}
	ref, err := reflectance.NewReference(wl, wl, []float64{2000, 3000, 4000}, []float64{1000, 1000, 1000}, wl, []float64{3000, 5000, 7000}, []float64{1000, 1000, 1000})
	if err != nil {
		t.Fatal(err)
	}
	db := openSQLite(t)
	a := &Archive{
		DB:      db,
		Panel:   &Panel{Wavelengths: wl, Reflectance: []float64{0.99, 0.99, 0.98}},
		Modules: []Module{{Position: sensor.PositionRight, Reference: ref}},
	}
	if err := a.Write(context.Background(), feed(spectrumRecord("HDX1", 0), temperatureRecord("1137", 0), spectrumRecord("HDX1", 1))); err != nil {
		t.Fatalf("Write() failed: %s", err)
	}

	for table, want := range map[string]int{"reference_panel": 1, "calibration": 1, "spectrometers": 1, "raw": 2} {
		var n int
		if err := db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != want {
			t.Errorf("%s has %d rows, want %d", table, n, want)
		}
	}

	var blob []byte
	if err := db.QueryRow(`SELECT CorrectionFactors FROM calibration WHERE Position = 'RIGHT'`).Scan(&blob); err != nil {
		t.Fatal(err)
	}
	cf, err := DecodeFloats(blob)
	if err != nil || len(cf) != 3 || cf[0] != 0.5 {
		t.Errorf("correction factors = %v (%v), want [0.5 ...]", cf, err)
	}
}

func TestArchiveUncalibratedModule(t *testing.T) {
	a := &Archive{DB: openSQLite(t), Modules: []Module{{Position: sensor.PositionLeft}}}
	if err := a.Write(context.Background(), feed()); err == nil {
		t.Error("Write() accepted a module without calibration")
	}
}

type doneToken struct {
	mqtt.Token
	err error
}

func (d *doneToken) Wait() bool                     { return true }
func (d *doneToken) WaitTimeout(time.Duration) bool { return true }
func (d *doneToken) Error() error                   { return d.err }

type fakeMQTT struct {
	mqtt.Client
	topics   []string
	payloads [][]byte
	fail     error
}

func (f *fakeMQTT) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	f.topics = append(f.topics, topic)
	f.payloads = append(f.payloads, payload.([]byte))
	return &doneToken{err: f.fail}
}

func TestMQTT(t *testing.T) {
	client := &fakeMQTT{}
	m := &MQTT{Client: client, Topic: "phenocart/cart-1"}
	if err := m.Write(context.Background(), feed(temperatureRecord("1137", 4), indexRecord())); err != nil {
		t.Fatalf("Write() failed: %s", err)
	}
	if len(client.topics) != 2 || client.topics[0] != "phenocart/cart-1/thermal/1137" || client.topics[1] != "phenocart/cart-1/NDVI-1/1" {
		t.Fatalf("topics = %v", client.topics)
	}
	var r sensor.Record
	if err := json.Unmarshal(client.payloads[0], &r); err != nil {
		t.Fatal(err)
	}
	if r.Sequence != 4 || r.Temperature == nil || r.Temperature.TargetC != 31.5 {
		t.Errorf("payload = %s", client.payloads[0])
	}

	client.fail = errors.New("not connected")
	if err := m.Write(context.Background(), feed(indexRecord())); err != nil {
		t.Errorf("Write() must absorb publish failures, got %s", err)
	}
}

type fakeKafka struct {
	batches [][]kafka.Message
}

func (f *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.batches = append(f.batches, msgs)
	return nil
}

func TestKafka(t *testing.T) {
	w := &fakeKafka{}
	k := &Kafka{Writer: w, BatchSize: 2}
	if err := k.Write(context.Background(), feed(temperatureRecord("1137", 0), temperatureRecord("1138", 0), indexRecord())); err != nil {
		t.Fatalf("Write() failed: %s", err)
	}
	if len(w.batches) != 2 || len(w.batches[0]) != 2 || len(w.batches[1]) != 1 {
		t.Fatalf("batches = %v", w.batches)
	}
	if got := string(w.batches[0][1].Key); got != "1138" {
		t.Errorf("key = %q, want 1138", got)
	}
	if !w.batches[1][0].Time.Equal(testTime) {
		t.Errorf("message time = %s", w.batches[1][0].Time)
	}
}

func TestRemote(t *testing.T) {
	var mu sync.Mutex
	var batches []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/"+CollectEndpoint || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var records []sensor.Record
		if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		batches = append(batches, len(records))
		mu.Unlock()
		json.NewEncoder(w).Encode(CollectResponse{Status: "ok", RecordCount: len(records)})
	}))
	defer srv.Close()

	rem := &Remote{Server: srv.URL + "/", SendRecordsAmount: 2}
	if err := rem.Write(context.Background(), feed(temperatureRecord("1137", 0), temperatureRecord("1137", 1), temperatureRecord("1137", 2))); err != nil {
		t.Fatalf("Write() failed: %s", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 2 || batches[0] != 2 || batches[1] != 1 {
		t.Errorf("collector saw batches %v, want [2 1]", batches)
	}
}

type sliceExporter struct {
	records []sensor.Record
	err     error
}

func (s *sliceExporter) Write(_ context.Context, records <-chan sensor.Record) error {
	if s.err != nil {
		return s.err
	}
	for r := range records {
		s.records = append(s.records, r)
	}
	return nil
}

func TestMulti(t *testing.T) {
	a, b := &sliceExporter{}, &sliceExporter{err: errors.New("broker down")}
	c := &sliceExporter{}
	err := Multi{a, b, c}.Write(context.Background(), feed(temperatureRecord("1137", 0), indexRecord()))
	if err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Errorf("Write() = %v, want the failing exporter's error", err)
	}
	if len(a.records) != 2 || len(c.records) != 2 {
		t.Errorf("exporters got %d and %d records, want 2 each", len(a.records), len(c.records))
	}
}

func TestKafkaInvalidBands(t *testing.T) {
	w := &fakeKafka{}
	k := &Kafka{Writer: w, BatchSize: 1}
	if err := k.Write(context.Background(), feed(reflectanceRecord("HDX1", 0), reflectanceRecord("HDX1", 1))); err != nil {
		t.Fatalf("Write() failed: %s", err)
	}
	if len(w.batches) != 2 {
		t.Fatalf("got %d batches, want 2", len(w.batches))
	}
	var r sensor.Record
	if err := json.Unmarshal(w.batches[1][0].Value, &r); err != nil {
		t.Fatalf("message does not decode: %s", err)
	}
	if r.Sequence != 1 || r.Kind != sensor.KindReflectance || len(r.Spectrum.Intensities) != 3 {
		t.Fatalf("decoded record = %+v", r)
	}
	if !math.IsNaN(r.Spectrum.Intensities[1]) || r.Spectrum.Intensities[2] != 43 {
		t.Errorf("intensities = %v, want [41.5 NaN 43]", r.Spectrum.Intensities)
	}
}

func TestRemoteInvalidBands(t *testing.T) {
	var mu sync.Mutex
	var received []sensor.Record
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var records []sensor.Record
		if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, records...)
		mu.Unlock()
		json.NewEncoder(w).Encode(CollectResponse{Status: "ok", RecordCount: len(records)})
	}))
	defer srv.Close()

	var records []sensor.Record
	for i := int64(0); i < 4; i++ {
		records = append(records, reflectanceRecord("HDX1", i))
	}
	rem := &Remote{Server: srv.URL + "/", SendRecordsAmount: 2}
	if err := rem.Write(context.Background(), feed(records...)); err != nil {
		t.Fatalf("Write() failed: %s", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(received) != 4 {
		t.Fatalf("collector received %d of 4 records", len(received))
	}
	for _, r := range received {
		if got := r.Spectrum.Intensities; len(got) != 3 || !math.IsNaN(got[1]) || got[0] != 41.5 {
			t.Errorf("record %d intensities = %v", r.Sequence, got)
		}
	}
}

func TestFiltered(t *testing.T) {
	s := &sliceExporter{}
	f := &Filtered{Exporter: s, Filters: []filter.Filterer{&filter.FilterKind{Kinds: []sensor.Kind{sensor.KindReflectance}}}}
	if err := f.Write(context.Background(), feed(spectrumRecord("UP", 0), reflectanceRecord("HDX1", 0), spectrumRecord("HDX1", 0))); err != nil {
		t.Fatalf("Write() failed: %s", err)
	}
	if len(s.records) != 1 || s.records[0].Kind != sensor.KindReflectance {
		t.Errorf("exporter got %+v, want the reflectance record only", s.records)
	}

	boom := errors.New("disk full")
	f = &Filtered{Exporter: &sliceExporter{err: boom}}
	if err := f.Write(context.Background(), feed(spectrumRecord("UP", 0), spectrumRecord("UP", 1))); !errors.Is(err, boom) {
		t.Errorf("Write() = %v, want %v", err, boom)
	}
}

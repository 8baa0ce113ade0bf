package main

/*
This application runs a collection session on the phenotyping cart. Each
sensor group is read by its own loop: infrared radiometers, SDI-12 NDVI and
PRI sensors and spectrometer pairs. Every record carries the latest fix of
the RTK GPS receiver. Stop the session with Ctrl-C.
*/

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hb9tf/phenocart/acquisition"
	"github.com/hb9tf/phenocart/export"
	"github.com/hb9tf/phenocart/filter"
	"github.com/hb9tf/phenocart/gps"
	"github.com/hb9tf/phenocart/metrics"
	"github.com/hb9tf/phenocart/reflectance"
	"github.com/hb9tf/phenocart/sdi12"
	"github.com/hb9tf/phenocart/sensor"
	"github.com/hb9tf/phenocart/status"
	"github.com/hb9tf/phenocart/thermal"
	"github.com/hb9tf/phenocart/worker"

	// Blind import support for sqlite3 used by the session and archive DBs.
	_ "github.com/mattn/go-sqlite3"
)

// Flags
var (
	identifier   = flag.String("id", "", "unique identifier of the cart (defaults to a random UUID)")
	root         = flag.String("root", "/tmp/phenocart", "Root folder of the session logs.")
	trial        = flag.String("trial", "trial", "Name of the trial, part of every log folder name.")
	fake         = flag.Bool("fake", false, "Use simulated radiometers, SDI-12 sensors and spectrometers.")
	stopTimeout  = flag.Duration("stopTimeout", 10*time.Second, "How long to wait for each loop to stop on exit.")
	statusListen = flag.String("statusListen", ":8080", "Address of the status server (empty disables it).")

	// GPS
	gpsAddr      = flag.String("gpsAddr", "", "host:port of the receiver streaming LLH lines, e.g. 192.168.42.1:9001 (empty disables positioning).")
	gpsTimeout   = flag.Duration("gpsTimeout", gps.DefaultTimeout, "Dial and read timeout of the GPS link.")
	fixQualities = flag.String("fixQualities", "", "Comma separated fix qualities to keep, e.g. 1,2 (empty keeps all records).")

	// Radiometers
	withTemperature     = flag.Bool("temperature", false, "Run the infrared radiometer loop.")
	thermalChannels     = flag.String("thermalChannels", "", "JSON file listing the radiometer channels, top of the thermistor chain first (defaults to the cart wiring).")
	thermalTable        = flag.String("thermalTable", "", "JSON file of unit calibration coefficients (defaults to the built-in table).")
	voltageDivider      = flag.Bool("voltageDivider", false, "Thermistors are read through a voltage divider instead of a current source.")
	temperatureInterval = flag.Duration("temperatureInterval", 600*time.Millisecond, "Pause between radiometer reads.")

	// SDI-12
	withIndices   = flag.Bool("indices", false, "Run the NDVI and PRI loop.")
	sdi12Port     = flag.String("sdi12Port", "/dev/ttyUSB0", "Serial adapter of the SDI-12 bus.")
	ndviUp        = flag.String("ndviUp", "1", "Address of the uplooking NDVI sensor.")
	ndviDown      = flag.String("ndviDown", "2:RIGHT,3:CENTER,4:LEFT", "Comma separated address:POSITION of the downlooking NDVI sensors.")
	priUp         = flag.String("priUp", "a", "Address of the uplooking PRI sensor.")
	priDown       = flag.String("priDown", "b:RIGHT,c:CENTER,d:LEFT", "Comma separated address:POSITION of the downlooking PRI sensors.")
	indexInterval = flag.Duration("indexInterval", 2*time.Second, "Pause between index reads.")

	// Spectrometers
	withSpectral     = flag.Bool("spectral", false, "Calibrate the spectrometer pairs and run the spectral loop.")
	spectralUp       = flag.String("spectralUp", "HDX01010", "Serial of the uplooking spectrometer.")
	spectralDown     = flag.String("spectralDown", "HDX01033:RIGHT,HDX01034:CENTER,HDX01032:LEFT", "Comma separated serial:POSITION of the downlooking spectrometers.")
	integrationMS    = flag.Int("integrationMS", 100, "Initial integration time in ms.")
	scans            = flag.Int("scans", 3, "Scans averaged per spectrum.")
	boxcarWidth      = flag.Int("boxcar", 0, "Boxcar smoothing width in pixels (below 2 disables smoothing).")
	optimize         = flag.Bool("optimize", true, "Optimize the downlooking integration time on the white reference.")
	panelFile        = flag.String("panelFile", "", "JSON file with the certified reflectance of the white reference panel.")
	interactive      = flag.Bool("interactive", false, "Ask on the console before each calibration capture, even with -fake.")
	spectralInterval = flag.Duration("spectralInterval", 200*time.Millisecond, "Pause between spectral reads.")

	// Export
	output        = flag.String("output", "csv", "Local export mechanism (one of: csv, sqlite)")
	live          = flag.String("live", "", "Optional live export (one of: mqtt, kafka, remote)")
	mqttBroker    = flag.String("mqttBroker", "tcp://localhost:1883", "MQTT broker URL.")
	mqttTopic     = flag.String("mqttTopic", "phenocart", "Topic prefix to publish records under.")
	kafkaBrokers  = flag.String("kafkaBrokers", "localhost:9092", "Comma separated list of Kafka brokers.")
	kafkaTopic    = flag.String("kafkaTopic", "phenocart.records", "Kafka topic to write records to.")
	remoteServer  = flag.String("remoteServer", "https://localhost:8443", "URL scheme, address and port of the collector server.")
	remoteRecords = flag.Int("remoteRecords", 0, "Defines how many records should be sent to the server at once.")
)

type session struct {
	identifier string
	position   acquisition.Positioner
	metrics    *metrics.Collector
	filters    []filter.Filterer
	group      *worker.Group
	loops      []*worker.Worker
}

func (s *session) start(ctx context.Context, name string, interval time.Duration, exporter export.Exporter, sources ...acquisition.Source) {
	loop := &acquisition.Loop{
		Name:       name,
		Identifier: s.identifier,
		Sources:    sources,
		Interval:   interval,
		Position:   s.position,
		Metrics:    s.metrics,
	}
	s.loops = append(s.loops, s.group.Start(ctx, name, func(ctx context.Context) error {
		return acquisition.Run(ctx, loop, exporter, s.filters...)
	}))
}

// spectralLoop runs the only loop touching the spectrometers of rig. Raw
// spectra go to archive, the reflectance of each pair to exporter.
func (s *session) spectralLoop(ctx context.Context, rig *spectralRig, interval time.Duration, archive, exporter export.Exporter) {
	only := func(kind sensor.Kind, e export.Exporter) export.Exporter {
		return &export.Filtered{Exporter: e, Filters: []filter.Filterer{&filter.FilterKind{Kinds: []sensor.Kind{kind}}}}
	}
	sink := export.Multi{only(sensor.KindSpectrum, archive), only(sensor.KindReflectance, exporter)}
	s.start(ctx, "spectral", interval, sink, &acquisition.Spectral{Channels: rig.channels(), Pairs: rig.pairs})
}

// wait blocks until ctx is done or every loop has stopped on its own.
func (s *session) wait(ctx context.Context) {
	allDone := make(chan struct{})
	go func() {
		for _, w := range s.loops {
			<-w.Done()
		}
		close(allDone)
	}()
	select {
	case <-ctx.Done():
		glog.Infof("stopping collection")
	case <-allDone:
		glog.Warningf("all acquisition loops stopped")
	}
}

func startTemperature(ctx context.Context, s *session, out *outputs) {
	if !*fake {
		glog.Exitf("no data acquisition driver is built in for the radiometers, run with -fake")
	}
	chs, err := loadThermalChannels(*thermalChannels)
	if err != nil {
		glog.Exitf("unable to load thermal channels: %s", err)
	}
	table, err := loadThermalTable(*thermalTable)
	if err != nil {
		glog.Exitf("unable to load thermal coefficients: %s", err)
	}
	array, err := thermal.NewArray(fakeThermalReader(chs), chs, table)
	if err != nil {
		glog.Exitf("unable to set up radiometers: %s", err)
	}
	if *voltageDivider {
		array.Excitation = thermal.VoltageDivider
	}
	exporter, err := out.exporter("temperature", sensor.KindTemperature)
	if err != nil {
		glog.Exitf("unable to set up temperature export: %s", err)
	}
	s.start(ctx, "temperature", *temperatureInterval, exporter, array)
}

func startIndices(ctx context.Context, s *session, out *outputs) *sdi12.Bus {
	ndviDowns, err := parseUnits(*ndviDown)
	if err != nil {
		glog.Exitf("invalid -ndviDown: %s", err)
	}
	priDowns, err := parseUnits(*priDown)
	if err != nil {
		glog.Exitf("invalid -priDown: %s", err)
	}
	var bus *sdi12.Bus
	if *fake {
		bus = sdi12.NewBus(fakeSDI12Port(*ndviUp, ndviDowns, *priUp, priDowns))
	} else if bus, err = sdi12.OpenSerial(*sdi12Port, nil); err != nil {
		glog.Exitf("unable to open SDI-12 bus: %s", err)
	}
	sources := indexSources(bus, *ndviUp, ndviDowns, *priUp, priDowns)
	if len(sources) == 0 {
		glog.Warningf("no downlooking NDVI or PRI sensors configured")
		return bus
	}
	exporter, err := out.exporter("index", sensor.KindIndex)
	if err != nil {
		glog.Exitf("unable to set up index export: %s", err)
	}
	s.start(ctx, "ndvi_pri", *indexInterval, exporter, sources...)
	return bus
}

func startSpectral(ctx context.Context, s *session, out *outputs) []*reflectance.Pair {
	if !*fake {
		glog.Exitf("no spectrometer driver is built in, run with -fake")
	}
	downs, err := parseUnits(*spectralDown)
	if err != nil {
		glog.Exitf("invalid -spectralDown: %s", err)
	}
	fakes, devices := fakeSpectrometers(*spectralUp, downs)
	rig, err := newSpectralRig(devices, *spectralUp, downs, *integrationMS, *scans, *boxcarWidth)
	if err != nil {
		glog.Exitf("unable to set up spectrometers: %s", err)
	}
	panel, err := loadPanel(*panelFile)
	if err != nil {
		glog.Exitf("unable to load panel reflectance: %s", err)
	}

	operator := &simulatedOperator{devices: fakes}
	if *interactive {
		operator.confirm = &reflectance.ConsolePrompter{In: os.Stdin, Out: os.Stdout}
	}
	modules := make([]export.Module, 0, len(rig.pairs))
	for _, p := range rig.pairs {
		p.Optimizer.Metrics = s.metrics
		if panel != nil {
			if err := p.SetPanelReflectance(panel.Wavelengths, panel.Reflectance); err != nil {
				glog.Warningf("pair %s: %s", p.Position, err)
			}
		}
		err := p.Calibrate(ctx, operator, *optimize)
		operator.uncover()
		if err != nil {
			glog.Exitf("unable to calibrate the %s pair: %s", p.Position, err)
		}
		ref, err := p.Reference()
		if err != nil {
			glog.Exitf("pair %s: %s", p.Position, err)
		}
		modules = append(modules, export.Module{Position: p.Position, Reference: ref})
	}

	archive, err := out.archive(panel, modules)
	if err != nil {
		glog.Exitf("unable to set up spectral archive: %s", err)
	}
	exporter, err := out.exporter("reflectance", sensor.KindReflectance)
	if err != nil {
		glog.Exitf("unable to set up reflectance export: %s", err)
	}
	s.spectralLoop(ctx, rig, *spectralInterval, archive, exporter)
	return rig.pairs
}

func main() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()
	defer glog.Flush()

	if *identifier == "" {
		*identifier = uuid.NewString()
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	started := time.Now()

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		glog.Exitf("unable to register metrics: %s", err)
	}

	s := &session{
		identifier: *identifier,
		metrics:    m,
		group:      &worker.Group{},
	}
	qualities, err := parseQualities(*fixQualities)
	if err != nil {
		glog.Exitf("invalid -fixQualities: %s", err)
	}
	if len(qualities) > 0 {
		s.filters = append(s.filters, &filter.FilterFixQuality{Accept: qualities})
	}

	// GPS setup
	var feed *gps.Feed
	if *gpsAddr != "" {
		feed = gps.NewFeed(*gpsAddr)
		feed.Timeout = *gpsTimeout
		feed.Metrics = m
		s.position = feed
		s.group.Start(ctx, "gps", feed.Run)
	} else {
		glog.Warningf("no GPS receiver configured, records get a placeholder fix")
	}

	out := &outputs{
		Root:          *root,
		Trial:         *trial,
		Identifier:    *identifier,
		Local:         *output,
		Live:          *live,
		Started:       started,
		Metrics:       m,
		MQTTBroker:    *mqttBroker,
		MQTTTopic:     *mqttTopic,
		KafkaBrokers:  *kafkaBrokers,
		KafkaTopic:    *kafkaTopic,
		RemoteServer:  *remoteServer,
		RemoteRecords: *remoteRecords,
	}

	// Loops
	if *withTemperature {
		startTemperature(ctx, s, out)
	}
	if *withIndices {
		bus := startIndices(ctx, s, out)
		defer bus.Close()
	}
	var pairs []*reflectance.Pair
	if *withSpectral {
		pairs = startSpectral(ctx, s, out)
	}
	if len(s.loops) == 0 {
		glog.Exitf("nothing to collect, enable at least one of -temperature, -indices, -spectral")
	}
	glog.Infof("collection %s started with %d loops", *identifier, len(s.loops))

	// Status server
	var server *http.Server
	if *statusListen != "" {
		gin.SetMode(gin.ReleaseMode)
		st := &status.Server{
			Identifier: *identifier,
			Workers:    s.group,
			Pairs:      pairs,
			Gatherer:   reg,
			Started:    started,
		}
		if feed != nil {
			st.Feed = feed
		}
		server = &http.Server{
			Addr:    *statusListen,
			Handler: st.Router(),
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				glog.Warningf("status server failed: %s", err)
			}
		}()
	}

	s.wait(ctx)
	if stuck := s.group.StopAll(*stopTimeout); len(stuck) > 0 {
		glog.Warningf("workers still running at exit: %s", strings.Join(stuck, ", "))
	}
	out.Close()
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), *stopTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			glog.Warningf("unclean status server shutdown: %s", err)
		}
	}
}

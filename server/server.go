package main

/*
The collector receives batches of records from field carts running the
collection tool with -output remote and stores them with one exporter.
*/

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hb9tf/phenocart/export"
	"github.com/hb9tf/phenocart/metrics"
	"github.com/hb9tf/phenocart/sensor"

	// Blind import support for sqlite3 used by export.SQL.
	_ "github.com/mattn/go-sqlite3"
)

var (
	listen   = flag.String("listen", ":8443", "Address to listen on.")
	certFile = flag.String("certFile", "", "Path of the file containing the certificate (including the chained intermediates and root) for the TLS connection.")
	keyFile  = flag.String("keyFile", "", "Path of the file containing the key for the TLS connection.")
	output   = flag.String("output", "", "Export mechanism to use (one of: csv, sqlite, mysql, kafka, mqtt)")

	// SQLite
	sqliteFile = flag.String("sqliteFile", "/tmp/phenocart.db", "File path of the sqlite DB file to use.")

	// MySQL
	mysqlServer       = flag.String("mysqlServer", "127.0.0.1:3306", "MySQL TCP server endpoint to connect to (IP/DNS and port).")
	mysqlUser         = flag.String("mysqlUser", "", "MySQL DB user.")
	mysqlPasswordFile = flag.String("mysqlPasswordFile", "", "Path to the file containing the password for the MySQL user.")
	mysqlDBName       = flag.String("mysqlDBName", "phenocart", "Name of the DB to use.")

	// Kafka
	kafkaBrokers = flag.String("kafkaBrokers", "localhost:9092", "Comma separated list of Kafka brokers.")
	kafkaTopic   = flag.String("kafkaTopic", "phenocart.records", "Kafka topic to write records to.")

	// MQTT
	mqttBroker = flag.String("mqttBroker", "tcp://localhost:1883", "MQTT broker URL.")
	mqttTopic  = flag.String("mqttTopic", "phenocart", "Topic prefix to publish records under.")
)

const (
	recordBuffer    = 1000
	shutdownTimeout = 10 * time.Second
)

type collector struct {
	records chan<- sensor.Record
	metrics *metrics.Collector
}

func (s *collector) collectHandler(c *gin.Context) {
	records := []sensor.Record{}
	if err := c.ShouldBindJSON(&records); err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	for _, r := range records {
		s.records <- r
	}
	c.JSON(http.StatusOK, export.CollectResponse{
		Status:      "ok",
		RecordCount: len(records),
	})
}

func (s *collector) router(gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/"+export.CollectEndpoint, s.collectHandler)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	return r
}

func newExporter(name string, m *metrics.Collector) (export.Exporter, error) {
	switch strings.ToLower(name) {
	case "csv":
		return &export.CSV{}, nil
	case "sqlite":
		db, err := sql.Open("sqlite3", *sqliteFile)
		if err != nil {
			return nil, err
		}
		return &export.SQL{DB: db, Dialect: export.DialectSQLite, Metrics: m}, nil
	case "mysql":
		db, err := export.OpenMySQL(export.MySQLOptions{
			Server:       *mysqlServer,
			User:         *mysqlUser,
			PasswordFile: *mysqlPasswordFile,
			DBName:       *mysqlDBName,
		})
		if err != nil {
			return nil, err
		}
		return &export.SQL{DB: db, Dialect: export.DialectMySQL, Metrics: m}, nil
	case "kafka":
		return &export.Kafka{
			Writer:  export.NewKafkaWriter(*kafkaTopic, strings.Split(*kafkaBrokers, ",")...),
			Metrics: m,
		}, nil
	case "mqtt":
		client, err := export.ConnectMQTT(*mqttBroker, "phenocart-server")
		if err != nil {
			return nil, err
		}
		return &export.MQTT{Client: client, Topic: *mqttTopic, Metrics: m}, nil
	}
	return nil, errors.New("pick one of: csv, sqlite, mysql, kafka, mqtt")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "false")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()
	defer glog.Flush()
	gin.SetMode(gin.ReleaseMode)

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		glog.Exitf("unable to register metrics: %s", err)
	}

	exporter, err := newExporter(*output, m)
	if err != nil {
		glog.Exitf("unable to set up export method %q: %s", *output, err)
	}

	// Export records.
	records := make(chan sensor.Record, recordBuffer)
	exported := make(chan error, 1)
	go func() {
		exported <- exporter.Write(ctx, records)
	}()

	s := &collector{records: records, metrics: m}
	server := &http.Server{
		Addr:    *listen,
		Handler: s.router(reg),
	}
	go func() {
		var err error
		if *certFile != "" || *keyFile != "" {
			err = server.ListenAndServeTLS(*certFile, *keyFile)
		} else {
			glog.Infoln("Resorting to serving HTTP because there was no certificate and key defined.")
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Exitf("server failed: %s", err)
		}
	}()

	<-ctx.Done()
	glog.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		glog.Warningf("unclean HTTP shutdown: %s", err)
	}
	// No handler sends anymore, let the exporter drain.
	close(records)
	if err := <-exported; err != nil {
		glog.Errorf("export failed: %s", err)
	}
}

package main

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"github.com/hb9tf/phenocart/export"
	"github.com/hb9tf/phenocart/logpath"
	"github.com/hb9tf/phenocart/metrics"
	"github.com/hb9tf/phenocart/sensor"
)

// mqttDisconnectQuiesce is how long in ms the MQTT client may finish pending work.
const mqttDisconnectQuiesce = 250

// outputs creates the exporters of the session's loops. Files are named
// after the session start, connections are shared between loops.
type outputs struct {
	Root       string
	Trial      string
	Identifier string
	Local      string
	Live       string
	Started    time.Time
	Metrics    *metrics.Collector

	// Live export settings.
	MQTTBroker    string
	MQTTTopic     string
	KafkaBrokers  string
	KafkaTopic    string
	RemoteServer  string
	RemoteRecords int

	db      *sql.DB
	mqtt    mqtt.Client
	kafka   io.Closer
	writer  export.MessageWriter
	closers []io.Closer
}

func (o *outputs) path(content, ext string) (string, error) {
	return logpath.Path(o.Root, o.Trial, content, ext, o.Started)
}

// exporter returns the local exporter for one loop, fanned out to the live
// exporter when one is configured.
func (o *outputs) exporter(content string, kind sensor.Kind) (export.Exporter, error) {
	local, err := o.local(content, kind)
	if err != nil {
		return nil, err
	}
	if o.Live == "" {
		return local, nil
	}
	live, err := o.live()
	if err != nil {
		return nil, err
	}
	return export.Multi{local, live}, nil
}

func (o *outputs) local(content string, kind sensor.Kind) (export.Exporter, error) {
	switch strings.ToLower(o.Local) {
	case "csv":
		p, err := o.path(content, ".csv")
		if err != nil {
			return nil, err
		}
		f, err := os.Create(p)
		if err != nil {
			return nil, err
		}
		o.closers = append(o.closers, f)
		glog.Infof("writing %s records to %s", content, p)
		return &export.CSV{Out: f, Kind: kind}, nil
	case "sqlite":
		db, err := o.sessionDB()
		if err != nil {
			return nil, err
		}
		return &export.SQL{DB: db, Dialect: export.DialectSQLite, Metrics: o.Metrics}, nil
	}
	return nil, fmt.Errorf("%q is not a supported export method, pick one of: csv, sqlite", o.Local)
}

// sessionDB opens the sqlite database shared by all loops of the session.
func (o *outputs) sessionDB() (*sql.DB, error) {
	if o.db != nil {
		return o.db, nil
	}
	p, err := o.path("records", ".db")
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", p)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite DB %q: %w", p, err)
	}
	// Loops write concurrently, sqlite takes one writer at a time.
	db.SetMaxOpenConns(1)
	o.db = db
	o.closers = append(o.closers, db)
	glog.Infof("writing records to %s", p)
	return db, nil
}

// archive returns the spectral archive exporter, one sqlite file per session.
func (o *outputs) archive(panel *export.Panel, modules []export.Module) (export.Exporter, error) {
	p, err := o.path("spectral", ".db")
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", p)
	if err != nil {
		return nil, fmt.Errorf("unable to open spectral archive %q: %w", p, err)
	}
	o.closers = append(o.closers, db)
	glog.Infof("archiving spectra to %s", p)
	return &export.Archive{DB: db, Panel: panel, Modules: modules, Metrics: o.Metrics}, nil
}

func (o *outputs) live() (export.Exporter, error) {
	switch strings.ToLower(o.Live) {
	case "mqtt":
		if o.mqtt == nil {
			c, err := export.ConnectMQTT(o.MQTTBroker, "phenocart-"+o.Identifier)
			if err != nil {
				return nil, err
			}
			o.mqtt = c
		}
		return &export.MQTT{Client: o.mqtt, Topic: o.MQTTTopic, Metrics: o.Metrics}, nil
	case "kafka":
		if o.writer == nil {
			w := export.NewKafkaWriter(o.KafkaTopic, strings.Split(o.KafkaBrokers, ",")...)
			o.writer, o.kafka = w, w
		}
		return &export.Kafka{Writer: o.writer, Metrics: o.Metrics}, nil
	case "remote":
		return &export.Remote{Server: o.RemoteServer, SendRecordsAmount: o.RemoteRecords, Metrics: o.Metrics}, nil
	}
	return nil, fmt.Errorf("%q is not a supported live export, pick one of: mqtt, kafka, remote", o.Live)
}

// Close releases files and connections once all loops have stopped.
func (o *outputs) Close() {
	for _, c := range o.closers {
		if err := c.Close(); err != nil {
			glog.Warningf("error closing output: %s", err)
		}
	}
	if o.kafka != nil {
		if err := o.kafka.Close(); err != nil {
			glog.Warningf("error closing kafka writer: %s", err)
		}
	}
	if o.mqtt != nil {
		o.mqtt.Disconnect(mqttDisconnectQuiesce)
	}
}

package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/glog"

	"github.com/hb9tf/phenocart/metrics"
	"github.com/hb9tf/phenocart/sensor"
)

const defaultPublishTimeout = 5 * time.Second

// MQTT publishes every record as JSON to <Topic>/<source>/<sensor id> for
// live monitoring in the field.
type MQTT struct {
	Client mqtt.Client
	Topic  string
	QoS    byte
	// PublishTimeout bounds the wait for each publish, 5s by default.
	PublishTimeout time.Duration
	Metrics        *metrics.Collector
}

// ConnectMQTT connects to broker, e.g. tcp://localhost:1883.
func ConnectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID).SetAutoReconnect(true)
	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("unable to connect to MQTT broker %s: %w", broker, token.Error())
	}
	return c, nil
}

func (m *MQTT) Write(ctx context.Context, records <-chan sensor.Record) error {
	timeout := m.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	for r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			glog.Warningf("error marshalling record to JSON: %s\n", err)
			continue
		}
		topic := fmt.Sprintf("%s/%s/%s", m.Topic, r.Source, r.SensorID)
		token := m.Client.Publish(topic, m.QoS, false, payload)
		if !token.WaitTimeout(timeout) {
			m.Metrics.Export("mqtt", false)
			glog.Warningf("publishing to %s timed out after %s\n", topic, timeout)
			continue
		}
		if err := token.Error(); err != nil {
			m.Metrics.Export("mqtt", false)
			glog.Warningf("failed to publish to %s: %s\n", topic, err)
			continue
		}
		m.Metrics.Export("mqtt", true)
	}
	return nil
}

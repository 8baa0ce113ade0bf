package export

import (
	"context"
	"encoding/json"

	"github.com/golang/glog"
	"github.com/segmentio/kafka-go"

	"github.com/hb9tf/phenocart/metrics"
	"github.com/hb9tf/phenocart/sensor"
)

const defaultKafkaBatch = 50

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Kafka streams records as JSON messages keyed by sensor id.
type Kafka struct {
	Writer MessageWriter
	// BatchSize is the number of records sent per WriteMessages call.
	BatchSize int
	Metrics   *metrics.Collector
}

// NewKafkaWriter returns a writer for topic on the given brokers.
func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func (k *Kafka) Write(ctx context.Context, records <-chan sensor.Record) error {
	batchSize := defaultKafkaBatch
	if k.BatchSize > 0 {
		batchSize = k.BatchSize
	}

	var batch []kafka.Message
	flush := func() {
		if len(batch) == 0 {
			return
		}
		err := k.Writer.WriteMessages(context.WithoutCancel(ctx), batch...)
		for range batch {
			k.Metrics.Export("kafka", err == nil)
		}
		if err != nil {
			glog.Warningf("error writing %d messages to kafka: %s\n", len(batch), err)
		} else {
			glog.V(2).Infof("wrote %d messages to kafka", len(batch))
		}
		batch = nil
	}

	for r := range records {
		value, err := json.Marshal(r)
		if err != nil {
			glog.Warningf("error marshalling record to JSON: %s\n", err)
			continue
		}
		batch = append(batch, kafka.Message{
			Key:   []byte(r.SensorID),
			Value: value,
			Time:  r.Timestamp,
		})
		if len(batch) >= batchSize {
			flush()
		}
	}
	flush()
	return nil
}

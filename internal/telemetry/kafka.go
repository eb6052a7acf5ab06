package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/driver-agent/internal/models"
)

// KafkaPublisher mirrors accepted location fixes onto a fleet telemetry
// topic, keyed by driver id so a partition keeps one driver's fixes in
// order.
type KafkaPublisher struct {
	driverID string
	writer   *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic, driverID string) *KafkaPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaPublisher{driverID: driverID, writer: w}
}

type fixEvent struct {
	DriverID string                `json:"driver_id"`
	Fix      models.LocationSample `json:"fix"`
}

func (k *KafkaPublisher) PublishFix(ctx context.Context, s models.LocationSample) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(fixEvent{DriverID: k.driverID, Fix: s})
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(k.driverID), Value: b})
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

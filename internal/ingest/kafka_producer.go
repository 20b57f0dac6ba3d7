package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/taxi-dispatch/internal/models"
)

// KafkaProducer streams accepted location samples to the ingest topic for
// downstream consumers (the Redis GEO updater, analytics).
type KafkaProducer struct {
	writer *kafka.Writer
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w}
}

// PublishLocation is called off the hot path; errors bubble to the
// persister's retry loop.
func (k *KafkaProducer) PublishLocation(ctx context.Context, s models.LocationSample) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(s)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(s.DriverID), Value: b})
}

// SaveDriverLocation adapts the producer to the location store's
// persister interface.
func (k *KafkaProducer) SaveDriverLocation(ctx context.Context, s models.LocationSample) error {
	return k.PublishLocation(ctx, s)
}

// RemoveDriverLocation publishes an offline tombstone so downstream
// consumers drop the driver from their indexes.
func (k *KafkaProducer) RemoveDriverLocation(ctx context.Context, driverID string) error {
	return k.PublishLocation(ctx, models.LocationSample{
		DriverID:  driverID,
		Timestamp: time.Now(),
		Status:    models.StatusOffline,
	})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/models"
)

const publishTimeout = 2 * time.Second

// DriverLocationEvent mirrors driver position updates onto the
// driver-locations topic for the consumer to fold into the Redis geo index.
type DriverLocationEvent struct {
	DriverID  string  `json:"driver_id"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	Available bool    `json:"available"`
}

// MovementTrigger asks the consumer to simulate movement for a ride.
type MovementTrigger struct {
	RideID string `json:"ride_id"`
}

// LocationProducer publishes driver location events keyed by driver id.
type LocationProducer struct {
	writer *kafka.Writer
}

func NewLocationProducer(brokers []string, topic string) *LocationProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &LocationProducer{writer: w}
}

func (p *LocationProducer) PublishDriverLocation(d models.Profile) error {
	if !d.HasLocation() {
		return nil
	}
	ev := DriverLocationEvent{DriverID: d.ID, Lat: d.Loc.Lat, Lon: d.Loc.Lon, Available: d.Available}
	return publish(p.writer, d.ID, ev)
}

func (p *LocationProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// MovementProducer enqueues movement-simulation triggers keyed by ride id.
// Scheduling is fire-and-forget; duplicate triggers are tolerable.
type MovementProducer struct {
	writer *kafka.Writer
}

func NewMovementProducer(brokers []string, topic string) *MovementProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &MovementProducer{writer: w}
}

func (p *MovementProducer) Schedule(ctx context.Context, rideID string) error {
	return publish(p.writer, rideID, MovementTrigger{RideID: rideID})
}

func (p *MovementProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func publish(w *kafka.Writer, key string, v any) error {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: b})
}

// Package telemetry publishes room and ride transition events for downstream
// analytics consumers.
package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/taxipool/internal/models"
)

// Event is one membership or ride transition, keyed by room so a partition
// sees a room's events in order.
type Event struct {
	Type      string            `json:"type"`
	RoomID    string            `json:"roomId"`
	UserKey   string            `json:"userKey"`
	Stage     models.RideStage  `json:"stage,omitempty"`
	Status    models.RoomStatus `json:"status,omitempty"`
	Timestamp string            `json:"timestamp"`
}

const (
	EventRoomJoined    = "room_joined"
	EventRoomLeft      = "room_left"
	EventRoomCompleted = "room_completed"
	EventStageChanged  = "stage_changed"
	EventRoomsSynced   = "rooms_synced"
)

// Publisher sinks transition events. The agent treats publishing as
// best-effort; a sink error never blocks reconciliation.
type Publisher interface {
	Publish(event Event) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaPublisher{writer: w}
}

func (k *KafkaPublisher) Publish(event Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	b, _ := json.Marshal(event)
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(event.RoomID), Value: b})
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// NopPublisher drops events; used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) Publish(Event) error { return nil }
func (NopPublisher) Close() error        { return nil }

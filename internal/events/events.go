// Package events publishes run lifecycle events (start, checkpoints,
// finish) to a watermill publisher so that external tooling can follow a
// run without parsing its logs.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Topic is the topic every lifecycle event is published on.
const Topic = "meshrun.lifecycle"

// Metadata keys set on every message.
const (
	MetadataType  = "event_type"
	MetadataRunID = "run_id"
)

// Type identifies a lifecycle event.
type Type string

const (
	RunStarted        Type = "run.started"
	CheckpointWritten Type = "checkpoint.written"
	RunFinished       Type = "run.finished"
)

// Event is the JSON payload of a lifecycle message.
type Event struct {
	Type     Type           `json:"type"`
	RunID    string         `json:"run_id"`
	Rank     int            `json:"rank"`
	Timestep int            `json:"timestep"`
	Time     time.Time      `json:"time"`
	Data     map[string]any `json:"data,omitempty"`
}

// Publisher sends lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

// Watermill publishes events as JSON messages through a watermill publisher.
type Watermill struct {
	pub message.Publisher
}

func NewWatermill(pub message.Publisher) *Watermill {
	return &Watermill{pub: pub}
}

func (w *Watermill) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", e.Type, err)
	}
	msg := message.NewMessage("msg-"+watermill.NewULID(), payload)
	msg.Metadata.Set(MetadataType, string(e.Type))
	msg.Metadata.Set(MetadataRunID, e.RunID)
	msg.SetContext(ctx)
	if err := w.pub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", e.Type, err)
	}
	return nil
}

func (w *Watermill) Close() error {
	return w.pub.Close()
}

// NewGoChannel returns an in-process pub/sub, mainly useful for tests and
// for embedding the runner in another Go program.
func NewGoChannel(logger *slog.Logger) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{}, watermill.NewSlogLogger(logger))
}

// NewKafka returns a publisher writing to the given Kafka brokers.
func NewKafka(brokers []string, logger *slog.Logger) (message.Publisher, error) {
	pub, err := kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		watermill.NewSlogLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}
	return pub, nil
}
